package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RobertWHurst/cfxbridge"
	"github.com/RobertWHurst/cfxbridge/transports/loopback"
)

func dialTestServer(t *testing.T, bridge *cfxbridge.Bridge) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(NewServer(bridge, nil).Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, srv
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return frame
}

func TestWebsocketSession(t *testing.T) {
	bridge := cfxbridge.New(loopback.New(loopback.NewBroker()))
	defer bridge.Close(context.Background())
	conn, _ := dialTestServer(t, bridge)

	requests := []Request{
		{ID: "1", Op: OpOpen, Handle: "line1"},
		{ID: "2", Op: OpRegisterListener, Handle: "line1"},
		{ID: "3", Op: OpAddSubscribeChannel, Handle: "line1", BrokerURI: "amqp://broker", SourceQueue: "loop"},
		{ID: "4", Op: OpPublish, Handle: "line1", BrokerURI: "amqp://broker", AMQPTarget: "loop", DataJSON: `{"MessageName":"Echo"}`},
	}
	for _, req := range requests {
		if err := conn.WriteJSON(req); err != nil {
			t.Fatalf("WriteJSON failed: %v", err)
		}
	}

	var responses, events int
	for responses < len(requests) || events < 1 {
		frame := readFrame(t, conn)
		if _, ok := frame["event"]; ok {
			events++
			if frame["handle"] != "line1" || !strings.Contains(frame["payload"].(string), "Echo") {
				t.Errorf("Unexpected event %v", frame)
			}
			continue
		}
		responses++
		if frame["ok"] != true {
			t.Errorf("Request %v failed: %v", frame["id"], frame["error"])
		}
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for len(bridge.Handles()) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if handles := bridge.Handles(); len(handles) != 0 {
		t.Errorf("Expected endpoints closed on disconnect, got %v", handles)
	}
}

func TestHealthz(t *testing.T) {
	bridge := cfxbridge.New(loopback.New(loopback.NewBroker()))
	defer bridge.Close(context.Background())
	if err := bridge.OpenCFXEndpoint(context.Background(), cfxbridge.OpenRequest{Handle: "line1"}); err != nil {
		t.Fatalf("OpenCFXEndpoint failed: %v", err)
	}

	rec := httptest.NewRecorder()
	NewServer(bridge, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body struct {
		Status  string   `json:"status"`
		Mode    string   `json:"mode"`
		Handles []string `json:"handles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid body: %v", err)
	}
	if body.Status != "ok" || body.Mode != "multiplexed" || len(body.Handles) != 1 {
		t.Errorf("Unexpected health %+v", body)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	bridge := cfxbridge.New(loopback.New(loopback.NewBroker()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewServer(bridge, nil).ListenAndServe(ctx, "127.0.0.1:0")
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Server did not stop on cancel")
	}
}
