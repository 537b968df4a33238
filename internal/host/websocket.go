package host

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/RobertWHurst/cfxbridge"
)

const (
	writeWait       = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients are local processes, not browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the control protocol over websockets. Each websocket
// connection is its own Session; every text message is one request.
type Server struct {
	bridge *cfxbridge.Bridge
	logger *zap.Logger
	router chi.Router
}

// NewServer creates a Server routing /ws and /healthz.
func NewServer(bridge *cfxbridge.Bridge, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		bridge: bridge,
		logger: logger,
		router: chi.NewRouter(),
	}
	s.router.Use(middleware.Recoverer)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/ws", s.handleWebsocket)
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("websocket front end listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"mode":    s.bridge.Mode().String(),
		"handles": s.bridge.Handles(),
	})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.logger.Info("websocket client connected", zap.String("remote", remote))

	session := NewSession(s.bridge, func(frame any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(frame)
	}, s.logger)
	defer session.Close(context.WithoutCancel(r.Context()))

	// Closing the connection unblocks ReadMessage when the server stops.
	stop := context.AfterFunc(r.Context(), func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", zap.String("remote", remote), zap.Error(err))
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := session.HandleLine(r.Context(), data); err != nil {
			s.logger.Warn("websocket write failed", zap.String("remote", remote), zap.Error(err))
			break
		}
	}
	s.logger.Info("websocket client disconnected", zap.String("remote", remote))
}
