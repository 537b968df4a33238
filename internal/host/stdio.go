package host

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/RobertWHurst/cfxbridge"
)

// MaxLineSize bounds a single request line.
const MaxLineSize = 1024 * 1024

// ServeStdio reads requests from r one per line and writes responses and
// events to w until r is exhausted or ctx is done.
func ServeStdio(ctx context.Context, bridge *cfxbridge.Bridge, r io.Reader, w io.Writer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	enc := json.NewEncoder(w)
	session := NewSession(bridge, func(frame any) error { return enc.Encode(frame) }, logger)
	defer session.Close(context.WithoutCancel(ctx))

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	logger.Info("stdio front end ready")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read stdin: %w", err)
					}
				default:
				}
				logger.Info("stdin closed")
				return nil
			}
			if len(line) == 0 {
				continue
			}
			if err := session.HandleLine(ctx, line); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					return nil
				}
				return fmt.Errorf("write stdout: %w", err)
			}
		}
	}
}
