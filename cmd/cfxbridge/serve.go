package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RobertWHurst/cfxbridge"
	"github.com/RobertWHurst/cfxbridge/encoders/gzip"
	"github.com/RobertWHurst/cfxbridge/encoders/json"
	"github.com/RobertWHurst/cfxbridge/encoders/msgpack"
	"github.com/RobertWHurst/cfxbridge/encoders/protobuf"
	"github.com/RobertWHurst/cfxbridge/internal/config"
	"github.com/RobertWHurst/cfxbridge/internal/host"
	"github.com/RobertWHurst/cfxbridge/internal/logging"
	"github.com/RobertWHurst/cfxbridge/transports/amqp"
	"github.com/RobertWHurst/cfxbridge/transports/loopback"
	"github.com/RobertWHurst/cfxbridge/transports/nats"
)

type serveFlags struct {
	configPath string
	listen     string
	noStdio    bool
}

func newServeCmd() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the bridge control surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&flags.listen, "listen", "", "Websocket listen address, overrides host.listen")
	cmd.Flags().BoolVar(&flags.noStdio, "no-stdio", false, "Disable the stdio front end")
	return cmd
}

func runServe(cmd *cobra.Command, flags serveFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flags.listen != "" {
		cfg.Host.Listen = flags.listen
	}
	if flags.noStdio {
		cfg.Host.Stdio = false
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	bridge, err := buildBridge(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("bridge ready",
		zap.String("mode", bridge.Mode().String()),
		zap.String("transport", cfg.Transport.Kind))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Host.Stdio {
		g.Go(func() error {
			err := host.ServeStdio(gctx, bridge, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
			if err == nil {
				// stdin closing means the hosting process is gone.
				stop()
			}
			return err
		})
	}
	if cfg.Host.Listen != "" {
		server := host.NewServer(bridge, logger)
		g.Go(func() error { return server.ListenAndServe(gctx, cfg.Host.Listen) })
	}

	err = g.Wait()
	if closeErr := bridge.Close(context.Background()); closeErr != nil {
		logger.Warn("endpoints closed with errors", zap.Error(closeErr))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func buildBridge(cfg *config.Config, logger *zap.Logger) (*cfxbridge.Bridge, error) {
	mode, err := cfxbridge.ParseRegistryMode(cfg.Bridge.Mode)
	if err != nil {
		return nil, err
	}
	policy, err := cfxbridge.ParseHandlerPolicy(cfg.Bridge.HandlerPolicy)
	if err != nil {
		return nil, err
	}
	transport, err := buildTransport(cfg.Transport)
	if err != nil {
		return nil, err
	}
	return cfxbridge.New(transport,
		cfxbridge.WithMode(mode),
		cfxbridge.WithHandlerPolicy(policy),
		cfxbridge.WithLogger(logger),
	), nil
}

// buildTransport builds the configured transport. Every codec is
// registered so frames from peers using any of them decode.
func buildTransport(cfg config.TransportConfig) (cfxbridge.Transport, error) {
	codecs := []cfxbridge.Codec{json.New(), gzip.New(), msgpack.New(), protobuf.New()}

	switch cfg.Kind {
	case config.TransportLoopback:
		return loopback.New(loopback.NewBroker(cfg.LoopbackHosts...), codecs...), nil
	case config.TransportNATS:
		t := nats.NewNatsTransport(codecs...)
		t.DialTimeout = cfg.DialTimeout
		return t, nil
	case config.TransportAMQP:
		t := amqp.New(codecs...)
		t.DialTimeout = cfg.DialTimeout
		return t, nil
	}
	return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
}

