package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/tapgate/internal/adapter/inbound/netconn"
	"github.com/Sentinel-Gate/tapgate/internal/adapter/outbound/channel"
	"github.com/Sentinel-Gate/tapgate/internal/config"
	"github.com/Sentinel-Gate/tapgate/internal/domain/buffer"
	"github.com/Sentinel-Gate/tapgate/internal/domain/protocol"
	"github.com/Sentinel-Gate/tapgate/internal/port/outbound"
	"github.com/Sentinel-Gate/tapgate/internal/service"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Intercept a TCP connection through the interceptor chain",
	Long: `Accept TCP connections and forward them to an upstream address. Every
buffer written to or read from the upstream goes through the interceptor
chain, exactly like the traffic of a hooked process.

Without --engine the configured chain runs in-process. With --engine the
relay sends its traffic to a running "tapgate serve".

Examples:
  # Rewrite traffic to a local service with the configured chain
  tapgate relay --listen 127.0.0.1:8080 --upstream 127.0.0.1:80

  # Use a running engine
  tapgate relay --upstream example.com:80 --engine 127.0.0.1:27042`,
	RunE: runRelay,
}

var (
	relayListen   string
	relayUpstream string
	relayEngine   string
)

func init() {
	relayCmd.Flags().StringVar(&relayListen, "listen", "127.0.0.1:8080", "address to accept connections on")
	relayCmd.Flags().StringVar(&relayUpstream, "upstream", "", "address to forward connections to")
	relayCmd.Flags().StringVar(&relayEngine, "engine", "", "remote engine address (default: run the chain in-process)")
	_ = relayCmd.MarkFlagRequired("upstream")
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	policy, err := buffer.ParseOverflowPolicy(cfg.Intercept.Overflow)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()
	logger := newLogger(os.Stderr, cfg.LogLevel())

	ch, closeCh, err := relayChannel(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCh()

	ln, err := net.Listen("tcp", relayListen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", relayListen, err)
	}
	logger.Info("relay listening", "addr", ln.Addr().String(), "upstream", relayUpstream)

	r := &relay{
		upstream: relayUpstream,
		client: protocol.NewClient(ch,
			protocol.WithTimeout(cfg.Intercept.TimeoutDuration()),
			protocol.WithLogger(logger),
		),
		policy: policy,
		logger: logger,
	}
	return r.serve(ctx, ln)
}

// relayChannel returns the channel to the engine: a stream to a remote one,
// or a local channel in front of an in-process router.
func relayChannel(ctx context.Context, cfg *config.Config, logger *slog.Logger) (outbound.Channel, func(), error) {
	if relayEngine != "" {
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", relayEngine)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to engine %s: %w", relayEngine, err)
		}
		s := channel.NewStream(c, logger)
		return s, func() { _ = s.Close() }, nil
	}

	builder, err := newChainBuilder(logger)
	if err != nil {
		return nil, nil, err
	}
	chain, err := builder.build(cfg)
	if err != nil {
		return nil, nil, err
	}
	router := service.NewRouter(chain, service.WithRouterLogger(logger))
	local := channel.NewLocal(router, logger)
	return local, func() {
		_ = local.Close()
		_ = router.Close()
	}, nil
}

// relay forwards accepted connections to upstream through wrapped conns.
type relay struct {
	upstream string
	client   protocol.Interceptor
	policy   buffer.OverflowPolicy
	logger   *slog.Logger
}

// serve accepts until ctx is cancelled, then waits for open relays.
func (r *relay) serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.handle(ctx, c)
		}()
	}
}

func (r *relay) handle(ctx context.Context, down net.Conn) {
	defer down.Close()

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", r.upstream)
	if err != nil {
		r.logger.Warn("upstream unreachable", "upstream", r.upstream, "error", err)
		return
	}
	up := netconn.Wrap(raw, "relay", r.client,
		netconn.WithContext(ctx),
		netconn.WithOverflowPolicy(r.policy),
		netconn.WithLogger(r.logger),
	)
	defer up.Close()
	r.logger.Debug("relay opened", "connection_id", up.Metadata().ConnectionID, "client", down.RemoteAddr().String())

	stop := context.AfterFunc(ctx, func() {
		_ = down.Close()
		_ = up.Close()
	})
	defer stop()

	// Either side ending tears down both.
	var wg sync.WaitGroup
	pipe := func(dst io.Writer, src io.Reader) {
		defer wg.Done()
		_, _ = io.Copy(dst, src)
		_ = down.Close()
		_ = up.Close()
	}
	wg.Add(2)
	go pipe(up, down)
	go pipe(down, up)
	wg.Wait()
	r.logger.Debug("relay closed", "connection_id", up.Metadata().ConnectionID)
}
