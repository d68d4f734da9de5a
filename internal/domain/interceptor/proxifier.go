package interceptor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// connectTimeout bounds establishing a relay connection through the proxy.
const connectTimeout = 10 * time.Second

// BufferStrategyConfig configures the buffer strategy.
type BufferStrategyConfig struct {
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// SuffixStrategyConfig configures the suffix strategy.
type SuffixStrategyConfig struct {
	BufferSize int    `mapstructure:"buffer_size" yaml:"buffer_size"`
	Value      string `mapstructure:"value" yaml:"value"`
}

// StrategiesConfig holds the settings of every strategy; only the selected
// one is used.
type StrategiesConfig struct {
	Buffer BufferStrategyConfig `mapstructure:"buffer" yaml:"buffer"`
	Suffix SuffixStrategyConfig `mapstructure:"suffix" yaml:"suffix"`
	Length struct{}             `mapstructure:"length" yaml:"length"`
}

// ProxifierConfig configures the proxifier interceptor.
type ProxifierConfig struct {
	ProxyHost            string           `mapstructure:"proxy_host" yaml:"proxy_host"`
	ProxyPort            int              `mapstructure:"proxy_port" yaml:"proxy_port"`
	ServerHost           string           `mapstructure:"server_host" yaml:"server_host"`
	ServerPort           int              `mapstructure:"server_port" yaml:"server_port"`
	Strategy             string           `mapstructure:"strategy" yaml:"strategy"`
	Strategies           StrategiesConfig `mapstructure:"strategies" yaml:"strategies"`
	AutoCloseConnections bool             `mapstructure:"auto_close_connections" yaml:"auto_close_connections"`
	MultipleConnections  bool             `mapstructure:"multiple_connections" yaml:"multiple_connections"`
}

// DefaultProxifierConfig returns the default proxifier settings.
func DefaultProxifierConfig() ProxifierConfig {
	return ProxifierConfig{
		ProxyHost:  "127.0.0.1",
		ProxyPort:  8888,
		ServerHost: "127.0.0.1",
		ServerPort: 25500,
		Strategy:   StrategyLength,
		Strategies: StrategiesConfig{
			Buffer: BufferStrategyConfig{BufferSize: 65536},
			Suffix: SuffixStrategyConfig{BufferSize: 65536, Value: "[D_END]"},
		},
		AutoCloseConnections: true,
		MultipleConnections:  true,
	}
}

// relayConn is a pair of sockets joined through the external proxy: client
// is dialed to the proxy, server is its accepted counterpart on the local
// listener.
type relayConn struct {
	id       string
	client   net.Conn
	server   net.Conn
	strategy Strategy
	mu       sync.Mutex
}

// c2s pushes data from the client side and returns what reaches the server.
func (c *relayConn) c2s(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy.Relay(data, c.client, c.server)
}

// s2c pushes data from the server side and returns what reaches the client.
func (c *relayConn) s2c(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy.Relay(data, c.server, c.client)
}

func (c *relayConn) Close() error {
	return errors.Join(c.server.Close(), c.client.Close())
}

// Proxifier relays every payload through an external TCP proxy, letting a
// regular intercepting proxy see and edit traffic of arbitrary processes.
// The proxy is expected to forward connections to the local relay listener.
type Proxifier struct {
	cfg      ProxifierConfig
	relay    *SharedListener
	listener net.Listener
	logger   *slog.Logger

	conns *pool[*relayConn]
}

// NewProxifier validates cfg and acquires the relay listener from
// listeners. A nil set gives the proxifier a listener of its own.
func NewProxifier(cfg ProxifierConfig, listeners *ListenerSet, logger *slog.Logger) (*Proxifier, error) {
	if _, err := NewStrategy(cfg.Strategy, cfg.Strategies); err != nil {
		return nil, fmt.Errorf("proxifier: %w", err)
	}
	if listeners == nil {
		listeners = NewListenerSet()
	}
	addr := net.JoinHostPort(cfg.ServerHost, strconv.Itoa(cfg.ServerPort))
	relay, err := listeners.Acquire(addr)
	if err != nil {
		return nil, fmt.Errorf("proxifier: listen on %s: %w", addr, err)
	}
	ln := relay.Listener()
	logger.Info("proxifier relay listening", "addr", ln.Addr().String())
	return &Proxifier{
		cfg:      cfg,
		relay:    relay,
		listener: ln,
		logger:   logger,
		conns:    newPool[*relayConn](),
	}, nil
}

// Addr returns the relay listener address.
func (p *Proxifier) Addr() net.Addr { return p.listener.Addr() }

func (p *Proxifier) Name() string { return "proxifier" }

func (p *Proxifier) Intercept(ctx context.Context, msg *intercept.Message) error {
	id := connectionID(msg, p.cfg.MultipleConnections)

	switch msg.Kind {
	case intercept.KindClose:
		p.closeConnection(id)
		return nil
	case intercept.KindSend, intercept.KindRecv:
	default:
		return nil
	}

	c, err := p.conns.get(id, func() (*relayConn, error) { return p.connect(ctx, id) })
	if err != nil {
		return fmt.Errorf("proxifier: connection %s: %w", id, err)
	}

	var out []byte
	if msg.Kind == intercept.KindSend {
		out, err = c.c2s(msg.Data)
	} else {
		out, err = c.s2c(msg.Data)
	}
	if err != nil {
		// A broken relay is dropped so the next message reconnects.
		if rc, ok := p.conns.remove(id); ok {
			_ = rc.Close()
		}
		return fmt.Errorf("proxifier: connection %s: %w", id, err)
	}
	msg.Data = out
	return nil
}

// connect dials the proxy and accepts the forwarded connection on the
// listener concurrently.
func (p *Proxifier) connect(ctx context.Context, id string) (*relayConn, error) {
	p.relay.lockSetup()
	defer p.relay.unlockSetup()

	strategy, err := NewStrategy(p.cfg.Strategy, p.cfg.Strategies)
	if err != nil {
		return nil, err
	}

	type accepted struct {
		c   net.Conn
		err error
	}
	acceptc := make(chan accepted, 1)
	if tl, ok := p.listener.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(connectTimeout))
	}
	go func() {
		c, err := p.listener.Accept()
		acceptc <- accepted{c: c, err: err}
	}()

	dialer := net.Dialer{Timeout: connectTimeout}
	proxyAddr := net.JoinHostPort(p.cfg.ProxyHost, strconv.Itoa(p.cfg.ProxyPort))
	client, dialErr := dialer.DialContext(ctx, "tcp", proxyAddr)
	if dialErr != nil {
		// Unblock the pending Accept before returning.
		if tl, ok := p.listener.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now())
		}
	}
	a := <-acceptc
	if dialErr != nil {
		if a.c != nil {
			a.c.Close()
		}
		return nil, fmt.Errorf("dial proxy %s: %w", proxyAddr, dialErr)
	}
	if a.err != nil {
		client.Close()
		return nil, fmt.Errorf("accept relay connection: %w", a.err)
	}

	p.logger.Info("relay connection started", "connection_id", id)
	return &relayConn{id: id, client: client, server: a.c, strategy: strategy}, nil
}

func (p *Proxifier) closeConnection(id string) {
	if !p.cfg.AutoCloseConnections || id == DefaultConnectionID {
		return
	}
	c, ok := p.conns.remove(id)
	if !ok {
		return
	}
	p.logger.Info("relay connection closed by close event", "connection_id", id)
	if err := c.Close(); err != nil {
		p.logger.Debug("relay connection close failed", "connection_id", id, "error", err)
	}
}

// Close stops every relay connection and releases the listener.
func (p *Proxifier) Close() error {
	return errors.Join(p.conns.closeAll(), p.relay.Release())
}
