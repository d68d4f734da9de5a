package interceptor

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// PETEP frame types.
const (
	PetepConnectionInfo byte = 1
	PetepDataC2S        byte = 2
	PetepDataS2C        byte = 3
)

const defaultConnectionName = "Tapgate Connection"

// PetepConfig configures the PETEP interceptor.
type PetepConfig struct {
	PetepHost            string `mapstructure:"petep_host" yaml:"petep_host"`
	PetepPort            int    `mapstructure:"petep_port" yaml:"petep_port"`
	AutoCloseConnections bool   `mapstructure:"auto_close_connections" yaml:"auto_close_connections"`
	MultipleConnections  bool   `mapstructure:"multiple_connections" yaml:"multiple_connections"`
}

// DefaultPetepConfig returns the default PETEP settings.
func DefaultPetepConfig() PetepConfig {
	return PetepConfig{
		PetepHost:            "127.0.0.1",
		PetepPort:            8008,
		AutoCloseConnections: true,
		MultipleConnections:  true,
	}
}

// ConnectionInfo describes a connection to PETEP. Absent values are
// serialized as null.
type ConnectionInfo struct {
	ID              string
	Socket          *int64
	Protocol        *string
	Module          *string
	SourceIP        *string
	SourcePort      *int64
	SourcePath      *string
	DestinationIP   *string
	DestinationPort *int64
	DestinationPath *string
}

// ConnectionInfoFrom extracts connection info from msg's metadata. The
// default connection carries its id only.
func ConnectionInfoFrom(msg *intercept.Message, id string) ConnectionInfo {
	info := ConnectionInfo{ID: id}
	if id == DefaultConnectionID {
		return info
	}
	md := msg.Metadata
	str := func(tag intercept.Tag) *string {
		if _, ok := md[tag]; !ok {
			return nil
		}
		s := md.String(tag)
		return &s
	}
	num := func(tag intercept.Tag) *int64 {
		n, ok := md.Int(tag)
		if !ok {
			return nil
		}
		return &n
	}
	info.Socket = num(intercept.TagSocket)
	info.Protocol = str(intercept.TagProtocol)
	info.Module = str(intercept.TagModule)
	info.SourceIP = str(intercept.TagSourceIP)
	info.SourcePort = num(intercept.TagSourcePort)
	info.SourcePath = str(intercept.TagSourcePath)
	info.DestinationIP = str(intercept.TagDestinationIP)
	info.DestinationPort = num(intercept.TagDestinationPort)
	info.DestinationPath = str(intercept.TagDestinationPath)
	return info
}

// address renders one endpoint: ":port" for loopback, "ip:port", the bare
// ip, or the path.
func address(ip *string, port *int64, path *string) string {
	if ip != nil {
		if port == nil {
			return *ip
		}
		if *ip == "127.0.0.1" {
			return ":" + strconv.FormatInt(*port, 10)
		}
		return *ip + ":" + strconv.FormatInt(*port, 10)
	}
	if path != nil {
		return *path
	}
	return ""
}

func (c ConnectionInfo) nameSuffix() string {
	if c.ID == DefaultConnectionID {
		return ""
	}
	var s string
	if c.Module != nil {
		s += *c.Module
	}
	if c.Protocol != nil {
		s += "/" + *c.Protocol
	}
	if s == "" {
		return ""
	}
	return " (" + s + ")"
}

// Name is the human readable connection label shown in PETEP.
func (c ConnectionInfo) Name() string {
	if c.ID == DefaultConnectionID {
		return defaultConnectionName
	}
	src := address(c.SourceIP, c.SourcePort, c.SourcePath)
	dst := address(c.DestinationIP, c.DestinationPort, c.DestinationPath)
	if src == "" && dst == "" {
		return c.ID + c.nameSuffix()
	}
	if src == "" {
		src = "?"
	}
	if dst == "" {
		dst = "?"
	}
	return src + "<->" + dst + c.nameSuffix()
}

// MarshalJSON encodes the info in PETEP's field naming.
func (c ConnectionInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID              string  `json:"id"`
		Socket          *int64  `json:"socket"`
		Protocol        *string `json:"protocol"`
		Name            string  `json:"name"`
		SourceIP        *string `json:"sourceIp"`
		SourcePort      *int64  `json:"sourcePort"`
		SourcePath      *string `json:"sourcePath"`
		DestinationIP   *string `json:"destinationIp"`
		DestinationPort *int64  `json:"destinationPort"`
		DestinationPath *string `json:"destinationPath"`
		Module          *string `json:"module"`
	}{
		ID:              c.ID,
		Socket:          c.Socket,
		Protocol:        c.Protocol,
		Name:            c.Name(),
		SourceIP:        c.SourceIP,
		SourcePort:      c.SourcePort,
		SourcePath:      c.SourcePath,
		DestinationIP:   c.DestinationIP,
		DestinationPort: c.DestinationPort,
		DestinationPath: c.DestinationPath,
		Module:          c.Module,
	})
}

// WritePetepFrame writes [type][4-byte big-endian length][payload].
func WritePetepFrame(w io.Writer, typ byte, payload []byte) error {
	buf := make([]byte, 5+len(payload))
	buf[0] = typ
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[5:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadPetepFrame reads one frame written by WritePetepFrame.
func ReadPetepFrame(r io.Reader) (byte, []byte, error) {
	var typ [1]byte
	if _, err := io.ReadFull(r, typ[:]); err != nil {
		return 0, nil, lost(err)
	}
	payload, err := readLengthPrefixed(r)
	if err != nil {
		return 0, nil, err
	}
	return typ[0], payload, nil
}

type petepConn struct {
	info ConnectionInfo
	conn net.Conn
	mu   sync.Mutex
}

func (c *petepConn) exchange(typ byte, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := WritePetepFrame(c.conn, typ, data); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	_, payload, err := ReadPetepFrame(c.conn)
	return payload, err
}

func (c *petepConn) Close() error { return c.conn.Close() }

// Petep forwards payloads to a PETEP instance, one TCP connection per
// intercepted connection, and takes back whatever PETEP returns.
type Petep struct {
	cfg    PetepConfig
	logger *slog.Logger
	conns  *pool[*petepConn]
}

// NewPetep creates a PETEP interceptor. Connections are opened lazily.
func NewPetep(cfg PetepConfig, logger *slog.Logger) *Petep {
	return &Petep{cfg: cfg, logger: logger, conns: newPool[*petepConn]()}
}

func (p *Petep) Name() string { return "petep" }

func (p *Petep) Intercept(ctx context.Context, msg *intercept.Message) error {
	id := connectionID(msg, p.cfg.MultipleConnections)

	var typ byte
	switch msg.Kind {
	case intercept.KindSend:
		typ = PetepDataC2S
	case intercept.KindRecv:
		typ = PetepDataS2C
	case intercept.KindClose:
		p.closeConnection(id)
		return nil
	default:
		return nil
	}

	c, err := p.conns.get(id, func() (*petepConn, error) { return p.connect(ctx, msg, id) })
	if err != nil {
		return fmt.Errorf("petep: connection %s: %w", id, err)
	}
	out, err := c.exchange(typ, msg.Data)
	if err != nil {
		if pc, ok := p.conns.remove(id); ok {
			_ = pc.Close()
		}
		return fmt.Errorf("petep: connection %s: %w", id, err)
	}
	msg.Data = out
	return nil
}

func (p *Petep) connect(ctx context.Context, msg *intercept.Message, id string) (*petepConn, error) {
	info := ConnectionInfoFrom(msg, id)
	addr := net.JoinHostPort(p.cfg.PetepHost, strconv.Itoa(p.cfg.PetepPort))

	dialer := net.Dialer{Timeout: connectTimeout}
	c, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	body, err := json.Marshal(info)
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := WritePetepFrame(c, PetepConnectionInfo, body); err != nil {
		c.Close()
		return nil, fmt.Errorf("send connection info: %w", err)
	}
	p.logger.Info("petep connection started", "connection_id", id, "name", info.Name())
	return &petepConn{info: info, conn: c}, nil
}

func (p *Petep) closeConnection(id string) {
	if !p.cfg.AutoCloseConnections || id == DefaultConnectionID {
		return
	}
	c, ok := p.conns.remove(id)
	if !ok {
		return
	}
	p.logger.Info("petep connection closed by close event", "connection_id", id, "name", c.info.Name())
	_ = c.Close()
}

func (p *Petep) Close() error { return p.conns.closeAll() }
