// Package intercept provides the message types exchanged between hooked calls
// and the decision engine, plus the CBOR wire codec used to carry them.
package intercept

import (
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
)

// Kind identifies which side of a connection a message was captured on.
type Kind string

const (
	// KindSend is data leaving the process (client to server).
	KindSend Kind = "s"
	// KindRecv is data that just arrived (server to client).
	KindRecv Kind = "r"
	// KindClose signals that a connection is being closed. It carries no data.
	KindClose Kind = "c"
)

// String returns a human readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindSend:
		return "send"
	case KindRecv:
		return "recv"
	case KindClose:
		return "close"
	default:
		return "unknown(" + string(k) + ")"
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindSend || k == KindRecv || k == KindClose
}

// ExpectsResponse reports whether a message of this kind blocks for a reply.
func (k Kind) ExpectsResponse() bool {
	return k == KindSend || k == KindRecv
}

// Tag is a metadata key from the fixed vocabulary.
type Tag string

const (
	TagSocket          Tag = "s"
	TagProtocol        Tag = "p"
	TagConnectionID    Tag = "ci"
	TagSourceIP        Tag = "csi"
	TagSourcePort      Tag = "csp"
	TagSourcePath      Tag = "cspa"
	TagDestinationIP   Tag = "cdi"
	TagDestinationPort Tag = "cdp"
	TagDestinationPath Tag = "cdpa"
	TagModule          Tag = "m"
)

// Tags lists the vocabulary in canonical order. Metadata iteration follows it.
var Tags = []Tag{
	TagSocket,
	TagProtocol,
	TagConnectionID,
	TagSourceIP,
	TagSourcePort,
	TagSourcePath,
	TagDestinationIP,
	TagDestinationPort,
	TagDestinationPath,
	TagModule,
}

// Metadata maps tags to values. Values are strings or integers.
type Metadata map[Tag]any

// Each calls fn for every present tag in canonical order.
func (m Metadata) Each(fn func(tag Tag, value any)) {
	for _, tag := range Tags {
		if v, ok := m[tag]; ok {
			fn(tag, v)
		}
	}
}

// String returns the value for tag formatted as a string, or "" if absent.
func (m Metadata) String(tag Tag) string {
	v, ok := m[tag]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		if n, ok := toInt64(v); ok {
			return strconv.FormatInt(n, 10)
		}
		return fmt.Sprint(v)
	}
}

// Int returns the value for tag as an integer. Decoded CBOR and JSON values
// arrive as uint64, int64 or float64; all are accepted.
func (m Metadata) Int(tag Tag) (int64, bool) {
	v, ok := m[tag]
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// Clone returns a shallow copy.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// Message is one intercepted event. Messages are created per hooked call and
// are not modified after they have been dispatched, except by engine-side
// interceptors operating on their own decoded copy.
type Message struct {
	ID       string
	Kind     Kind
	Metadata Metadata
	// Data is a private copy of the captured payload. Nil for KindClose.
	Data []byte
}

// NewMessage creates a message with a fresh id. The payload is copied so the
// message never aliases memory owned by the instrumented call.
func NewMessage(kind Kind, md Metadata, data []byte) *Message {
	msg := &Message{
		ID:       uuid.NewString(),
		Kind:     kind,
		Metadata: md,
	}
	if kind != KindClose {
		msg.Data = Copy(data)
	}
	return msg
}

// EnsureID assigns a fresh id if the message has none.
func (m *Message) EnsureID() {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
}

// ConnectionID returns the connection id tag, or "" if absent.
func (m *Message) ConnectionID() string {
	return m.Metadata.String(TagConnectionID)
}

// Response carries the replacement payload for a Send or Recv message.
type Response struct {
	ID   string
	Data []byte
}

// NewResponse builds the reply to msg carrying its current payload.
func NewResponse(msg *Message) *Response {
	return &Response{ID: msg.ID, Data: msg.Data}
}

// Copy returns an independent copy of b. A nil or empty input yields a
// non-nil empty slice so "empty payload" and "no payload" stay distinct.
func Copy(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
