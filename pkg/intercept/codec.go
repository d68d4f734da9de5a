package intercept

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize is the hard limit on an encoded envelope (16 MiB).
const MaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// requestEnvelope is the wire shape of a Message. Integer keys keep frames small.
type requestEnvelope struct {
	ID       string         `cbor:"1,keyasint"`
	Kind     string         `cbor:"2,keyasint"`
	Metadata map[string]any `cbor:"3,keyasint,omitempty"`
	Data     []byte         `cbor:"4,keyasint"`
}

// responseEnvelope is the wire shape of a Response.
type responseEnvelope struct {
	ID   string `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("intercept: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1024,
		MaxMapPairs:      1024,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("intercept: cbor dec mode: %v", err))
	}
}

// EncodeMessage serializes a message to CBOR.
func EncodeMessage(msg *Message) ([]byte, error) {
	env := requestEnvelope{
		ID:   msg.ID,
		Kind: string(msg.Kind),
		Data: msg.Data,
	}
	if len(msg.Metadata) > 0 {
		env.Metadata = make(map[string]any, len(msg.Metadata))
		for k, v := range msg.Metadata {
			env.Metadata[string(k)] = v
		}
	}
	return encMode.Marshal(env)
}

// DecodeMessage parses a CBOR-encoded message.
func DecodeMessage(data []byte) (*Message, error) {
	var env requestEnvelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	kind := Kind(env.Kind)
	if !kind.Valid() {
		return nil, fmt.Errorf("decode message: unknown kind %q", env.Kind)
	}
	if env.ID == "" {
		return nil, errors.New("decode message: missing id")
	}
	msg := &Message{ID: env.ID, Kind: kind, Data: env.Data}
	msg.Metadata = make(Metadata, len(env.Metadata))
	for k, v := range env.Metadata {
		msg.Metadata[Tag(k)] = v
	}
	if kind != KindClose && msg.Data == nil {
		msg.Data = []byte{}
	}
	return msg, nil
}

// EncodeResponse serializes a response to CBOR.
func EncodeResponse(resp *Response) ([]byte, error) {
	data := resp.Data
	if data == nil {
		data = []byte{}
	}
	return encMode.Marshal(responseEnvelope{ID: resp.ID, Data: data})
}

// DecodeResponse parses a CBOR-encoded response.
func DecodeResponse(data []byte) (*Response, error) {
	var env responseEnvelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.ID == "" {
		return nil, errors.New("decode response: missing id")
	}
	if env.Data == nil {
		env.Data = []byte{}
	}
	return &Response{ID: env.ID, Data: env.Data}, nil
}

// FrameReader reads 4-byte big-endian length prefixed frames.
type FrameReader struct {
	r io.Reader
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame returns the next frame payload.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(fr.r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadMessage reads and decodes one message frame.
func (fr *FrameReader) ReadMessage() (*Message, error) {
	frame, err := fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeMessage(frame)
}

// ReadResponse reads and decodes one response frame.
func (fr *FrameReader) ReadResponse() (*Response, error) {
	frame, err := fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeResponse(frame)
}

// FrameWriter writes length prefixed frames. It is safe for concurrent use;
// each frame is written with a single Write call.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes one frame.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err := fw.w.Write(buf)
	return err
}

// WriteMessage encodes and writes a message.
func (fw *FrameWriter) WriteMessage(msg *Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return fw.WriteFrame(payload)
}

// WriteResponse encodes and writes a response.
func (fw *FrameWriter) WriteResponse(resp *Response) error {
	payload, err := EncodeResponse(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return fw.WriteFrame(payload)
}
