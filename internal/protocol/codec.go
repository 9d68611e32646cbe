package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/victorarias/jelly-j/internal/jellyerr"
)

const maxLineBytes = 1 << 20 // 1 MiB; generous headroom over a single turn's text

// Decoder reads NDJSON frames from a client connection, one JSON object
// per line (§4.2: "no frame may contain a bare newline internally").
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), maxLineBytes)
	return &Decoder{scanner: scanner}
}

// ReadFrame reads the next line and returns its declared Type and raw
// bytes for further decoding by the caller. io.EOF is returned verbatim
// when the connection closes cleanly.
func (d *Decoder) ReadFrame() (Type, []byte, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return "", nil, jellyerr.Wrap(err, jellyerr.IO, "read frame")
		}
		return "", nil, io.EOF
	}

	line := append([]byte(nil), d.scanner.Bytes()...)

	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return "", line, jellyerr.Wrap(err, jellyerr.Protocol, "malformed frame")
	}
	return env.Type, line, nil
}

// DecodeAndValidate decodes raw into the concrete struct for t and
// schema-validates it, returning a protocol-kind error on either failure.
func DecodeAndValidate(t Type, raw []byte) (interface{}, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, jellyerr.Wrap(err, jellyerr.Protocol, "malformed frame")
	}
	if err := ValidateInbound(t, generic); err != nil {
		return nil, jellyerr.Wrap(err, jellyerr.Protocol, "frame failed schema validation")
	}

	target, err := newInboundTarget(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, jellyerr.Wrap(err, jellyerr.Protocol, "malformed frame")
	}
	return target, nil
}

func newInboundTarget(t Type) (interface{}, error) {
	switch t {
	case TypeRegisterClient:
		return &RegisterClient{}, nil
	case TypeChatRequest:
		return &ChatRequest{}, nil
	case TypeSetModel:
		return &SetModel{}, nil
	case TypeNewSession:
		return &NewSession{}, nil
	case TypePing:
		return &Ping{}, nil
	case TypeGetConfig:
		return &GetConfig{}, nil
	default:
		return nil, jellyerr.Newf(jellyerr.Protocol, "unknown message type %q", t)
	}
}

// Encoder writes NDJSON frames to a client connection. Writes are
// serialized by a mutex so that a frame's bytes are never interleaved
// with another goroutine's write to the same connection (on the daemon
// side a registered connection has two writers: its registry write pump
// and its own read loop, which answers malformed frames directly).
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) WriteFrame(frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return jellyerr.Wrap(err, jellyerr.IO, "marshal frame")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	buf := bytes.NewBuffer(data)
	buf.WriteByte('\n')
	_, err = e.w.Write(buf.Bytes())
	if err != nil {
		return jellyerr.Wrap(err, jellyerr.IO, "write frame")
	}
	return nil
}
