package uiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/victorarias/jelly-j/internal/config"
	"github.com/victorarias/jelly-j/internal/jellyerr"
	"github.com/victorarias/jelly-j/internal/protocol"
)

// Session owns the socket connection: the register_client handshake, the
// background frame reader, and serialized frame writes. One Session per
// terminal pane (§4.9).
type Session struct {
	ClientID string

	conn net.Conn
	dec  *protocol.Decoder
	enc  *protocol.Encoder

	events chan interface{}
	closed chan struct{}
}

// Connect dials socketPath, sends register_client, and blocks until both
// registered and history_snapshot arrive or the handshake timeout trips
// (§4.9: "waits for registered and history_snapshot within a bounded
// handshake window; on timeout, prints an actionable error and exits
// nonzero").
func Connect(ctx context.Context, socketPath string) (*Session, *protocol.Registered, *protocol.HistorySnapshot, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, nil, nil, jellyerr.Wrap(err, jellyerr.IO, "connect to daemon socket")
	}

	s := &Session{
		ClientID: "jelly-j-" + uuid.NewString(),
		conn:     conn,
		dec:      protocol.NewDecoder(conn),
		enc:      protocol.NewEncoder(conn),
		events:   make(chan interface{}, 64),
		closed:   make(chan struct{}),
	}

	handshake := config.Default().Timeouts.Handshake()
	deadline := time.Now().Add(handshake)
	_ = conn.SetDeadline(deadline)

	if err := s.enc.WriteFrame(registerFrame(s.ClientID)); err != nil {
		conn.Close()
		return nil, nil, nil, jellyerr.Wrap(err, jellyerr.Timeout, "send register_client")
	}

	registered, err := awaitFrame[protocol.Registered](s.dec, protocol.TypeRegistered)
	if err != nil {
		conn.Close()
		return nil, nil, nil, jellyerr.Wrap(err, jellyerr.Timeout, "daemon did not complete handshake in time")
	}
	snapshot, err := awaitFrame[protocol.HistorySnapshot](s.dec, protocol.TypeHistorySnapshot)
	if err != nil {
		conn.Close()
		return nil, nil, nil, jellyerr.Wrap(err, jellyerr.Timeout, "daemon did not complete handshake in time")
	}

	_ = conn.SetDeadline(time.Time{})
	go s.readLoop()

	return s, &registered, &snapshot, nil
}

func registerFrame(clientID string) protocol.RegisterClient {
	hostname, _ := os.Hostname()
	cwd, _ := os.Getwd()
	return protocol.RegisterClient{
		Type:          protocol.TypeRegisterClient,
		ClientID:      clientID,
		ZellijSession: os.Getenv("ZELLIJ_SESSION_NAME"),
		ZellijEnv:     localZellijEnv(),
		CWD:           cwd,
		Hostname:      hostname,
		PID:           os.Getpid(),
	}
}

// localZellijEnv gathers the recognized Environment Context keys (§3) from
// this pane's own process environment, so a chat_request sent later
// carries the tuple the daemon needs to target this session specifically.
func localZellijEnv() map[string]interface{} {
	env := map[string]interface{}{}
	if v := os.Getenv("ZELLIJ_SESSION_NAME"); v != "" {
		env["sessionName"] = v
	}
	if v := os.Getenv("JELLY_J_IPC_SOCKET_PATH"); v != "" {
		env["ipcSocketPath"] = v
	}
	if v := os.Getenv("JELLY_J_MULTIPLEXER_BIN"); v != "" {
		env["binaryPath"] = v
	}
	if len(env) == 0 {
		return nil
	}
	return env
}

func awaitFrame[T any](dec *protocol.Decoder, want protocol.Type) (T, error) {
	var zero T
	typ, raw, err := dec.ReadFrame()
	if err != nil {
		return zero, err
	}
	if typ != want {
		return zero, jellyerr.Newf(jellyerr.Protocol, "expected %q, got %q", want, typ)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, jellyerr.Wrap(err, jellyerr.Protocol, "decode frame")
	}
	return out, nil
}

// readLoop decodes daemon->client frames into their concrete Go types and
// forwards them on s.events until the connection closes.
func (s *Session) readLoop() {
	defer close(s.closed)
	for {
		typ, raw, err := s.dec.ReadFrame()
		if err != nil {
			s.events <- connClosedMsg{err: err}
			return
		}
		frame, err := decodeOutbound(typ, raw)
		if err != nil {
			continue
		}
		s.events <- frame
	}
}

// connClosedMsg is delivered on s.events when the daemon connection ends.
type connClosedMsg struct{ err error }

func decodeOutbound(t protocol.Type, raw []byte) (interface{}, error) {
	var target interface{}
	switch t {
	case protocol.TypeStatusNote:
		target = &protocol.StatusNote{}
	case protocol.TypeChatStart:
		target = &protocol.ChatStart{}
	case protocol.TypeChatDelta:
		target = &protocol.ChatDelta{}
	case protocol.TypeToolUse:
		target = &protocol.ToolUse{}
	case protocol.TypeResultError:
		target = &protocol.ResultError{}
	case protocol.TypeChatEnd:
		target = &protocol.ChatEnd{}
	case protocol.TypeModelUpdated:
		target = &protocol.ModelUpdated{}
	case protocol.TypePong:
		target = &protocol.Pong{}
	case protocol.TypeError:
		target = &protocol.ErrorFrame{}
	case protocol.TypeConfig:
		target = &protocol.Config{}
	default:
		return nil, fmt.Errorf("unrecognized frame type %q", t)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, err
	}
	return target, nil
}

// Events exposes the decoded frame stream for the bubbletea model to pump.
func (s *Session) Events() <-chan interface{} {
	return s.events
}

func (s *Session) send(frame interface{}) error {
	return s.enc.WriteFrame(frame)
}

// SendChat submits a new user turn. requestID is minted by the caller so
// the model can correlate the eventual chat_start/chat_end pair.
func (s *Session) SendChat(requestID, text string) error {
	return s.send(protocol.ChatRequest{
		Type:      protocol.TypeChatRequest,
		RequestID: requestID,
		ClientID:  s.ClientID,
		Text:      text,
		ZellijEnv: localZellijEnv(),
	})
}

func (s *Session) SendSetModel(requestID, alias string) error {
	return s.send(protocol.SetModel{Type: protocol.TypeSetModel, RequestID: requestID, ClientID: s.ClientID, Alias: alias})
}

func (s *Session) SendNewSession(requestID string) error {
	return s.send(protocol.NewSession{Type: protocol.TypeNewSession, RequestID: requestID, ClientID: s.ClientID})
}

func (s *Session) SendGetConfig(requestID string) error {
	return s.send(protocol.GetConfig{Type: protocol.TypeGetConfig, RequestID: requestID, ClientID: s.ClientID})
}

func (s *Session) Close() error {
	return s.conn.Close()
}
