package daemon

import (
	"context"
	"io"
	"net"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/victorarias/jelly-j/internal/jellyerr"
	"github.com/victorarias/jelly-j/internal/protocol"
	"github.com/victorarias/jelly-j/internal/registry"
)

// Server owns the Listening Endpoint (§3, §4.1): a Unix domain socket
// whose existence alone is not proof of liveness, so accept is always
// paired with the actor's own Run loop already being healthy.
type Server struct {
	Daemon *Daemon
	Logger *logrus.Entry

	listener net.Listener
}

// Listen binds socketPath, unlinking a stale socket left by a prior
// crash first (§4.1: "if the listening endpoint's path already exists
// after lock acquisition, it is from a prior crash; unlink and
// recreate").
func (s *Server) Listen(socketPath string) error {
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return jellyerr.Wrap(err, jellyerr.Fatal, "bind listening endpoint")
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = ln.Close()
		return jellyerr.Wrap(err, jellyerr.Fatal, "set socket permissions")
	}

	s.listener = ln
	return nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each connection runs its own read loop goroutine.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return jellyerr.Wrap(err, jellyerr.IO, "accept connection")
		}
		go s.handleConn(ctx, conn)
	}
}

// Close unlinks the socket. Best-effort, matching §4.1's shutdown
// ordering (stop accepting, close connections, flush history, remove
// socket, release lock — the lock itself is released by the caller).
func (s *Server) Close(socketPath string) {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	_ = os.Remove(socketPath)
}

// handleConn reads NDJSON frames from one connection and forwards valid,
// registered-client frames into the actor's inbox, preserving this
// client's receive order (§5's ordering guarantee). Malformed frames and
// frames arriving before registration get an immediate error reply
// without touching the actor at all (§7.1, §8 scenario 5).
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	dec := protocol.NewDecoder(conn)
	enc := protocol.NewEncoder(conn)

	var key registry.Key
	var registered bool

	for {
		typ, raw, err := dec.ReadFrame()
		if err != nil {
			if jellyerr.Is(err, jellyerr.Protocol) {
				_ = enc.WriteFrame(protocol.ErrorFrame{Type: protocol.TypeError, Message: err.Error()})
				continue
			}
			if err != io.EOF {
				s.Logger.WithError(err).Debug("frame read error")
			}
			break
		}

		frame, err := protocol.DecodeAndValidate(typ, raw)
		if err != nil {
			_ = enc.WriteFrame(protocol.ErrorFrame{Type: protocol.TypeError, Message: err.Error()})
			continue
		}

		if !registered {
			rc, ok := frame.(*protocol.RegisterClient)
			if !ok {
				_ = enc.WriteFrame(protocol.ErrorFrame{Type: protocol.TypeError, Message: "expected register_client as the first frame"})
				continue
			}
			resp := make(chan registry.Key, 1)
			s.Daemon.Submit(registerEvent{frame: *rc, enc: enc, resp: resp})
			key = <-resp
			registered = true
			continue
		}

		s.Daemon.Submit(frameEvent{key: key, frame: frame})
	}

	if registered {
		s.Daemon.Submit(disconnectEvent{key: key})
	}
}
