package supervisor

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/victorarias/jelly-j/internal/protocol"
)

func TestProbeSucceedsAgainstFakeDaemon(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "daemon.sock")
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		dec := protocol.NewDecoder(conn)
		enc := protocol.NewEncoder(conn)

		typ, raw, err := dec.ReadFrame()
		if err != nil || typ != protocol.TypeRegisterClient {
			return
		}
		frame, err := protocol.DecodeAndValidate(typ, raw)
		if err != nil {
			return
		}
		rc := frame.(*protocol.RegisterClient)
		_ = enc.WriteFrame(protocol.Registered{Type: protocol.TypeRegistered, ClientID: rc.ClientID, Model: "opus"})
		_ = enc.WriteFrame(protocol.HistorySnapshot{Type: protocol.TypeHistorySnapshot})

		typ2, raw2, err := dec.ReadFrame()
		if err != nil || typ2 != protocol.TypePing {
			return
		}
		frame2, err := protocol.DecodeAndValidate(typ2, raw2)
		if err != nil {
			return
		}
		ping := frame2.(*protocol.Ping)
		_ = enc.WriteFrame(protocol.Pong{Type: protocol.TypePong, RequestID: ping.RequestID})
	}()

	require.NoError(t, Probe(sockPath))
}

func TestProbeFailsAgainstMissingSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "no-such.sock")
	require.Error(t, Probe(sockPath))
	_ = os.Remove(sockPath)
}
