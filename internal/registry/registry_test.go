package registry

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorarias/jelly-j/internal/envctx"
	"github.com/victorarias/jelly-j/internal/protocol"
)

func newTestRegistry() *Registry {
	logger := logrus.New()
	logger.SetOutput(bytes.NewBuffer(nil))
	return New(logger.WithField("test", true))
}

func TestRegisterAndSend(t *testing.T) {
	reg := newTestRegistry()
	var buf bytes.Buffer
	enc := protocol.NewEncoder(&buf)

	r := reg.Register("c1", "A", envctx.Context{}, enc)
	reg.Send(r.Key, protocol.StatusNote{Type: protocol.TypeStatusNote, Message: "hi"})

	require.Eventually(t, func() bool { return buf.Len() > 0 }, time.Second, 5*time.Millisecond)

	var got protocol.StatusNote
	require.NoError(t, json.Unmarshal(bytes.TrimRight(buf.Bytes(), "\n"), &got))
	assert.Equal(t, "hi", got.Message)
}

func TestGetByClientID(t *testing.T) {
	reg := newTestRegistry()
	var buf bytes.Buffer
	enc := protocol.NewEncoder(&buf)

	r := reg.Register("c1", "A", envctx.Context{}, enc)

	found, ok := reg.GetByClientID("c1")
	require.True(t, ok)
	assert.Equal(t, r.Key, found.Key)

	_, ok = reg.GetByClientID("missing")
	assert.False(t, ok)
}

func TestUnregisterRemovesFromBothMaps(t *testing.T) {
	reg := newTestRegistry()
	var buf bytes.Buffer
	enc := protocol.NewEncoder(&buf)

	r := reg.Register("c1", "A", envctx.Context{}, enc)
	reg.Unregister(r.Key)

	_, ok := reg.Get(r.Key)
	assert.False(t, ok)
	_, ok = reg.GetByClientID("c1")
	assert.False(t, ok)
}

func TestBroadcastReachesAllClients(t *testing.T) {
	reg := newTestRegistry()
	var buf1, buf2 bytes.Buffer
	reg.Register("c1", "A", envctx.Context{}, protocol.NewEncoder(&buf1))
	reg.Register("c2", "A", envctx.Context{}, protocol.NewEncoder(&buf2))

	reg.Broadcast(protocol.ModelUpdated{Type: protocol.TypeModelUpdated, Alias: "haiku"})

	require.Eventually(t, func() bool {
		return buf1.Len() > 0 && buf2.Len() > 0
	}, time.Second, 5*time.Millisecond)
}
