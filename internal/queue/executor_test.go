package queue

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorarias/jelly-j/internal/history"
	"github.com/victorarias/jelly-j/internal/modelruntime"
	"github.com/victorarias/jelly-j/internal/protocol"
)

func newTestExecutor(t *testing.T, adapter modelruntime.Adapter) *Executor {
	store := history.Open(filepath.Join(t.TempDir(), "history.jsonl"))
	logger := logrus.New()
	logger.SetOutput(bytes.NewBuffer(nil))
	return &Executor{Adapter: adapter, History: store, Logger: logger.WithField("test", true)}
}

func TestExecutorHappyPath(t *testing.T) {
	fake := &modelruntime.FakeAdapter{Scripted: []modelruntime.FakeTurn{
		{Texts: []string{"hi "}, ToolUses: []string{"edit_file"}, ResumeToken: "sess-1"},
	}}
	exec := newTestExecutor(t, fake)

	var frames []interface{}
	outcome := exec.Run(context.Background(), TurnRequest{RequestID: "r1", Text: "hello"},
		"", "opus", "", 0,
		func(f interface{}) { frames = append(frames, f) },
	)

	require.True(t, outcome.OK)
	assert.Equal(t, "sess-1", outcome.NewResumeToken)

	require.Len(t, frames, 4)
	start, ok := frames[0].(protocol.ChatStart)
	require.True(t, ok)
	assert.Equal(t, "r1", start.RequestID)
	delta, ok := frames[1].(protocol.ChatDelta)
	require.True(t, ok)
	assert.Equal(t, "hi ", delta.Text)
	tool, ok := frames[2].(protocol.ToolUse)
	require.True(t, ok)
	assert.Equal(t, "edit_file", tool.Name)
	end, ok := frames[3].(protocol.ChatEnd)
	require.True(t, ok)
	assert.True(t, end.OK)
}

func TestExecutorStaleResumeRecovery(t *testing.T) {
	fake := &modelruntime.FakeAdapter{Scripted: []modelruntime.FakeTurn{
		{ResultErrors: []modelruntime.FakeResultError{{Subtype: "error", Errors: []string{"no conversation found with session id x"}}}},
		{Texts: []string{"ok"}, ResumeToken: "sess-2"},
	}}
	exec := newTestExecutor(t, fake)

	var frames []interface{}
	outcome := exec.Run(context.Background(), TurnRequest{RequestID: "r1", Text: "reply with exactly: ok"},
		"stale-token", "opus", "", 0,
		func(f interface{}) { frames = append(frames, f) },
	)

	require.True(t, outcome.OK)
	assert.Equal(t, "sess-2", outcome.NewResumeToken)

	var sawResultError bool
	var sawStatusNote bool
	for _, f := range frames {
		switch fr := f.(type) {
		case protocol.ResultError:
			sawResultError = true
		case protocol.StatusNote:
			if fr.Message == "previous conversation could not be resumed; starting a fresh one" {
				sawStatusNote = true
			}
		}
	}
	assert.False(t, sawResultError, "stale error must not reach the client")
	assert.True(t, sawStatusNote, "expected a status_note about the fresh retry")
}

func TestExecutorSurfacesPermissionDenialAsStatusNote(t *testing.T) {
	fake := &modelruntime.FakeAdapter{Scripted: []modelruntime.FakeTurn{
		{
			PermissionPrompts: []modelruntime.FakePermissionPrompt{
				{ToolName: "Bash", Reason: "shell command execution always requires confirmation"},
			},
			Texts:       []string{"done"},
			ResumeToken: "sess-3",
		},
	}}
	exec := newTestExecutor(t, fake)

	var frames []interface{}
	exec.Run(context.Background(), TurnRequest{RequestID: "r3", Text: "run a command"},
		"", "opus", "", 0,
		func(f interface{}) { frames = append(frames, f) },
	)

	var sawNote bool
	for _, f := range frames {
		if note, ok := f.(protocol.StatusNote); ok && note.Message == "denied Bash: shell command execution always requires confirmation" {
			sawNote = true
		}
	}
	assert.True(t, sawNote, "expected a status_note surfacing the permission denial")
}

func TestExecutorSessionSwitchNote(t *testing.T) {
	fake := &modelruntime.FakeAdapter{}
	exec := newTestExecutor(t, fake)

	var frames []interface{}
	exec.Run(context.Background(), TurnRequest{RequestID: "r2", Text: "...", SessionTag: "B"},
		"tok", "opus", "A", 0,
		func(f interface{}) { frames = append(frames, f) },
	)

	require.NotEmpty(t, frames)
	note, ok := frames[0].(protocol.StatusNote)
	require.True(t, ok, "first frame should be the session-switch status_note")
	assert.Equal(t, "session switched: A -> B", note.Message)
}
