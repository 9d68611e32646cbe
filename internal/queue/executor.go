package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/victorarias/jelly-j/internal/history"
	"github.com/victorarias/jelly-j/internal/modelruntime"
	"github.com/victorarias/jelly-j/internal/protocol"
)

// Outcome carries the conversation-state updates the actor goroutine must
// apply after a turn completes: the new resume token and last-observed
// session tag (§3's Conversation State, §5: confined to the single
// scheduler task).
type Outcome struct {
	RequestID     string
	NewResumeToken string
	SessionTag    string
	OK            bool
}

// Executor runs one Turn Request to completion (§4.5's nine-step
// operation), including stale-resume recovery (§4.5's retry policy).
// It performs the model runtime call and its streaming callbacks on the
// caller's goroutine — callers invoke Run from a dedicated goroutine so
// the actor loop is never blocked on model-runtime I/O (§5's cooperative
// suspension points).
type Executor struct {
	Adapter modelruntime.Adapter
	History *history.Store
	Logger  *logrus.Entry
}

// Run executes req against the given conversation state and emits frames
// via send. lastSessionTag is the daemon's last-observed session tag,
// used for the session-switch status_note (§4.5 step 3).
func (e *Executor) Run(
	ctx context.Context,
	req TurnRequest,
	resumeToken string,
	modelAlias string,
	lastSessionTag string,
	queuedAhead int,
	send func(frame interface{}),
) Outcome {
	sessionTag := req.SessionTag
	if sessionTag == "" {
		sessionTag = lastSessionTag
	}

	if lastSessionTag != "" && sessionTag != "" && sessionTag != lastSessionTag {
		send(protocol.StatusNote{
			Type:    protocol.TypeStatusNote,
			Message: fmt.Sprintf("session switched: %s -> %s", lastSessionTag, sessionTag),
		})
	}

	if err := e.History.Append(history.RoleUser, sessionTag, req.Text); err != nil {
		e.Logger.WithError(err).Warn("failed to append user history entry")
	}

	send(protocol.ChatStart{
		Type:        protocol.TypeChatStart,
		RequestID:   req.RequestID,
		Model:       modelAlias,
		QueuedAhead: queuedAhead,
	})

	contextPrefix := buildContextPrefix(lastSessionTag, sessionTag)

	outcome, assistantText := e.runWithStaleRetry(ctx, req, resumeToken, modelAlias, contextPrefix, send)
	outcome.RequestID = req.RequestID
	outcome.SessionTag = sessionTag

	if outcome.OK {
		if err := e.History.Append(history.RoleAssistant, sessionTag, assistantText); err != nil {
			e.Logger.WithError(err).Warn("failed to append assistant history entry")
		}
	} else {
		if err := e.History.Append(history.RoleError, sessionTag, assistantText); err != nil {
			e.Logger.WithError(err).Warn("failed to append error history entry")
		}
	}

	send(protocol.ChatEnd{
		Type:      protocol.TypeChatEnd,
		RequestID: req.RequestID,
		OK:        outcome.OK,
		Model:     modelAlias,
	})

	return outcome
}

// runWithStaleRetry implements §4.5's stale-resume recovery: a structured
// error matching the stale pattern, arriving before any assistant text,
// triggers exactly one retry without a resume token.
func (e *Executor) runWithStaleRetry(
	ctx context.Context,
	req TurnRequest,
	resumeToken, modelAlias, contextPrefix string,
	send func(frame interface{}),
) (Outcome, string) {
	outcome, text, stale := e.attempt(ctx, req, resumeToken, modelAlias, contextPrefix, send)
	if !stale {
		return outcome, text
	}

	send(protocol.StatusNote{
		Type:    protocol.TypeStatusNote,
		Message: "previous conversation could not be resumed; starting a fresh one",
	})

	outcome2, text2, _ := e.attempt(ctx, req, "", modelAlias, contextPrefix, send)
	return outcome2, text2
}

// attempt runs a single model-runtime invocation. It returns stale=true
// only when a structured stale-conversation error arrived before any
// assistant text was emitted and a resume token was in play — the exact
// condition under which the Executor buffers the error instead of
// forwarding it.
func (e *Executor) attempt(
	ctx context.Context,
	req TurnRequest,
	resumeToken, modelAlias, contextPrefix string,
	send func(frame interface{}),
) (outcome Outcome, assistantText string, stale bool) {
	var (
		textEmitted    bool
		fullText       string
		sawFatalResult bool
		bufferedStale  bool
	)

	cb := modelruntime.Callbacks{
		OnText: func(fragment string) {
			fullText += fragment
			textEmitted = true
			send(protocol.ChatDelta{Type: protocol.TypeChatDelta, RequestID: req.RequestID, Text: fragment})
		},
		OnToolUse: func(name string) {
			send(protocol.ToolUse{Type: protocol.TypeToolUse, RequestID: req.RequestID, Name: name})
		},
		OnPermissionRequest: func(toolName, reason string) {
			send(protocol.StatusNote{
				Type:    protocol.TypeStatusNote,
				Message: fmt.Sprintf("denied %s: %s", toolName, reason),
			})
		},
		OnResultError: func(subtype string, errors []string) {
			matched := false
			for _, m := range errors {
				if modelruntime.IsStaleResumeError(m) {
					matched = true
					break
				}
			}
			if !matched && modelruntime.IsStaleResumeError(subtype) {
				matched = true
			}

			if matched && !textEmitted && resumeToken != "" {
				bufferedStale = true
				return
			}
			sawFatalResult = true
			send(protocol.ResultError{Type: protocol.TypeResultError, RequestID: req.RequestID, Subtype: subtype, Errors: errors})
		},
	}

	result, err := e.Adapter.Chat(ctx, modelruntime.ChatParams{
		UserText:      req.Text,
		ResumeToken:   resumeToken,
		ModelAlias:    modelAlias,
		ContextPrefix: contextPrefix,
	}, cb)

	if bufferedStale {
		return Outcome{}, "", true
	}

	if err != nil {
		send(protocol.ResultError{Type: protocol.TypeResultError, RequestID: req.RequestID, Subtype: "adapter_error", Errors: []string{err.Error()}})
		return Outcome{OK: false, NewResumeToken: resumeToken}, err.Error(), false
	}

	ok := !sawFatalResult
	return Outcome{OK: ok, NewResumeToken: result.ResumeToken}, fullText, false
}

// buildContextPrefix composes the one-turn context prefix (§4.5 step 3):
// current wall-clock/timezone, plus a session-switch note when applicable.
func buildContextPrefix(lastSessionTag, sessionTag string) string {
	now := time.Now()
	prefix := fmt.Sprintf("Current time: %s (%s).", now.Format(time.RFC3339), now.Location().String())
	if lastSessionTag != "" && sessionTag != "" && sessionTag != lastSessionTag {
		prefix += fmt.Sprintf(" The user has moved from session %q to session %q; workspace state may differ from the prior turn.", lastSessionTag, sessionTag)
	}
	return prefix
}
