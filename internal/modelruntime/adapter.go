package modelruntime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/victorarias/jelly-j/internal/command"
	"github.com/victorarias/jelly-j/internal/jellyerr"
)

// Callbacks receives tagged events translated from the Model Runtime's
// stream, mirroring §4.6's onText/onToolUse/onResultError contract.
type Callbacks struct {
	OnText        func(fragment string)
	OnToolUse     func(name string)
	OnResultError func(subtype string, errors []string)
	// OnPermissionRequest fires once per tool invocation the configured
	// PermissionPolicy pauses on (§4.6, §7.2). The adapter has already
	// decided allow/deny by policy before invoking this — there is no
	// interactive approval channel in this daemon — so the callback is
	// purely informational (surfacing a status_note to the client).
	OnPermissionRequest func(toolName, reason string)
}

// ChatParams is one turn's input.
type ChatParams struct {
	UserText      string
	ResumeToken   string
	ModelAlias    string
	ContextPrefix string
}

// Result is returned after the subprocess exits.
type Result struct {
	ResumeToken string
}

// Adapter is the narrow interface the Executor depends on (§4.6); a fake
// implementation backs queue/executor tests.
type Adapter interface {
	Chat(ctx context.Context, params ChatParams, cb Callbacks) (Result, error)
	// Query runs a single non-conversational prompt against the cheap
	// model path, returning its final text verbatim. Used by the
	// heartbeat probe (§4.7).
	Query(ctx context.Context, prompt, modelAlias string) (string, error)
}

// CLIAdapter shells out to the Model Runtime binary (default "claude") in
// stream-json mode, using command.SafeBuilder for timeout-bounded
// execution.
type CLIAdapter struct {
	Binary  string
	Models  map[string]string
	Builder *command.SafeBuilder
	Timeout time.Duration

	policyMu sync.RWMutex
	policy   PermissionPolicy
}

func NewCLIAdapter(binary string, models map[string]string, timeout time.Duration, configRoots []string) *CLIAdapter {
	if binary == "" {
		binary = "claude"
	}
	return &CLIAdapter{
		Binary:  binary,
		Models:  models,
		Builder: command.NewSafeBuilder(),
		Timeout: timeout,
		policy:  PermissionPolicy{ConfigRoots: configRoots},
	}
}

// SetConfigRoots updates the permission policy's config roots in place,
// called from the config watcher's hot-reload path so an in-flight turn
// never races a reload mid-read.
func (a *CLIAdapter) SetConfigRoots(roots []string) {
	a.policyMu.Lock()
	defer a.policyMu.Unlock()
	a.policy.ConfigRoots = roots
}

func (a *CLIAdapter) currentPolicy() PermissionPolicy {
	a.policyMu.RLock()
	defer a.policyMu.RUnlock()
	return a.policy
}

func (a *CLIAdapter) underlyingModel(alias string) string {
	if m, ok := a.Models[alias]; ok {
		return m
	}
	return alias
}

// Chat invokes the Model Runtime for one turn. It raises an error only
// for genuinely fatal conditions (subprocess could not be started,
// output unreadable); soft/structured errors flow through
// cb.OnResultError and Chat still returns a Result.
func (a *CLIAdapter) Chat(ctx context.Context, params ChatParams, cb Callbacks) (Result, error) {
	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--model", a.underlyingModel(params.ModelAlias),
	}
	if params.ResumeToken != "" {
		args = append(args, "--resume", params.ResumeToken)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, a.timeoutOrDefault())
	defer cancel()

	cmd := a.Builder.Build(timeoutCtx, a.Binary, args...)
	defer cmd.Release()

	execCmd := cmd.Exec()

	stdin, err := execCmd.StdinPipe()
	if err != nil {
		return Result{}, jellyerr.Wrap(err, jellyerr.Fatal, "open model runtime stdin")
	}
	stdout, err := execCmd.StdoutPipe()
	if err != nil {
		return Result{}, jellyerr.Wrap(err, jellyerr.Fatal, "open model runtime stdout")
	}

	if err := execCmd.Start(); err != nil {
		return Result{}, jellyerr.Wrap(err, jellyerr.Fatal, "start model runtime")
	}

	text := params.UserText
	if params.ContextPrefix != "" {
		text = params.ContextPrefix + "\n\n" + params.UserText
	}
	if err := writeUserTurn(stdin, text); err != nil {
		_ = execCmd.Process.Kill()
		return Result{}, jellyerr.Wrap(err, jellyerr.Fatal, "write model runtime stdin")
	}

	// stdin stays open across the read loop: a control_request (permission
	// prompt) needs a control_response written back on stdin while the
	// subprocess is still running, interleaved with reading stdout (§4.6).
	result, readErr := readEvents(stdout, stdin, params.ResumeToken, a.currentPolicy(), cb)
	stdin.Close()

	waitErr := execCmd.Wait()
	if readErr != nil {
		return result, jellyerr.Wrap(readErr, jellyerr.Fatal, "read model runtime output")
	}
	if waitErr != nil && result.ResumeToken == "" {
		return result, jellyerr.Wrap(waitErr, jellyerr.Fatal, "model runtime exited with error")
	}

	return result, nil
}

// Query runs a single prompt without a resume token and returns the
// terminal result text, for the heartbeat probe's cheap-model path.
func (a *CLIAdapter) Query(ctx context.Context, prompt, modelAlias string) (string, error) {
	var buf bytes.Buffer
	cb := Callbacks{OnText: func(fragment string) { buf.WriteString(fragment) }}
	_, err := a.Chat(ctx, ChatParams{UserText: prompt, ModelAlias: modelAlias}, cb)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (a *CLIAdapter) timeoutOrDefault() time.Duration {
	if a.Timeout > 0 {
		return a.Timeout
	}
	return 2 * time.Minute
}

type inputUserMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

func writeUserTurn(w io.Writer, text string) error {
	msg := inputUserMessage{Type: "user"}
	msg.Message.Role = "user"
	msg.Message.Content = text

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// writeControlResponse answers a control_request permission prompt
// (§4.6): behavior is "allow" or "deny", message carries the policy
// reason on denial.
func writeControlResponse(w io.Writer, requestID, behavior, message string) error {
	resp := controlResponseEvent{Type: "control_response"}
	resp.Response = controlResponseBody{
		Subtype:   "response",
		RequestID: requestID,
		Behavior:  behavior,
		Message:   message,
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// readEvents consumes the stream-json output, dispatching callbacks, and
// returns the session id of the last init or result event that carried
// one (or the input token unchanged if none did, per §4.6). w is the
// subprocess's stdin, used only to answer control_request permission
// prompts; it is never used to send further user turns.
func readEvents(r io.Reader, w io.Writer, inputResumeToken string, policy PermissionPolicy, cb Callbacks) (Result, error) {
	resumeToken := inputResumeToken
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), 1<<20)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		typ, err := decodeEnvelope(line)
		if err != nil {
			continue
		}

		switch typ {
		case "system":
			var ev systemInitEvent
			if json.Unmarshal(line, &ev) == nil && ev.Subtype == "init" && ev.SessionID != "" {
				resumeToken = ev.SessionID
			}
		case "assistant":
			var ev assistantEvent
			if json.Unmarshal(line, &ev) != nil {
				continue
			}
			for _, block := range ev.Message.Content {
				switch block.Type {
				case "text":
					if cb.OnText != nil && block.Text != "" {
						cb.OnText(block.Text)
					}
				case "tool_use":
					if cb.OnToolUse != nil {
						cb.OnToolUse(block.Name)
					}
				}
			}
		case "result":
			var ev resultEvent
			if json.Unmarshal(line, &ev) != nil {
				continue
			}
			if ev.SessionID != "" {
				resumeToken = ev.SessionID
			}
			if ev.IsError {
				errs := ev.Errors
				if len(errs) == 0 && ev.Result != "" {
					errs = []string{ev.Result}
				}
				if cb.OnResultError != nil {
					cb.OnResultError(ev.Subtype, errs)
				}
			}
		case "control_request":
			var ev controlRequestEvent
			if json.Unmarshal(line, &ev) != nil || ev.Request.Subtype != "can_use_tool" {
				continue
			}
			needsPrompt, reason := policy.requiresPrompt(ev.Request.ToolName, ev.Request.Input)
			if needsPrompt && cb.OnPermissionRequest != nil {
				cb.OnPermissionRequest(ev.Request.ToolName, reason)
			}
			behavior := "allow"
			if needsPrompt {
				behavior = "deny"
			}
			if err := writeControlResponse(w, ev.RequestID, behavior, reason); err != nil {
				return Result{ResumeToken: resumeToken}, err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return Result{ResumeToken: resumeToken}, err
	}
	return Result{ResumeToken: resumeToken}, nil
}
