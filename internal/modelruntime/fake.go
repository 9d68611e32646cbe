package modelruntime

import "context"

// FakeAdapter is an in-process stand-in for Adapter, used by queue and
// executor tests (§8: "a fake Model Runtime Adapter... swappable with a
// fake in tests", mirroring the teacher's Executor interface in command/).
type FakeAdapter struct {
	// Scripted is consulted in order per call to Chat; if exhausted the
	// last entry repeats.
	Scripted []FakeTurn
	calls    int
}

// FakeTurn scripts one Chat invocation's behavior.
type FakeTurn struct {
	Texts             []string
	ToolUses          []string
	ResultErrors      []FakeResultError
	PermissionPrompts []FakePermissionPrompt
	ResumeToken       string
	Err               error
}

// FakePermissionPrompt scripts one onPermissionRequest callback firing.
type FakePermissionPrompt struct {
	ToolName string
	Reason   string
}

type FakeResultError struct {
	Subtype string
	Errors  []string
}

func (f *FakeAdapter) Chat(ctx context.Context, params ChatParams, cb Callbacks) (Result, error) {
	var turn FakeTurn
	if len(f.Scripted) == 0 {
		turn = FakeTurn{ResumeToken: "fake-session-1"}
	} else {
		idx := f.calls
		if idx >= len(f.Scripted) {
			idx = len(f.Scripted) - 1
		}
		turn = f.Scripted[idx]
	}
	f.calls++

	if turn.Err != nil {
		return Result{}, turn.Err
	}

	for _, t := range turn.Texts {
		if cb.OnText != nil {
			cb.OnText(t)
		}
	}
	for _, name := range turn.ToolUses {
		if cb.OnToolUse != nil {
			cb.OnToolUse(name)
		}
	}
	for _, re := range turn.ResultErrors {
		if cb.OnResultError != nil {
			cb.OnResultError(re.Subtype, re.Errors)
		}
	}
	for _, p := range turn.PermissionPrompts {
		if cb.OnPermissionRequest != nil {
			cb.OnPermissionRequest(p.ToolName, p.Reason)
		}
	}

	resume := turn.ResumeToken
	if resume == "" {
		resume = params.ResumeToken
	}
	return Result{ResumeToken: resume}, nil
}

func (f *FakeAdapter) Query(ctx context.Context, prompt, modelAlias string) (string, error) {
	return `{"renames":[],"suggestion":""}`, nil
}
