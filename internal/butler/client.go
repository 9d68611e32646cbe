// Package butler implements the client half of the plugin pipe RPC (§6):
// a small JSON request/response protocol carried over the multiplexer's
// "pipe" command, against an in-multiplexer plugin that caches workspace
// state. The core never runs the plugin itself; it only speaks this
// narrow RPC surface and consumes the cached snapshot it returns.
package butler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/victorarias/jelly-j/internal/jellyerr"
	"github.com/victorarias/jelly-j/internal/tmuxctl"
)

// PipeName is the well-known pipe the butler plugin listens on.
const PipeName = "jelly-j-butler"

// Timeouts for pipe RPC (§5): ops default to 8s, toggles (hide/show pane)
// to 3s.
const (
	OpTimeout     = 8 * time.Second
	ToggleTimeout = 3 * time.Second
)

// NotReadyCode is the reserved response code meaning "plugin loaded but
// caches not primed; retry" (§6, §7.5).
const NotReadyCode = "not_ready"

// Pane is one entry of a Cached Workspace Snapshot (§3).
type Pane struct {
	ID         string `json:"id"`
	TabIndex   int    `json:"tab_index"`
	Title      string `json:"title"`
	Command    string `json:"command,omitempty"`
	IsPlugin   bool   `json:"is_plugin"`
	IsFloating bool   `json:"is_floating"`
	Suppressed bool   `json:"suppressed"`
	Exited     bool   `json:"exited"`
}

// Tab is one entry of a Cached Workspace Snapshot (§3).
type Tab struct {
	Position        int    `json:"position"`
	Name            string `json:"name"`
	Active          bool   `json:"active"`
	SelectablePanes int    `json:"selectable_panes"`
}

// Snapshot is the opaque-to-most-callers Cached Workspace Snapshot (§3):
// an ordered list of tabs and panes, produced by the plugin on demand.
type Snapshot struct {
	Tabs  []Tab  `json:"tabs"`
	Panes []Pane `json:"panes"`
}

type request struct {
	Op          string `json:"op"`
	Position    int    `json:"position,omitempty"`
	Name        string `json:"name,omitempty"`
	PaneID      string `json:"pane_id,omitempty"`
	ShouldFloat bool   `json:"should_float_if_hidden,omitempty"`
	ShouldFocus bool   `json:"should_focus_pane,omitempty"`
}

type response struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Client speaks the plugin pipe RPC over one multiplexer session.
type Client struct {
	tmux *tmuxctl.Client
}

func New(tmux *tmuxctl.Client) *Client {
	return &Client{tmux: tmux}
}

// Ping checks plugin liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, OpTimeout, request{Op: "ping"})
	return err
}

// GetState fetches the Cached Workspace Snapshot.
func (c *Client) GetState(ctx context.Context) (Snapshot, error) {
	result, err := c.call(ctx, OpTimeout, request{Op: "get_state"})
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(result, &snap); err != nil {
		return Snapshot{}, jellyerr.Wrap(err, jellyerr.IO, "malformed workspace snapshot")
	}
	return snap, nil
}

// GetTrace fetches the plugin's internal trace log.
func (c *Client) GetTrace(ctx context.Context) (string, error) {
	result, err := c.call(ctx, OpTimeout, request{Op: "get_trace"})
	if err != nil {
		return "", err
	}
	var trace string
	_ = json.Unmarshal(result, &trace)
	return trace, nil
}

// ClearTrace resets the plugin's trace log.
func (c *Client) ClearTrace(ctx context.Context) error {
	_, err := c.call(ctx, OpTimeout, request{Op: "clear_trace"})
	return err
}

// RenameTab renames the tab at position without moving focus.
func (c *Client) RenameTab(ctx context.Context, position int, name string) error {
	_, err := c.call(ctx, OpTimeout, request{Op: "rename_tab", Position: position, Name: name})
	return err
}

// RenamePane renames a pane by id.
func (c *Client) RenamePane(ctx context.Context, paneID, name string) error {
	_, err := c.call(ctx, OpTimeout, request{Op: "rename_pane", PaneID: paneID, Name: name})
	return err
}

// HidePane hides a pane (a toggle op, §5: 3s timeout).
func (c *Client) HidePane(ctx context.Context, paneID string) error {
	_, err := c.call(ctx, ToggleTimeout, request{Op: "hide_pane", PaneID: paneID})
	return err
}

// ShowPane reveals a previously hidden pane.
func (c *Client) ShowPane(ctx context.Context, paneID string, shouldFloat, shouldFocus bool) error {
	_, err := c.call(ctx, ToggleTimeout, request{
		Op: "show_pane", PaneID: paneID,
		ShouldFloat: shouldFloat, ShouldFocus: shouldFocus,
	})
	return err
}

// IsNotReady reports whether err is the reserved "not_ready" transient
// (§7.5): plugin loaded but caches not primed.
func IsNotReady(err error) bool {
	je, ok := err.(*jellyerr.Error)
	if !ok || je.Details == nil {
		return false
	}
	return je.Details["code"] == NotReadyCode
}

func (c *Client) call(ctx context.Context, timeout time.Duration, req request) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, jellyerr.Wrap(err, jellyerr.IO, "failed to encode pipe RPC request")
	}

	raw, err := c.tmux.Pipe(ctx, PipeName, string(payload))
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, jellyerr.Wrap(err, jellyerr.IO, "malformed pipe RPC response")
	}
	if !resp.OK {
		return nil, jellyerr.New(jellyerr.IO, resp.Error).WithDetail("code", resp.Code)
	}
	return resp.Result, nil
}
