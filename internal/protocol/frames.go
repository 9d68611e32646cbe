// Package protocol implements the newline-delimited JSON wire protocol
// described in §4.2: a closed set of client→daemon and daemon→client
// frame shapes, each carrying a `type` discriminant.
package protocol

// Type is the closed set of frame discriminants.
type Type string

const (
	TypeRegisterClient  Type = "register_client"
	TypeChatRequest     Type = "chat_request"
	TypeSetModel        Type = "set_model"
	TypeNewSession      Type = "new_session"
	TypePing            Type = "ping"
	TypeGetConfig       Type = "get_config"
	TypeRegistered      Type = "registered"
	TypeHistorySnapshot Type = "history_snapshot"
	TypeStatusNote      Type = "status_note"
	TypeChatStart       Type = "chat_start"
	TypeChatDelta       Type = "chat_delta"
	TypeToolUse         Type = "tool_use"
	TypeResultError     Type = "result_error"
	TypeChatEnd         Type = "chat_end"
	TypeModelUpdated    Type = "model_updated"
	TypePong            Type = "pong"
	TypeError           Type = "error"
	TypeConfig          Type = "config"
)

// Envelope is decoded first to discover Type before decoding into the
// concrete frame struct — the same shape-probe idiom the stream-json
// corpus uses for its own `type`/`subtype` discriminated events.
type Envelope struct {
	Type Type `json:"type"`
}

// --- client -> daemon ---

type RegisterClient struct {
	Type          Type                   `json:"type"`
	ClientID      string                 `json:"clientId"`
	ZellijSession string                 `json:"zellijSession,omitempty"`
	ZellijEnv     map[string]interface{} `json:"zellijEnv,omitempty"`
	CWD           string                 `json:"cwd,omitempty"`
	Hostname      string                 `json:"hostname,omitempty"`
	PID           int                    `json:"pid,omitempty"`
}

type ChatRequest struct {
	Type          Type                   `json:"type"`
	RequestID     string                 `json:"requestId"`
	ClientID      string                 `json:"clientId"`
	Text          string                 `json:"text"`
	ZellijSession string                 `json:"zellijSession,omitempty"`
	ZellijEnv     map[string]interface{} `json:"zellijEnv,omitempty"`
}

type SetModel struct {
	Type      Type   `json:"type"`
	RequestID string `json:"requestId"`
	ClientID  string `json:"clientId"`
	Alias     string `json:"alias"`
}

type NewSession struct {
	Type          Type   `json:"type"`
	RequestID     string `json:"requestId"`
	ClientID      string `json:"clientId"`
	ZellijSession string `json:"zellijSession,omitempty"`
}

type Ping struct {
	Type      Type   `json:"type"`
	RequestID string `json:"requestId"`
	ClientID  string `json:"clientId"`
}

// GetConfig is additive to the original closed frame set (§6 expansion):
// a read-only query of the daemon's running tunables.
type GetConfig struct {
	Type      Type   `json:"type"`
	RequestID string `json:"requestId"`
	ClientID  string `json:"clientId"`
}

// --- daemon -> client ---

type Registered struct {
	Type      Type   `json:"type"`
	ClientID  string `json:"clientId"`
	DaemonPID int    `json:"daemonPid"`
	Model     string `json:"model"`
	Busy      bool   `json:"busy"`
}

// HistoryEntryView is the wire shape of a History Entry (§3), reused
// verbatim by history_snapshot and by the on-disk journal line format.
type HistoryEntryView struct {
	Timestamp string `json:"timestamp"`
	Role      string `json:"role"`
	Session   string `json:"session,omitempty"`
	Text      string `json:"text"`
}

type HistorySnapshot struct {
	Type    Type               `json:"type"`
	Entries []HistoryEntryView `json:"entries"`
}

type StatusNote struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

type ChatStart struct {
	Type        Type   `json:"type"`
	RequestID   string `json:"requestId"`
	Model       string `json:"model"`
	QueuedAhead int    `json:"queuedAhead"`
}

type ChatDelta struct {
	Type      Type   `json:"type"`
	RequestID string `json:"requestId"`
	Text      string `json:"text"`
}

type ToolUse struct {
	Type      Type   `json:"type"`
	RequestID string `json:"requestId"`
	Name      string `json:"name"`
}

type ResultError struct {
	Type      Type     `json:"type"`
	RequestID string   `json:"requestId"`
	Subtype   string   `json:"subtype"`
	Errors    []string `json:"errors"`
}

type ChatEnd struct {
	Type      Type   `json:"type"`
	RequestID string `json:"requestId"`
	OK        bool   `json:"ok"`
	Model     string `json:"model"`
}

type ModelUpdated struct {
	Type      Type   `json:"type"`
	RequestID string `json:"requestId"`
	Alias     string `json:"alias"`
}

type Pong struct {
	Type      Type   `json:"type"`
	RequestID string `json:"requestId"`
	DaemonPID int    `json:"daemonPid"`
}

type ErrorFrame struct {
	Type      Type   `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Message   string `json:"message"`
}

// Config is the additive get_config response (§6 expansion).
type Config struct {
	Type                         Type     `json:"type"`
	RequestID                    string   `json:"requestId"`
	HeartbeatIntervalSeconds     int      `json:"heartbeatIntervalSeconds"`
	HeartbeatInitialDelaySeconds int      `json:"heartbeatInitialDelaySeconds"`
	MultiplexerTimeoutSeconds    int      `json:"multiplexerTimeoutSeconds"`
	PluginOpTimeoutSeconds       int      `json:"pluginOpTimeoutSeconds"`
	PluginToggleTimeoutSeconds   int      `json:"pluginToggleTimeoutSeconds"`
	PermissionConfigRoots        []string `json:"permissionConfigRoots"`
	Models                       map[string]string `json:"models"`
}
