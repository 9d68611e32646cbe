// Package envctx models the Environment Context data model (§3): the
// small per-request mapping of multiplexer IPC address, session name, and
// optional binary path a subprocess invocation needs to target the
// client's session rather than a stale one from daemon startup.
package envctx

import "github.com/mitchellh/mapstructure"

// Context is the decoded, recognized-keys-only Environment Context.
type Context struct {
	IPCSocketPath string `mapstructure:"ipcSocketPath"`
	SessionName   string `mapstructure:"sessionName"`
	BinaryPath    string `mapstructure:"binaryPath"`
}

// FromRaw decodes a generic map (as received in a register_client or
// chat_request frame's zellijEnv field) into a Context, ignoring
// unrecognized keys rather than erroring, since the wire format is
// forward-compatible by design (§3: "a mapping of recognized keys").
func FromRaw(raw map[string]interface{}) Context {
	var ctx Context
	if raw == nil {
		return ctx
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &ctx,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return ctx
	}
	_ = dec.Decode(raw)
	return ctx
}

// Merge returns a Context preferring non-empty fields of override, falling
// back to base's fields — used when a request's environment context is
// absent and the Executor falls back to the registration's last-seen one
// (§4.5 step 2).
func Merge(base, override Context) Context {
	result := base
	if override.IPCSocketPath != "" {
		result.IPCSocketPath = override.IPCSocketPath
	}
	if override.SessionName != "" {
		result.SessionName = override.SessionName
	}
	if override.BinaryPath != "" {
		result.BinaryPath = override.BinaryPath
	}
	return result
}
