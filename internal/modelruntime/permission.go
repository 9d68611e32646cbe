package modelruntime

import (
	"encoding/json"
	"strings"
)

// PermissionPolicy decides which tool invocations the Model Runtime must
// pause on (§4.6): shell commands always prompt, file modifications
// outside the configured roots always prompt, everything else runs
// without a prompt.
type PermissionPolicy struct {
	ConfigRoots []string
}

var shellTools = map[string]bool{
	"Bash": true,
}

var fileWriteTools = map[string]bool{
	"Write": true,
	"Edit":  true,
}

// requiresPrompt reports whether toolName/input needs operator sign-off
// under the policy, and a human-readable reason for the status_note.
func (p PermissionPolicy) requiresPrompt(toolName string, input json.RawMessage) (bool, string) {
	if shellTools[toolName] {
		return true, "shell command execution always requires confirmation"
	}
	if fileWriteTools[toolName] {
		path := inputFilePath(input)
		if !p.underConfigRoot(path) {
			return true, "file modification outside the configured workspace roots"
		}
	}
	return false, ""
}

func (p PermissionPolicy) underConfigRoot(path string) bool {
	if path == "" {
		return false
	}
	for _, root := range p.ConfigRoots {
		if root == "" {
			continue
		}
		if strings.Contains(path, root) {
			return true
		}
	}
	return false
}

func inputFilePath(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var fields struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(input, &fields); err != nil {
		return ""
	}
	return fields.FilePath
}
