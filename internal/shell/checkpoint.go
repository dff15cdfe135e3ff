package shell

import (
	"regexp"
	"strings"
)

var writeTools = map[string]bool{
	"write": true, "edit": true, "multiedit": true, "patch": true,
	"apply_patch": true, "notebookedit": true, "create_file": true,
}

var shellTools = map[string]bool{
	"bash": true, "shell": true, "govern_shell": true, "run_terminal_cmd": true,
}

// readOnlyGit never produces evidence even though it classifies as git.
var readOnlyGit = regexp.MustCompile(`^git\s+(status|log|diff|show|branch\s*$|remote|config\s+--get|rev-parse|blame|ls-files)\b`)

// IsWriteTool reports whether tool edits files.
func IsWriteTool(tool string) bool { return writeTools[strings.ToLower(tool)] }

// IsShellTool reports whether tool runs a shell command.
func IsShellTool(tool string) bool { return shellTools[strings.ToLower(tool)] }

// IsCheckpointWorthy decides whether a tool call is significant enough to
// record as evidence. Writes always are; shell commands only when they build,
// validate or change git state.
func IsCheckpointWorthy(tool, command string) bool {
	if IsWriteTool(tool) {
		return true
	}
	if !IsShellTool(tool) {
		return false
	}
	for _, seg := range Segments(command) {
		switch ClassifySegment(seg) {
		case CategoryValidation, CategoryBuild:
			return true
		case CategoryGit:
			if !readOnlyGit.MatchString(strings.TrimSpace(seg)) {
				return true
			}
		}
	}
	return false
}
