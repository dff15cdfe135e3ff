package app

import "time"

// Policy is the configuration port used by the application.
// Implemented by internal/policy.Policy.
type Policy interface {
	WorkspaceRoot() string
	SignalFilePath() string
	ValidatePath(path string) (string, error)
	IsToolEnabled(name string) bool
	DefaultAgent() string
	SystemPromptBudget() int
	CompactionBudget() int
	AnchorStaleAfter() time.Duration
	TaskStaleAfter() time.Duration
	PlanGrace() time.Duration
	DelegationTTL() time.Duration
	ShellDefaultTimeout() time.Duration
	ShellMaxTimeout() time.Duration
	ShellMaxOutput() int
}
