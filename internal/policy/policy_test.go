package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, BackendJSON, cfg.StateBackend)
	assert.Equal(t, filepath.Join(".idumb", "brain"), cfg.StateDir)
	assert.Equal(t, 1000, cfg.Budgets.SystemPrompt)
	assert.Equal(t, 2000, cfg.Budgets.Compaction)
	assert.Equal(t, 48, cfg.Anchors.StaleHours)
	assert.Equal(t, 30, cfg.Tasks.StaleMinutes)
	assert.Equal(t, 30, cfg.Delegation.TTLMinutes)
	assert.Equal(t, 120, cfg.Shell.MaxTimeoutSeconds)
	assert.Equal(t, []string{"*"}, cfg.EnabledTools)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idumb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workspace_root: /srv/project
state_backend: sqlite
default_agent: executor
budgets:
  compaction: 3000
shell:
  max_output_bytes: 2048
enabled_tools: [govern_plan, govern_task]
`), 0o600))

	t.Setenv("IDUMB_BUDGETS_SYSTEM_PROMPT", "800")
	t.Setenv("IDUMB_LOG_LEVEL", "debug")
	t.Setenv("IDUMB_SHELL_DEFAULT_TIMEOUT_SECONDS", "10")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/project", cfg.WorkspaceRoot)
	assert.Equal(t, BackendSQLite, cfg.StateBackend)
	assert.Equal(t, "executor", cfg.DefaultAgent)
	assert.Equal(t, 3000, cfg.Budgets.Compaction)
	assert.Equal(t, 800, cfg.Budgets.SystemPrompt)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10, cfg.Shell.DefaultTimeoutSeconds)
	assert.Equal(t, 2048, cfg.Shell.MaxOutputBytes)
	// untouched keys keep defaults
	assert.Equal(t, 120, cfg.Shell.MaxTimeoutSeconds)
	assert.Equal(t, 48, cfg.Anchors.StaleHours)
	assert.Equal(t, []string{"govern_plan", "govern_task"}, cfg.EnabledTools)
}

func TestLoadConfigEnvOnly(t *testing.T) {
	t.Setenv("IDUMB_STATE_BACKEND", "sqlite")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.StateBackend)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("state_backend: redis\n"), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state_backend")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "state_backend", envKey("IDUMB_STATE_BACKEND"))
	assert.Equal(t, "shell.max_timeout_seconds", envKey("IDUMB_SHELL_MAX_TIMEOUT_SECONDS"))
	assert.Equal(t, "plans.grace_hours", envKey("IDUMB_PLANS_GRACE_HOURS"))
	assert.Equal(t, "http_port", envKey("IDUMB_HTTP_PORT"))
}

func TestValidatePath(t *testing.T) {
	tmpDir := t.TempDir()
	pol := New(&Config{WorkspaceRoot: tmpDir})

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative path within workspace", "subdir/file.go", false},
		{"absolute path within workspace", filepath.Join(tmpDir, "file.go"), false},
		{"workspace root itself", tmpDir, false},
		{"dotdot-prefixed name stays inside", "..hidden/file", false},
		{"path escaping workspace", "../outside.go", true},
		{"absolute path outside workspace", "/etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pol.ValidatePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsToolEnabled(t *testing.T) {
	tests := []struct {
		name         string
		enabledTools []string
		toolName     string
		want         bool
	}{
		{"wildcard enables all", []string{"*"}, "govern_shell", true},
		{"explicit tool enabled", []string{"govern_plan", "govern_task"}, "govern_task", true},
		{"tool not in list", []string{"govern_plan"}, "govern_shell", false},
		{"empty list disables all", nil, "govern_plan", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pol := New(&Config{EnabledTools: tt.enabledTools})
			assert.Equal(t, tt.want, pol.IsToolEnabled(tt.toolName))
		})
	}
}

func TestPolicyPaths(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.WorkspaceRoot = root
	pol := New(cfg)

	assert.Equal(t, filepath.Join(root, ".idumb", "brain"), pol.StateDir())
	assert.Equal(t, filepath.Join(root, ".idumb", "brain", ".idumb-notify"), pol.SignalFilePath())
	assert.Equal(t, filepath.Join(root, ".idumb", "brain", "idumb.log"), pol.LogFile())

	cfg.LogFile = "off"
	assert.Equal(t, "off", pol.LogFile())

	cfg.StateDir = "/var/lib/idumb"
	assert.Equal(t, "/var/lib/idumb", pol.StateDir())
}

func TestPolicyDurations(t *testing.T) {
	pol := New(DefaultConfig())
	assert.Equal(t, 48*time.Hour, pol.AnchorStaleAfter())
	assert.Equal(t, 30*time.Minute, pol.TaskStaleAfter())
	assert.Equal(t, 24*time.Hour, pol.PlanGrace())
	assert.Equal(t, 30*time.Minute, pol.DelegationTTL())
	assert.Equal(t, 30*time.Second, pol.ShellDefaultTimeout())
	assert.Equal(t, 2*time.Minute, pol.ShellMaxTimeout())
	assert.Equal(t, 100*1024, pol.ShellMaxOutput())
}
