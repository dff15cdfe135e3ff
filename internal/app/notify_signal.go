package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TouchNotifySignal writes a monotonic revision (timestamp) to the signal file
// so fsnotify watchers in other processes can detect state changes. Creates
// parent dir and file if needed. Returns the revision written.
func TouchNotifySignal(signalPath string) (string, error) {
	if signalPath == "" {
		return "", nil
	}
	dir := filepath.Dir(signalPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create signal file dir: %w", err)
	}
	rev := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.WriteFile(signalPath, []byte(rev), 0644); err != nil {
		return "", err
	}
	return rev, nil
}

// ReadNotifySignal returns the current revision, or "" if there is none.
func ReadNotifySignal(signalPath string) string {
	data, err := os.ReadFile(signalPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
