// Package jsonfile persists governance documents as JSON files under one directory.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jaakkos/idumb/internal/domain"
)

const (
	// GraphFile holds the TaskGraph document.
	GraphFile = "graph.json"
	// DelegationsFile holds the DelegationStore document.
	DelegationsFile = "delegations.json"
	// AnchorsDir holds one anchor collection per session.
	AnchorsDir = "anchors"
	// SessionsDir holds one SessionState record per session.
	SessionsDir = "sessions"
)

// ErrEmptySessionID is returned for per-session accessors called without an id.
var ErrEmptySessionID = errors.New("session id is empty")

// anchorFile is the on-disk shape of a session's anchor collection.
type anchorFile struct {
	Version   string          `json:"version"`
	SessionID string          `json:"sessionId"`
	Anchors   []domain.Anchor `json:"anchors"`
}

// FileStore implements the document adapter on the local filesystem.
type FileStore struct {
	dir string
}

// New creates dir (and its subdirectories) if needed.
func New(dir string) (*FileStore, error) {
	for _, d := range []string{dir, filepath.Join(dir, AnchorsDir), filepath.Join(dir, SessionsDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the root directory.
func (fs *FileStore) Dir() string { return fs.dir }

// LoadGraph reads graph.json; a missing file is an empty graph.
func (fs *FileStore) LoadGraph() (*domain.TaskGraph, error) {
	g := domain.NewTaskGraph()
	found, err := readJSON(filepath.Join(fs.dir, GraphFile), g)
	if err != nil {
		return nil, err
	}
	if !found {
		return domain.NewTaskGraph(), nil
	}
	if g.WorkPlans == nil {
		g.WorkPlans = []*domain.WorkPlan{}
	}
	return g, nil
}

// SaveGraph writes graph.json atomically.
func (fs *FileStore) SaveGraph(g *domain.TaskGraph) error {
	return writeJSON(filepath.Join(fs.dir, GraphFile), g)
}

// LoadDelegations reads delegations.json; a missing file is an empty store.
func (fs *FileStore) LoadDelegations() (*domain.DelegationStore, error) {
	d := domain.NewDelegationStore()
	found, err := readJSON(filepath.Join(fs.dir, DelegationsFile), d)
	if err != nil {
		return nil, err
	}
	if !found {
		return domain.NewDelegationStore(), nil
	}
	if d.Delegations == nil {
		d.Delegations = []*domain.DelegationRecord{}
	}
	return d, nil
}

// SaveDelegations writes delegations.json atomically.
func (fs *FileStore) SaveDelegations(d *domain.DelegationStore) error {
	return writeJSON(filepath.Join(fs.dir, DelegationsFile), d)
}

// SessionIDs lists sessions that have an anchor file or a session file.
func (fs *FileStore) SessionIDs() ([]string, error) {
	seen := make(map[string]bool)
	for _, sub := range []string{AnchorsDir, SessionsDir} {
		entries, err := os.ReadDir(filepath.Join(fs.dir, sub))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s directory: %w", sub, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			id, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
			if err != nil || id == "" {
				continue
			}
			seen[id] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadAnchors reads a session's anchors; missing means none.
func (fs *FileStore) LoadAnchors(sessionID string) ([]domain.Anchor, error) {
	path, err := fs.sessionPath(AnchorsDir, sessionID)
	if err != nil {
		return nil, err
	}
	var f anchorFile
	if _, err := readJSON(path, &f); err != nil {
		return nil, err
	}
	return f.Anchors, nil
}

// SaveAnchors writes a session's anchors atomically.
func (fs *FileStore) SaveAnchors(sessionID string, anchors []domain.Anchor) error {
	path, err := fs.sessionPath(AnchorsDir, sessionID)
	if err != nil {
		return err
	}
	if anchors == nil {
		anchors = []domain.Anchor{}
	}
	return writeJSON(path, anchorFile{Version: domain.SchemaVersion, SessionID: sessionID, Anchors: anchors})
}

// LoadSession reads a session record; nil when absent.
func (fs *FileStore) LoadSession(sessionID string) (*domain.SessionState, error) {
	path, err := fs.sessionPath(SessionsDir, sessionID)
	if err != nil {
		return nil, err
	}
	var ss domain.SessionState
	found, err := readJSON(path, &ss)
	if err != nil || !found {
		return nil, err
	}
	return &ss, nil
}

// SaveSession writes a session record atomically.
func (fs *FileStore) SaveSession(sessionID string, s *domain.SessionState) error {
	path, err := fs.sessionPath(SessionsDir, sessionID)
	if err != nil {
		return err
	}
	if s == nil {
		s = &domain.SessionState{}
	}
	return writeJSON(path, s)
}

// Close is a no-op; files are closed after every write.
func (fs *FileStore) Close() error { return nil }

// sessionPath escapes the id so arbitrary host session ids map to one flat file.
func (fs *FileStore) sessionPath(sub, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrEmptySessionID
	}
	return filepath.Join(fs.dir, sub, url.PathEscape(sessionID)+".json"), nil
}

// readJSON decodes path into v. found is false when the file does not exist.
func readJSON(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// writeJSON writes to a temp file in the same directory and renames it over
// path, so readers never observe a partial document.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
