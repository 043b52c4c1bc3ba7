package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SideQueue is the durable fallback for transcripts that could not be
// delivered: one JSON file per envelope, keyed by session id and the unix
// second it was parked.
type SideQueue struct {
	dir string
}

func NewSideQueue(dir string) (*SideQueue, error) {
	if dir == "" {
		return nil, fmt.Errorf("side queue dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create side queue dir: %w", err)
	}
	return &SideQueue{dir: dir}, nil
}

func (q *SideQueue) Write(env Envelope) error {
	name := fmt.Sprintf("%s_%d.json", env.SessionID, time.Now().Unix())
	path := filepath.Join(q.dir, name)

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode side queue envelope: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write side queue file: %w", err)
	}
	return nil
}

// List returns parked envelope paths, oldest names first.
func (q *SideQueue) List() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("read side queue dir: %w", err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		out = append(out, filepath.Join(q.dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func (q *SideQueue) Read(path string) (Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Envelope{}, fmt.Errorf("read side queue file: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode side queue file %s: %w", filepath.Base(path), err)
	}
	return env, nil
}

func (q *SideQueue) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove side queue file: %w", err)
	}
	return nil
}
