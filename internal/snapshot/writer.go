package snapshot

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"Go2NetSentinel/internal/model"

	"github.com/goccy/go-json"
)

const (
	eventsFile  = "events.gob"
	blockedFile = "blocked.gob"
	summaryFile = "summary.json"
)

// SummaryData holds the metadata for a snapshot.
type SummaryData struct {
	TakenAt       string         `json:"taken_at"`
	TotalEvents   int            `json:"total_events"`
	BlockedIPs    int            `json:"blocked_ips"`
	EventsByType  map[string]int `json:"events_by_type"`
	WrittenAt     string         `json:"written_at"`
	SnapshotLabel string         `json:"snapshot_label"`
}

// Writer stores snapshots on disk, one timestamped directory per run.
type Writer struct {
	rootPath string
	interval time.Duration
}

// NewWriter creates a new snapshot writer.
func NewWriter(rootPath string, interval time.Duration) *Writer {
	return &Writer{rootPath: rootPath, interval: interval}
}

func (w *Writer) Name() string { return "snapshot" }

func (w *Writer) GetInterval() time.Duration { return w.interval }

// Write encodes events and blocks with gob and adds a JSON summary.
func (w *Writer) Write(snap model.StoreSnapshot, timestamp string) error {
	dir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	if err := writeGob(filepath.Join(dir, eventsFile), snap.Events); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(dir, blockedFile), snap.Blocked); err != nil {
		return err
	}

	byType := make(map[string]int)
	for _, ev := range snap.Events {
		byType[string(ev.Type)]++
	}
	summary := SummaryData{
		TakenAt:       snap.TakenAt.UTC().Format(time.RFC3339),
		TotalEvents:   len(snap.Events),
		BlockedIPs:    len(snap.Blocked),
		EventsByType:  byType,
		WrittenAt:     time.Now().UTC().Format(time.RFC3339),
		SnapshotLabel: timestamp,
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, summaryFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}

func writeGob(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", path, err)
	}
	if err := gob.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode gob for file '%s': %w", path, err)
	}
	return f.Close()
}

func readGob(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file '%s': %w", path, err)
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("failed to decode gob file '%s': %w", path, err)
	}
	return nil
}

// Load reads the snapshot stored in dir.
func Load(dir string) (model.StoreSnapshot, error) {
	var snap model.StoreSnapshot
	if err := readGob(filepath.Join(dir, eventsFile), &snap.Events); err != nil {
		return model.StoreSnapshot{}, err
	}
	if err := readGob(filepath.Join(dir, blockedFile), &snap.Blocked); err != nil {
		return model.StoreSnapshot{}, err
	}

	data, err := os.ReadFile(filepath.Join(dir, summaryFile))
	if err != nil {
		return model.StoreSnapshot{}, fmt.Errorf("failed to read summary file: %w", err)
	}
	var summary SummaryData
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.StoreSnapshot{}, fmt.Errorf("failed to decode summary: %w", err)
	}
	if snap.TakenAt, err = time.Parse(time.RFC3339, summary.TakenAt); err != nil {
		return model.StoreSnapshot{}, fmt.Errorf("invalid summary timestamp: %w", err)
	}
	return snap, nil
}

// ErrNoSnapshot is returned by LoadLatest when rootPath holds no snapshot.
var ErrNoSnapshot = errors.New("no snapshot found")

// LoadLatest loads the most recent complete snapshot under rootPath.
// Directory names sort chronologically.
func LoadLatest(rootPath string) (model.StoreSnapshot, string, error) {
	entries, err := os.ReadDir(rootPath)
	if errors.Is(err, os.ErrNotExist) {
		return model.StoreSnapshot{}, "", ErrNoSnapshot
	}
	if err != nil {
		return model.StoreSnapshot{}, "", fmt.Errorf("failed to list snapshots: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, name := range dirs {
		dir := filepath.Join(rootPath, name)
		if _, err := os.Stat(filepath.Join(dir, summaryFile)); err != nil {
			continue // incomplete run
		}
		snap, err := Load(dir)
		if err != nil {
			return model.StoreSnapshot{}, "", err
		}
		return snap, name, nil
	}
	return model.StoreSnapshot{}, "", ErrNoSnapshot
}
