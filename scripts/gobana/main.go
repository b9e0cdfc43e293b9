package main

import (
	"fmt"
	"os"

	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/snapshot"

	"github.com/goccy/go-json"
)

// Prints a snapshot directory written by the sentinel, or the newest one under
// a root when -latest is given.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana <snapshot_dir> | -latest <root>")
		os.Exit(1)
	}

	var (
		snap model.StoreSnapshot
		name = os.Args[1]
		err  error
	)
	if name == "-latest" && len(os.Args) > 2 {
		snap, name, err = snapshot.LoadLatest(os.Args[2])
	} else {
		snap, err = snapshot.Load(name)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load snapshot: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(struct {
		Snapshot string              `json:"snapshot"`
		TakenAt  string              `json:"takenAt"`
		Events   []model.ThreatEvent `json:"events"`
		Blocked  []model.BlockedIP   `json:"blocked"`
	}{name, snap.TakenAt.Format("2006-01-02T15:04:05Z07:00"), snap.Events, snap.Blocked}, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode snapshot: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
