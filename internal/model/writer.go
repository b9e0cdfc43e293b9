package model

import "time"

// Writer defines a generic interface for exporting store snapshots.
type Writer interface {
	// Write persists the snapshot. The timestamp names the snapshot run.
	Write(snapshot StoreSnapshot, timestamp string) error

	// GetInterval returns the configured snapshot interval for this writer.
	GetInterval() time.Duration

	Name() string
}
