package model

import (
	"context"
	"errors"
)

// ErrNoFlow is returned by a FlowSource that has nothing ready right now.
var ErrNoFlow = errors.New("no flow available")

// FlowSource produces flows for the detection loop.
// Next returns io.EOF once the source is permanently exhausted.
type FlowSource interface {
	Next(ctx context.Context) (Flow, error)
	Name() string
	Close() error
}
