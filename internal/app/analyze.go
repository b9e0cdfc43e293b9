package app

import (
	"context"
	"fmt"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/detector"
	"Go2NetSentinel/internal/engine/loop"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/rollup"
	"Go2NetSentinel/internal/store"
)

// Summary is the outcome of an offline analysis run.
type Summary struct {
	Source  string              `json:"source"`
	Flows   int                 `json:"flows"`
	Benign  int                 `json:"benign"`
	Errors  int                 `json:"errors"`
	Metrics model.Metrics       `json:"metrics"`
	Blocked []model.BlockedIP   `json:"blocked"`
	Events  []model.ThreatEvent `json:"events,omitempty"`
}

// Analyze drains source through the detection pipeline without serving
// anything. maxFlows <= 0 reads until the source is exhausted.
func Analyze(ctx context.Context, cfg *config.Config, source model.FlowSource, maxFlows int) (Summary, error) {
	st := store.NewMemStore()
	lcfg := loopConfig(cfg.Detection)
	lcfg.MinBatch, lcfg.MaxBatch = 1, 1
	lp, err := loop.New(lcfg, source, detector.New(detector.NewClassifier(cfg.Detection.Thresholds)), st, nil)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Source: source.Name()}
	for maxFlows <= 0 || sum.Flows < maxFlows {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		rep := lp.Tick(ctx)
		if rep.Flows == 0 {
			if rep.Errors > 0 {
				return Summary{}, fmt.Errorf("flow source %s failed", source.Name())
			}
			break
		}
		sum.Flows += rep.Flows
		if benign := rep.Flows - rep.Threats - rep.Errors; benign > 0 {
			sum.Benign += benign
		}
		sum.Errors += rep.Errors
	}

	snap, err := st.Snapshot(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum.Metrics = rollup.Compute(snap, time.Now())
	sum.Blocked = snap.Blocked
	sum.Events = snap.Events
	return sum, nil
}
