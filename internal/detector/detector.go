package detector

import (
	"fmt"
	"sync"
	"time"

	"Go2NetSentinel/internal/model"
)

// Result is the verdict for one flow together with the event to persist.
// Event.ID is empty until the store records it.
type Result struct {
	Classification model.ThreatClassification
	Event          model.ThreatEvent
}

// Outcome is one entry of a batch: either a Result or the error that prevented it.
type Outcome struct {
	Result
	Err error
}

// Detector runs feature extraction and classification.
type Detector struct {
	classifier *Classifier
	now        func() time.Time
}

// Option customises a Detector.
type Option func(*Detector)

// WithClock replaces the clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New creates a Detector around the given classifier.
func New(classifier *Classifier, opts ...Option) *Detector {
	d := &Detector{classifier: classifier, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect classifies one flow and assembles the corresponding not-yet-persisted event.
func (d *Detector) Detect(flow model.Flow) (Result, error) {
	if err := validateFlow(flow); err != nil {
		return Result{}, err
	}

	features := Extract(flow)
	cls := d.classifier.Classify(features, flow.SrcPort, flow.DstPort, flow.Protocol)
	return Result{
		Classification: cls,
		Event: model.ThreatEvent{
			Timestamp:    d.now(),
			SrcIP:        flow.SrcIP,
			DstIP:        flow.DstIP,
			SrcPort:      flow.SrcPort,
			DstPort:      flow.DstPort,
			Protocol:     flow.Protocol,
			Type:         cls.Type,
			Severity:     cls.Severity,
			Confidence:   cls.Confidence,
			FlowFeatures: features,
			Blocked:      false,
		},
	}, nil
}

// BatchDetect detects every flow concurrently. Outcomes are in input order.
func (d *Detector) BatchDetect(flows []model.Flow) []Outcome {
	out := make([]Outcome, len(flows))
	var wg sync.WaitGroup
	wg.Add(len(flows))
	for i := range flows {
		go func(i int) {
			defer wg.Done()
			res, err := d.Detect(flows[i])
			out[i] = Outcome{Result: res, Err: err}
		}(i)
	}
	wg.Wait()
	return out
}

func validateFlow(flow model.Flow) error {
	for i, p := range flow.Packets {
		if p.Size < 0 {
			return &model.MalformedFlowError{Reason: fmt.Sprintf("packet %d has negative size %d", i, p.Size)}
		}
	}
	return nil
}
