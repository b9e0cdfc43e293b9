package detector

import (
	"Go2NetSentinel/internal/model"
)

// minDuration keeps rate features finite for single-packet or same-instant flows.
const minDuration = 0.001

// Extract derives the feature vector of a flow. It is total: an empty flow
// yields the zero vector and no input makes it fail.
func Extract(flow model.Flow) model.FlowFeatures {
	if len(flow.Packets) == 0 {
		return model.FlowFeatures{}
	}

	var f model.FlowFeatures
	first := flow.Packets[0].Timestamp
	last := first
	for _, p := range flow.Packets {
		f.TotalBytes += float64(p.Size)
		if p.Timestamp.Before(first) {
			first = p.Timestamp
		}
		if p.Timestamp.After(last) {
			last = p.Timestamp
		}
		if p.Flags.Has(model.FlagSYN) {
			f.SynCount++
		}
		if p.Flags.Has(model.FlagFIN) {
			f.FinCount++
		}
		if p.Flags.Has(model.FlagRST) {
			f.RstCount++
		}
	}

	f.TotalPackets = float64(len(flow.Packets))
	f.AvgPacketSize = f.TotalBytes / f.TotalPackets
	f.Duration = last.Sub(first).Seconds()
	if f.Duration < minDuration {
		f.Duration = minDuration
	}
	f.PacketsPerSec = f.TotalPackets / f.Duration
	f.BytesPerSec = f.TotalBytes / f.Duration
	return f
}
