package probe

import (
	"sort"
	"time"

	"Go2NetSentinel/internal/model"
)

type pendingFlow struct {
	flow  model.Flow
	first time.Time
	last  time.Time
}

// Assembler groups packets into flows keyed by their 5-tuple. A flow is emitted once
// it has been idle for the timeout, measured in capture time, or once it reaches
// maxPackets.
type Assembler struct {
	timeout    time.Duration
	maxPackets int
	flows      map[string]*pendingFlow
	lastSweep  time.Time
}

// NewAssembler creates an assembler. maxPackets <= 0 disables the size cap.
func NewAssembler(timeout time.Duration, maxPackets int) *Assembler {
	return &Assembler{
		timeout:    timeout,
		maxPackets: maxPackets,
		flows:      make(map[string]*pendingFlow),
	}
}

// Len returns the number of flows still being assembled.
func (a *Assembler) Len() int {
	return len(a.flows)
}

// Add records a packet and returns the flows completed by it, oldest first.
func (a *Assembler) Add(info *model.PacketInfo) []model.Flow {
	now := info.Timestamp
	var done []*pendingFlow
	if a.timeout > 0 && now.Sub(a.lastSweep) >= a.timeout/4 {
		done = a.sweep(now)
	}

	key := info.FiveTuple.Key()
	pf, ok := a.flows[key]
	if !ok {
		ft := info.FiveTuple
		pf = &pendingFlow{
			flow: model.Flow{
				SrcIP:    ft.SrcIP.String(),
				DstIP:    ft.DstIP.String(),
				SrcPort:  ft.SrcPort,
				DstPort:  ft.DstPort,
				Protocol: ft.ProtocolName(),
			},
			first: now,
		}
		a.flows[key] = pf
	}
	pf.flow.Packets = append(pf.flow.Packets, model.Packet{Size: info.Length, Timestamp: now, Flags: info.Flags})
	if now.After(pf.last) {
		pf.last = now
	}
	if a.maxPackets > 0 && len(pf.flow.Packets) >= a.maxPackets {
		done = append(done, pf)
		delete(a.flows, key)
	}
	return ordered(done)
}

// Expire emits the flows idle for longer than the timeout at now. Live captures
// call it on a timer so quiet flows are not held until the next packet.
func (a *Assembler) Expire(now time.Time) []model.Flow {
	if a.timeout <= 0 {
		return nil
	}
	return ordered(a.sweep(now))
}

func (a *Assembler) sweep(now time.Time) []*pendingFlow {
	var done []*pendingFlow
	for key, pf := range a.flows {
		if now.Sub(pf.last) > a.timeout {
			done = append(done, pf)
			delete(a.flows, key)
		}
	}
	a.lastSweep = now
	return done
}

// Flush returns every pending flow, oldest first, and resets the assembler.
func (a *Assembler) Flush() []model.Flow {
	done := make([]*pendingFlow, 0, len(a.flows))
	for _, pf := range a.flows {
		done = append(done, pf)
	}
	a.flows = make(map[string]*pendingFlow)
	return ordered(done)
}

func ordered(pending []*pendingFlow) []model.Flow {
	if len(pending) == 0 {
		return nil
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].first.Equal(pending[j].first) {
			return pending[i].flow.SrcPort < pending[j].flow.SrcPort
		}
		return pending[i].first.Before(pending[j].first)
	})
	flows := make([]model.Flow, len(pending))
	for i, pf := range pending {
		flows[i] = pf.flow
	}
	return flows
}
