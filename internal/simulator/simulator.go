package simulator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/factory"
	"Go2NetSentinel/internal/model"
)

func init() {
	factory.RegisterSource("simulator", func(cfg *config.Config) (model.FlowSource, error) {
		return New(cfg.Source.Simulator.Seed), nil
	})
}

var (
	sourceIPs = []string{
		"192.168.1.105", "172.16.0.88", "10.1.1.23", "203.0.113.45",
		"198.51.100.72", "192.0.2.156", "172.31.255.12", "10.0.0.199",
	}
	destinationIPs = []string{"10.0.0.50", "10.0.0.51", "10.0.0.52", "10.0.0.53"}

	bruteForcePorts = []uint16{22, 3389, 21, 23}
	exploitPorts    = []uint16{445, 135, 139}
	benignPorts     = []uint16{80, 443}
)

// Simulator generates synthetic traffic shaped like each threat category.
// DoS, Scan, Brute Force and Exploit are each drawn 15% of the time, Benign 40%.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithClock replaces the clock used as the start time of generated flows.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// New creates a simulator. A zero seed seeds from the clock.
func New(seed int64, opts ...Option) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Simulator{rng: rand.New(rand.NewSource(seed)), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) Name() string { return "simulator" }

func (s *Simulator) Close() error { return nil }

// Next always yields a freshly generated flow.
func (s *Simulator) Next(ctx context.Context) (model.Flow, error) {
	if err := ctx.Err(); err != nil {
		return model.Flow{}, err
	}
	return s.Generate(""), nil
}

// Generate produces a flow of the given kind, or of a randomly drawn kind when kind is empty.
func (s *Simulator) Generate(kind model.ThreatType) model.Flow {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kind == "" {
		kind = s.randomKind()
	}
	flow := model.Flow{
		SrcIP:    pick(s.rng, sourceIPs),
		DstIP:    pick(s.rng, destinationIPs),
		SrcPort:  uint16(s.intn(1024, 65535)),
		Protocol: "TCP",
	}
	base := s.now()

	switch kind {
	case model.ThreatDoS:
		// Sub-millisecond gaps, two RSTs for every SYN.
		flow.DstPort = 80
		flow.Packets = s.packets(base, s.intn(300, 500), 40, 100, 100*time.Microsecond, 900*time.Microsecond, func() model.TCPFlags {
			if s.rng.Intn(3) == 0 {
				return model.FlagSYN
			}
			return model.FlagRST
		})
	case model.ThreatScan:
		flow.DstPort = uint16(s.intn(1025, 65534))
		flow.Packets = s.packets(base, s.intn(2, 6), 40, 80, 50*time.Millisecond, 150*time.Millisecond, constFlags(model.FlagSYN))
	case model.ThreatBruteForce:
		flow.DstPort = pick(s.rng, bruteForcePorts)
		flow.Packets = s.packets(base, s.intn(10, 40), 60, 150, 20*time.Millisecond, 120*time.Millisecond, constFlags(model.FlagSYN|model.FlagACK))
	case model.ThreatExploit:
		flow.DstPort = pick(s.rng, exploitPorts)
		flow.Packets = s.packets(base, s.intn(15, 50), 1200, 1500, 50*time.Millisecond, 300*time.Millisecond, constFlags(model.FlagSYN|model.FlagACK))
	default:
		// Long-lived sessions so that web ports do not look like credential guessing.
		flow.DstPort = pick(s.rng, benignPorts)
		flow.Packets = s.packets(base, s.intn(30, 100), 500, 1000, 200*time.Millisecond, 600*time.Millisecond, constFlags(model.FlagACK))
	}
	return flow
}

func (s *Simulator) randomKind() model.ThreatType {
	r := s.rng.Float64()
	switch {
	case r < 0.15:
		return model.ThreatDoS
	case r < 0.30:
		return model.ThreatScan
	case r < 0.45:
		return model.ThreatBruteForce
	case r < 0.60:
		return model.ThreatExploit
	default:
		return model.ThreatBenign
	}
}

func (s *Simulator) packets(base time.Time, n, minSize, maxSize int, minGap, maxGap time.Duration, flags func() model.TCPFlags) []model.Packet {
	out := make([]model.Packet, n)
	ts := base
	for i := range out {
		if i > 0 {
			ts = ts.Add(minGap + time.Duration(s.rng.Int63n(int64(maxGap-minGap)+1)))
		}
		out[i] = model.Packet{Size: s.intn(minSize, maxSize), Timestamp: ts, Flags: flags()}
	}
	return out
}

// intn returns a uniform integer in [lo, hi].
func (s *Simulator) intn(lo, hi int) int {
	return lo + s.rng.Intn(hi-lo+1)
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.Intn(len(items))]
}

func constFlags(f model.TCPFlags) func() model.TCPFlags {
	return func() model.TCPFlags { return f }
}
