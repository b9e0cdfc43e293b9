package detector

import (
	"math"
	"slices"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
)

const baseConfidence = 50

// Rule is one entry of the classifier's ordered rule table.
type Rule struct {
	Type     model.ThreatType
	Severity model.Severity
	// Match decides whether the rule applies. A nil Match always matches.
	Match func(f model.FlowFeatures, c Conn) bool
	// Bonus is added to the base confidence when the rule wins.
	Bonus func(f model.FlowFeatures) float64
}

// Conn carries the connection attributes a rule may look at besides the features.
type Conn struct {
	SrcPort  uint16
	DstPort  uint16
	Protocol string
}

// Classifier assigns a threat category to a feature vector. The first matching rule wins.
type Classifier struct {
	rules []Rule
}

// NewRuleClassifier evaluates rules in the given order. Flows no rule matches
// are benign.
func NewRuleClassifier(rules []Rule) *Classifier {
	return &Classifier{rules: slices.Clone(rules)}
}

// NewClassifier builds the rule table DoS, Scan, Brute Force, Exploit, Benign from th.
func NewClassifier(th config.RuleThresholds) *Classifier {
	return NewRuleClassifier([]Rule{
		{
			Type:     model.ThreatDoS,
			Severity: model.SeverityCritical,
			Match: func(f model.FlowFeatures, _ Conn) bool {
				volumetric := f.PacketsPerSec > th.DoSPacketsPerSec || f.BytesPerSec > th.DoSBytesPerSec
				return volumetric && (f.RstCount > th.DoSRstCount || f.SynCount > th.DoSSynCount)
			},
			Bonus: func(f model.FlowFeatures) float64 {
				return math.Min(f.PacketsPerSec/50, 30) + math.Min(f.RstCount/10, 15)
			},
		},
		{
			Type:     model.ThreatScan,
			Severity: model.SeverityMedium,
			Match: func(f model.FlowFeatures, c Conn) bool {
				return f.TotalPackets < th.ScanMaxPackets && f.Duration < th.ScanMaxDuration &&
					c.DstPort > th.ScanMinPort && c.DstPort < th.ScanMaxPort
			},
			Bonus: func(f model.FlowFeatures) float64 {
				bonus := 10.0
				if f.TotalPackets < 5 {
					bonus = 25
				}
				if f.Duration < 0.5 {
					return bonus + 15
				}
				return bonus + 5
			},
		},
		{
			Type:     model.ThreatBruteForce,
			Severity: model.SeverityHigh,
			Match: func(f model.FlowFeatures, c Conn) bool {
				return slices.Contains(th.BruteForcePorts, c.DstPort) &&
					f.TotalPackets > th.BruteForceMinPackets && f.TotalPackets < th.BruteForceMaxPackets &&
					f.Duration < th.BruteForceMaxDuration
			},
			Bonus: func(f model.FlowFeatures) float64 {
				bonus := math.Min(f.TotalPackets/5, 20)
				if f.Duration < 2 {
					return bonus + 20
				}
				return bonus + 10
			},
		},
		{
			Type:     model.ThreatExploit,
			Severity: model.SeverityHigh,
			Match: func(f model.FlowFeatures, c Conn) bool {
				return (f.AvgPacketSize > th.ExploitMinAvgSize || slices.Contains(th.ExploitPorts, c.DstPort)) &&
					f.TotalPackets > th.ExploitMinPackets
			},
			Bonus: func(f model.FlowFeatures) float64 {
				return math.Min(f.AvgPacketSize/50, 25) + math.Min(f.TotalPackets/5, 15)
			},
		},
		{
			Type:     model.ThreatBenign,
			Severity: model.SeverityLow,
			Bonus:    func(model.FlowFeatures) float64 { return 30 },
		},
	})
}

// Rules returns the rule types in evaluation order.
func (c *Classifier) Rules() []model.ThreatType {
	types := make([]model.ThreatType, len(c.rules))
	for i, r := range c.rules {
		types[i] = r.Type
	}
	return types
}

// Classify evaluates the rule table. The stock rules only look at the destination port
// besides the features.
func (c *Classifier) Classify(f model.FlowFeatures, srcPort, dstPort uint16, protocol string) model.ThreatClassification {
	conn := Conn{SrcPort: srcPort, DstPort: dstPort, Protocol: protocol}
	for _, r := range c.rules {
		if r.Match != nil && !r.Match(f, conn) {
			continue
		}
		score := float64(baseConfidence)
		if r.Bonus != nil {
			score += r.Bonus(f)
		}
		return model.ThreatClassification{
			Type:       r.Type,
			Severity:   r.Severity,
			Confidence: clampConfidence(score),
		}
	}
	return model.ThreatClassification{Type: model.ThreatBenign, Severity: model.SeverityLow, Confidence: baseConfidence}
}

// clampConfidence rounds half up and bounds the score to [0,100].
func clampConfidence(score float64) int {
	rounded := int(math.Floor(score + 0.5))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}
