package model

import "time"

// ThreatType is the category assigned to a flow by the classifier.
type ThreatType string

const (
	ThreatDoS        ThreatType = "DoS"
	ThreatExploit    ThreatType = "Exploit"
	ThreatScan       ThreatType = "Scan"
	ThreatBruteForce ThreatType = "Brute Force"
	ThreatBenign     ThreatType = "Benign"
)

// ThreatTypes lists every category in rule-evaluation order.
var ThreatTypes = []ThreatType{ThreatDoS, ThreatScan, ThreatBruteForce, ThreatExploit, ThreatBenign}

// Severity grades a classification.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities from low (1) to critical (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ThreatClassification is the classifier verdict for one flow.
type ThreatClassification struct {
	Type       ThreatType `json:"type"`
	Severity   Severity   `json:"severity"`
	Confidence int        `json:"confidence"`
}

// ThreatEvent is a recorded non-benign detection. It is never mutated once stored.
type ThreatEvent struct {
	ID           string       `json:"id"`
	Timestamp    time.Time    `json:"timestamp"`
	SrcIP        string       `json:"srcIp"`
	DstIP        string       `json:"dstIp"`
	SrcPort      uint16       `json:"srcPort"`
	DstPort      uint16       `json:"dstPort"`
	Protocol     string       `json:"protocol"`
	Type         ThreatType   `json:"type"`
	Severity     Severity     `json:"severity"`
	Confidence   int          `json:"confidence"`
	FlowFeatures FlowFeatures `json:"flowFeatures"`
	AbuseScore   *float64     `json:"abuseScore,omitempty"`
	Blocked      bool         `json:"blocked"`
}

// BlockedIP is an active block on a source address.
type BlockedIP struct {
	ID          string    `json:"id"`
	IPAddress   string    `json:"ipAddress"`
	BlockedAt   time.Time `json:"blockedAt"`
	Reason      string    `json:"reason"`
	ThreatCount int       `json:"threatCount"`
}

// BlockRequest is the input for creating a block.
type BlockRequest struct {
	IPAddress   string `json:"ipAddress" validate:"required,ip"`
	Reason      string `json:"reason" validate:"required,max=512"`
	ThreatCount int    `json:"threatCount" validate:"gte=0"`
}

// ActivityBucket counts events within one UTC hour.
type ActivityBucket struct {
	Time  string `json:"time"`
	Count int    `json:"count"`
}

// Metrics is the dashboard rollup of the store.
type Metrics struct {
	TotalThreats   int                `json:"totalThreats"`
	BlockedIPs     int                `json:"blockedIPs"`
	AvgConfidence  float64            `json:"avgConfidence"`
	ThreatsByType  map[ThreatType]int `json:"threatsByType"`
	RecentActivity []ActivityBucket   `json:"recentActivity"`
}

// StoreSnapshot is a consistent copy of the store. Events are in insertion order.
type StoreSnapshot struct {
	TakenAt time.Time
	Events  []ThreatEvent
	Blocked []BlockedIP
}
