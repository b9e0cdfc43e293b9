package model

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// TCPFlags is the set of TCP control bits observed on a packet.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

var flagNames = []struct {
	flag TCPFlags
	name string
}{
	{FlagFIN, "FIN"},
	{FlagSYN, "SYN"},
	{FlagRST, "RST"},
	{FlagPSH, "PSH"},
	{FlagACK, "ACK"},
	{FlagURG, "URG"},
}

// Has reports whether every bit of f is set.
func (t TCPFlags) Has(f TCPFlags) bool {
	return t&f == f
}

// Names returns the flag names in a fixed order.
func (t TCPFlags) Names() []string {
	names := make([]string, 0, len(flagNames))
	for _, fn := range flagNames {
		if t.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (t TCPFlags) String() string {
	return strings.Join(t.Names(), "|")
}

// ParseTCPFlags converts flag names (case-insensitive) into a bitmask.
func ParseTCPFlags(names []string) (TCPFlags, error) {
	var t TCPFlags
	for _, n := range names {
		found := false
		for _, fn := range flagNames {
			if strings.EqualFold(n, fn.name) {
				t |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown tcp flag %q", n)
		}
	}
	return t, nil
}

// MarshalJSON encodes the flags as a list of names, e.g. ["SYN","ACK"].
func (t TCPFlags) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Names())
}

func (t *TCPFlags) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("tcp flags must be a list of names: %w", err)
	}
	parsed, err := ParseTCPFlags(names)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Packet is one observed packet of a flow.
type Packet struct {
	Size      int       `json:"size"`
	Timestamp time.Time `json:"timestamp"`
	Flags     TCPFlags  `json:"flags"`
}

// Flow is a bidirectional-agnostic sequence of packets between two endpoints.
type Flow struct {
	SrcIP    string   `json:"srcIp"`
	DstIP    string   `json:"dstIp"`
	SrcPort  uint16   `json:"srcPort"`
	DstPort  uint16   `json:"dstPort"`
	Protocol string   `json:"protocol"`
	Packets  []Packet `json:"packets"`
}

// FlowFeatures is the numeric feature vector derived from a flow.
type FlowFeatures struct {
	TotalPackets  float64 `json:"totalPackets"`
	TotalBytes    float64 `json:"totalBytes"`
	AvgPacketSize float64 `json:"avgPacketSize"`
	Duration      float64 `json:"duration"`
	PacketsPerSec float64 `json:"packetsPerSec"`
	BytesPerSec   float64 `json:"bytesPerSec"`
	SynCount      float64 `json:"synCount"`
	FinCount      float64 `json:"finCount"`
	RstCount      float64 `json:"rstCount"`
}

// FiveTuple represents the 5-tuple of a network packet.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Key returns a stable string key for flow assembly.
func (f FiveTuple) Key() string {
	return fmt.Sprintf("%s:%d->%s:%d/%d", f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, f.Protocol)
}

// ProtocolName maps the IP protocol number to the name used on flows.
func (f FiveTuple) ProtocolName() string {
	switch f.Protocol {
	case 6:
		return "TCP"
	case 17:
		return "UDP"
	case 1:
		return "ICMP"
	default:
		return fmt.Sprintf("IP-%d", f.Protocol)
	}
}

// PacketInfo holds the metadata extracted from a single captured packet.
type PacketInfo struct {
	Timestamp time.Time
	FiveTuple FiveTuple
	Length    int
	Flags     TCPFlags
}
