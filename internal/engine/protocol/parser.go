package protocol

import (
	"errors"
	"time"

	"Go2NetSentinel/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	ErrNotIPv4     = errors.New("not an IPv4 packet")
	ErrNotTCPOrUDP = errors.New("not a TCP or UDP packet")
)

// ParsePacket extracts the 5-tuple, wire length and TCP flags of a decoded packet.
func ParsePacket(packet gopacket.Packet) (*model.PacketInfo, error) {
	info := &model.PacketInfo{
		Timestamp: time.Now(), // overwritten by capture metadata when present
		Length:    len(packet.Data()),
	}
	if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		info.Timestamp = meta.Timestamp
		if meta.Length > 0 {
			info.Length = meta.Length
		}
	}

	var fiveTuple model.FiveTuple
	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ipLayer := l.(*layers.IPv4)
		fiveTuple.SrcIP = ipLayer.SrcIP
		fiveTuple.DstIP = ipLayer.DstIP
		fiveTuple.Protocol = uint8(ipLayer.Protocol)
	} else {
		return nil, ErrNotIPv4
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcpLayer := l.(*layers.TCP)
		fiveTuple.SrcPort = uint16(tcpLayer.SrcPort)
		fiveTuple.DstPort = uint16(tcpLayer.DstPort)
		info.Flags = tcpFlags(tcpLayer)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udpLayer := l.(*layers.UDP)
		fiveTuple.SrcPort = uint16(udpLayer.SrcPort)
		fiveTuple.DstPort = uint16(udpLayer.DstPort)
	} else {
		return nil, ErrNotTCPOrUDP
	}

	info.FiveTuple = fiveTuple
	return info, nil
}

// ParseBytes decodes an Ethernet frame and parses it.
func ParseBytes(data []byte, ci gopacket.CaptureInfo) (*model.PacketInfo, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	md := packet.Metadata()
	md.CaptureInfo = ci
	return ParsePacket(packet)
}

func tcpFlags(tcp *layers.TCP) model.TCPFlags {
	var f model.TCPFlags
	if tcp.FIN {
		f |= model.FlagFIN
	}
	if tcp.SYN {
		f |= model.FlagSYN
	}
	if tcp.RST {
		f |= model.FlagRST
	}
	if tcp.PSH {
		f |= model.FlagPSH
	}
	if tcp.ACK {
		f |= model.FlagACK
	}
	if tcp.URG {
		f |= model.FlagURG
	}
	return f
}
