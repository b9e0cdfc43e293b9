package pcap

import (
	"fmt"
	"io"
	"net"
	"os"
	"sort"

	"Go2NetSentinel/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
)

// Writer serialises flows into an Ethernet pcap stream.
type Writer struct {
	closer  io.Closer
	w       *pcapgo.Writer
	written int
}

// NewWriter creates a pcap file at filePath.
func NewWriter(filePath string) (*Writer, error) {
	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap file: %w", err)
	}
	w, err := NewWriterTo(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriterTo writes a pcap stream to dst.
func NewWriterTo(dst io.Writer) (*Writer, error) {
	w := pcapgo.NewWriter(dst)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{w: w}, nil
}

type framedPacket struct {
	flow *model.Flow
	pkt  model.Packet
}

// WriteFlows writes the packets of every flow, interleaved in timestamp order.
// The recorded wire length is the packet size, or the header length when the
// size is smaller than the headers. Ethernet padding is not captured.
func (w *Writer) WriteFlows(flows []model.Flow) error {
	var all []framedPacket
	for i := range flows {
		for _, p := range flows[i].Packets {
			all = append(all, framedPacket{flow: &flows[i], pkt: p})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].pkt.Timestamp.Before(all[j].pkt.Timestamp) })

	buf := gopacket.NewSerializeBuffer()
	for _, fp := range all {
		headers, err := serialize(buf, fp.flow, fp.pkt)
		if err != nil {
			return err
		}
		wire := max(fp.pkt.Size, headers)
		data := buf.Bytes()
		if len(data) > wire {
			data = data[:wire]
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     fp.pkt.Timestamp,
			CaptureLength: len(data),
			Length:        wire,
		}
		if err := w.w.WritePacket(ci, data); err != nil {
			return fmt.Errorf("failed to write packet: %w", err)
		}
		w.written++
	}
	return nil
}

// serialize lays out one frame in buf and returns its header length.
func serialize(buf gopacket.SerializeBuffer, flow *model.Flow, p model.Packet) (int, error) {
	src := net.ParseIP(flow.SrcIP).To4()
	dst := net.ParseIP(flow.DstIP).To4()
	if src == nil || dst == nil {
		return 0, fmt.Errorf("flow %s -> %s is not IPv4", flow.SrcIP, flow.DstIP)
	}
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, SrcIP: src, DstIP: dst}

	var transport gopacket.SerializableLayer
	headers := 14 + 20
	switch flow.Protocol {
	case "UDP":
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: layers.UDPPort(flow.SrcPort), DstPort: layers.UDPPort(flow.DstPort)}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return 0, err
		}
		transport = udp
		headers += 8
	default:
		ip.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(flow.SrcPort),
			DstPort: layers.TCPPort(flow.DstPort),
			FIN:     p.Flags.Has(model.FlagFIN),
			SYN:     p.Flags.Has(model.FlagSYN),
			RST:     p.Flags.Has(model.FlagRST),
			PSH:     p.Flags.Has(model.FlagPSH),
			ACK:     p.Flags.Has(model.FlagACK),
			URG:     p.Flags.Has(model.FlagURG),
			Window:  14600,
		}
		if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
			return 0, err
		}
		transport = tcp
		headers += 20
	}

	payload := make([]byte, max(p.Size-headers, 0))
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, transport, gopacket.Payload(payload)); err != nil {
		return 0, fmt.Errorf("failed to serialize packet: %w", err)
	}
	return headers, nil
}

// Written returns the number of packets written so far.
func (w *Writer) Written() int {
	return w.written
}

// Close closes the underlying file, if any.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}
