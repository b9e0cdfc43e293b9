package protocol

import (
	"net"
	"testing"
	"time"

	"Go2NetSentinel/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func ethernet(t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: t,
	}
}

func TestParseTCPWithFlags(t *testing.T) {
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IP{192, 168, 1, 105}, DstIP: net.IP{10, 0, 0, 50}}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 22, SYN: true, RST: true, Window: 1024}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	data := serialize(t, ethernet(layers.EthernetTypeIPv4), ip, tcp, gopacket.Payload([]byte("hello")))

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	info, err := ParseBytes(data, gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)})
	require.NoError(t, err)

	assert.Equal(t, ts, info.Timestamp)
	assert.Equal(t, len(data), info.Length)
	assert.Equal(t, "192.168.1.105", info.FiveTuple.SrcIP.String())
	assert.Equal(t, "10.0.0.50", info.FiveTuple.DstIP.String())
	assert.Equal(t, uint16(40000), info.FiveTuple.SrcPort)
	assert.Equal(t, uint16(22), info.FiveTuple.DstPort)
	assert.Equal(t, "TCP", info.FiveTuple.ProtocolName())
	assert.True(t, info.Flags.Has(model.FlagSYN|model.FlagRST))
	assert.False(t, info.Flags.Has(model.FlagACK))
}

func TestParseUDP(t *testing.T) {
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IP{10, 1, 1, 23}, DstIP: net.IP{8, 8, 8, 8}}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	data := serialize(t, ethernet(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload([]byte{1, 2, 3}))

	info, err := ParseBytes(data, gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(data), Length: len(data)})
	require.NoError(t, err)
	assert.Equal(t, "UDP", info.FiveTuple.ProtocolName())
	assert.Equal(t, uint16(53), info.FiveTuple.DstPort)
	assert.Zero(t, info.Flags)
}

func TestParseRejectsNonIPv4(t *testing.T) {
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte{0, 1, 2, 3, 4, 5},
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{10, 0, 0, 2},
	}
	data := serialize(t, ethernet(layers.EthernetTypeARP), arp)
	_, err := ParseBytes(data, gopacket.CaptureInfo{Timestamp: time.Now()})
	assert.ErrorIs(t, err, ErrNotIPv4)
}

func TestParseRejectsICMP(t *testing.T) {
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4,
		SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
	data := serialize(t, ethernet(layers.EthernetTypeIPv4), ip, icmp)
	_, err := ParseBytes(data, gopacket.CaptureInfo{Timestamp: time.Now()})
	assert.ErrorIs(t, err, ErrNotTCPOrUDP)
}
