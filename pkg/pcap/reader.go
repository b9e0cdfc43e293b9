package pcap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"Go2NetSentinel/internal/engine/protocol"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/model"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Reader reads and parses packets from a pcap stream.
type Reader struct {
	closer  io.Closer
	r       *pcapgo.Reader
	skipped int
}

// NewReader opens a pcap file.
func NewReader(filePath string) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file: %w", err)
	}
	r, err := NewReaderFrom(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReaderFrom reads a pcap stream from an arbitrary reader.
func NewReaderFrom(src io.Reader) (*Reader, error) {
	r, err := pcapgo.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	if r.LinkType() != layers.LinkTypeEthernet {
		return nil, fmt.Errorf("unsupported link type %s", r.LinkType())
	}
	return &Reader{r: r}, nil
}

// Close closes the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Skipped returns the number of packets that could not be parsed so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Next returns the next parseable packet, or io.EOF at the end of the stream.
// Unsupported packets (non-IPv4, non-TCP/UDP) are skipped.
func (r *Reader) Next() (*model.PacketInfo, error) {
	for {
		data, ci, err := r.r.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read packet: %w", err)
		}
		info, err := protocol.ParseBytes(data, ci)
		if err != nil {
			r.skipped++
			continue
		}
		return info, nil
	}
}

// ReadPackets sends every parsed packet to out and closes it when the stream ends
// or ctx is cancelled.
func (r *Reader) ReadPackets(ctx context.Context, out chan<- *model.PacketInfo) error {
	defer close(out)
	for {
		info, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			logging.Warn().Err(err).Msg("stopping pcap read")
			return err
		}
		select {
		case out <- info:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
