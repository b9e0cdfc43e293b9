package probe

import (
	"context"
	"errors"
	"io"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/factory"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/pkg/pcap"
)

func init() {
	factory.RegisterSource("pcap", func(cfg *config.Config) (model.FlowSource, error) {
		return NewPcapSource(cfg.Source.Pcap)
	})
}

// PcapSource replays a capture file as assembled flows. It returns io.EOF once
// the file is exhausted and every pending flow has been handed out.
type PcapSource struct {
	reader *pcap.Reader
	asm    *Assembler
	queue  []model.Flow
	eof    bool
}

// NewPcapSource opens the capture file named in cfg.
func NewPcapSource(cfg config.PcapSourceConfig) (*PcapSource, error) {
	r, err := pcap.NewReader(cfg.Path)
	if err != nil {
		return nil, err
	}
	return newPcapSource(r, cfg.FlowTimeout.Std()), nil
}

func newPcapSource(r *pcap.Reader, timeout time.Duration) *PcapSource {
	return &PcapSource{reader: r, asm: NewAssembler(timeout, 0)}
}

func (s *PcapSource) Name() string { return "pcap" }

// Next returns the next completed flow.
func (s *PcapSource) Next(ctx context.Context) (model.Flow, error) {
	for len(s.queue) == 0 {
		if s.eof {
			return model.Flow{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return model.Flow{}, err
		}
		info, err := s.reader.Next()
		if errors.Is(err, io.EOF) {
			s.queue = s.asm.Flush()
			s.eof = true
			logging.Info().Int("skipped", s.reader.Skipped()).Msg("pcap replay finished")
			continue
		}
		if err != nil {
			return model.Flow{}, err
		}
		s.queue = append(s.queue, s.asm.Add(info)...)
	}
	flow := s.queue[0]
	s.queue = s.queue[1:]
	return flow, nil
}

func (s *PcapSource) Close() error {
	return s.reader.Close()
}
