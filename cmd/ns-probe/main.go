package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/engine/protocol"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/probe"
	pcapfile "Go2NetSentinel/pkg/pcap"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// maxFlowPackets bounds how long a busy flow is held before it is published.
const maxFlowPackets = 2000

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML configuration.")
	mode := flag.String("mode", "pub", "Operating mode: 'pub' to capture and publish flows, 'sub' to subscribe and print.")
	iface := flag.String("iface", "", "Interface to capture packets from.")
	file := flag.String("file", "", "Replay a capture file instead of a live interface.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "pub":
		err = runProbe(ctx, cfg.Probe, *iface, *file)
	case "sub":
		err = runSubscriber(ctx, cfg.Source.NATS)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		logging.Fatal().Err(err).Str("mode", *mode).Msg("ns-probe failed")
	}
	logging.Info().Msg("shutdown complete")
}

// runProbe captures packets, assembles flows and publishes them to NATS.
func runProbe(ctx context.Context, cfg config.ProbeConfig, iface, file string) error {
	if iface == "" && file == "" {
		return fmt.Errorf("-iface or -file is required in pub mode")
	}

	pub, err := probe.NewPublisher(cfg.NATSURL, cfg.Subject)
	if err != nil {
		return err
	}
	defer pub.Close()

	packets := make(chan *model.PacketInfo, 1024)
	if file != "" {
		r, err := pcapfile.NewReader(file)
		if err != nil {
			return err
		}
		defer r.Close()
		logging.Info().Str("file", file).Msg("replaying capture")
		go func() {
			if err := r.ReadPackets(ctx, packets); err != nil && ctx.Err() == nil {
				logging.Error().Err(err).Msg("capture replay failed")
			}
		}()
	} else {
		handle, err := pcap.OpenLive(iface, cfg.SnapshotLen, true, pcap.BlockForever)
		if err != nil {
			return fmt.Errorf("error opening device %s: %w", iface, err)
		}
		defer handle.Close()
		logging.Info().Str("iface", iface).Msg("capture started")
		go capture(ctx, gopacket.NewPacketSource(handle, handle.LinkType()), packets)
	}

	asm := probe.NewAssembler(cfg.FlowTimeout.Std(), maxFlowPackets)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	published := 0
	publish := func(flows []model.Flow) {
		for _, f := range flows {
			if err := pub.Publish(f); err != nil {
				logging.Warn().Err(err).Str("src_ip", f.SrcIP).Msg("failed to publish flow")
				continue
			}
			published++
			if published%1000 == 0 {
				logging.Info().Int("flows", published).Msg("flows published")
			}
		}
	}

	for {
		select {
		case info, ok := <-packets:
			if !ok {
				publish(asm.Flush())
				logging.Info().Int("flows", published).Msg("capture finished")
				return nil
			}
			publish(asm.Add(info))
		case now := <-ticker.C:
			if file == "" {
				publish(asm.Expire(now))
			}
		case <-ctx.Done():
			publish(asm.Flush())
			logging.Info().Int("flows", published).Msg("capture stopped")
			return nil
		}
	}
}

func capture(ctx context.Context, src *gopacket.PacketSource, out chan<- *model.PacketInfo) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case packet, ok := <-src.Packets():
			if !ok {
				return
			}
			info, err := protocol.ParsePacket(packet)
			if err != nil {
				continue
			}
			select {
			case out <- info:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runSubscriber prints the flows arriving on the subject the sentinel consumes.
func runSubscriber(ctx context.Context, cfg config.NATSSourceConfig) error {
	sub, err := probe.NewSubscriber(cfg)
	if err != nil {
		return err
	}
	defer sub.Close()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info().Uint64("dropped", sub.Dropped()).Msg("subscriber stopped")
			return nil
		case <-ticker.C:
			for {
				f, err := sub.Next(ctx)
				if err != nil {
					break
				}
				logging.Info().
					Str("src_ip", f.SrcIP).
					Str("dst_ip", f.DstIP).
					Uint16("dst_port", f.DstPort).
					Str("protocol", f.Protocol).
					Int("packets", len(f.Packets)).
					Msg("flow received")
			}
		}
	}
}
