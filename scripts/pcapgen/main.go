package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/detector"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/simulator"
	"Go2NetSentinel/pkg/pcap"
)

func main() {
	outputFile := flag.String("o", "data/capture.pcap", "Output pcap file path")
	flowCount := flag.Int("c", 200, "Number of flows to generate")
	kind := flag.String("kind", "", "Generate only this kind (DoS, Scan, Brute Force, Exploit, Benign); empty mixes them")
	seed := flag.Int64("seed", 0, "Simulator seed; 0 seeds from the clock")
	spacing := flag.Duration("spacing", 250*time.Millisecond, "Start-time spacing between consecutive flows")
	flag.Parse()

	var threat model.ThreatType
	if *kind != "" {
		threat = parseKind(*kind)
		if threat == "" {
			fmt.Fprintf(os.Stderr, "unknown kind %q\n", *kind)
			os.Exit(1)
		}
	}

	clock := time.Now().Add(-time.Duration(*flowCount) * *spacing)
	sim := simulator.New(*seed, simulator.WithClock(func() time.Time {
		clock = clock.Add(*spacing)
		return clock
	}))

	det := detector.New(detector.NewClassifier(config.DefaultRuleThresholds()))
	flows := make([]model.Flow, *flowCount)
	counts := make(map[model.ThreatType]int)
	for i := range flows {
		flows[i] = sim.Generate(threat)
		if res, err := det.Detect(flows[i]); err == nil {
			counts[res.Classification.Type]++
		}
	}

	w, err := pcap.NewWriter(*outputFile)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create output file")
	}
	if err := w.WriteFlows(flows); err != nil {
		w.Close()
		logging.Fatal().Err(err).Msg("failed to write flows")
	}
	if err := w.Close(); err != nil {
		logging.Fatal().Err(err).Msg("failed to close output file")
	}

	logging.Info().
		Str("file", *outputFile).
		Int("flows", len(flows)).
		Int("packets", w.Written()).
		Interface("classes", counts).
		Msg("capture generated")
}

func parseKind(s string) model.ThreatType {
	for _, t := range model.ThreatTypes {
		if strings.EqualFold(string(t), s) || strings.EqualFold(strings.ReplaceAll(string(t), " ", ""), s) {
			return t
		}
	}
	return ""
}
