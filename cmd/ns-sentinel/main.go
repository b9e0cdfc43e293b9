package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"Go2NetSentinel/internal/app"
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/probe"
	"Go2NetSentinel/internal/simulator"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "ns-sentinel",
	Short:         "Network flow threat detection service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the detection loop, REST API and push channel",
	RunE:  runServe,
}

var (
	simulateFlows int
	seed          int64
	asJSON        bool
	withEvents    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [capture.pcap]",
	Short: "Classify the flows of a capture file (or simulated traffic) and print a summary",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAnalyze,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the YAML configuration")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Override logging.level")

	analyzeCmd.Flags().IntVar(&simulateFlows, "simulate", 0, "Analyze this many simulated flows instead of a capture")
	analyzeCmd.Flags().Int64Var(&seed, "seed", 1, "Simulator seed used with --simulate")
	analyzeCmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	analyzeCmd.Flags().BoolVar(&withEvents, "events", false, "Include every threat event in the JSON output")

	rootCmd.AddCommand(serveCmd, analyzeCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := a.Run(ctx); err != nil {
		return err
	}
	logging.Info().Msg("shutdown complete")
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var src model.FlowSource
	switch {
	case simulateFlows > 0:
		src = simulator.New(seed)
	case len(args) == 1:
		src, err = probe.NewPcapSource(config.PcapSourceConfig{Path: args[0], FlowTimeout: cfg.Source.Pcap.FlowTimeout})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("either a capture file or --simulate is required")
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	sum, err := app.Analyze(ctx, cfg, src, simulateFlows)
	if err != nil {
		return err
	}
	logging.Info().Int("flows", sum.Flows).Dur("elapsed", time.Since(start)).Msg("analysis complete")

	if !withEvents {
		sum.Events = nil
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	printSummary(cmd.OutOrStdout(), sum)
	return nil
}

func printSummary(w io.Writer, sum app.Summary) {
	fmt.Fprintf(w, "source:          %s\n", sum.Source)
	fmt.Fprintf(w, "flows:           %d\n", sum.Flows)
	fmt.Fprintf(w, "benign:          %d\n", sum.Benign)
	fmt.Fprintf(w, "threats:         %d\n", sum.Metrics.TotalThreats)
	fmt.Fprintf(w, "avg confidence:  %.1f\n", sum.Metrics.AvgConfidence)
	fmt.Fprintf(w, "blocked sources: %d\n", sum.Metrics.BlockedIPs)
	if sum.Errors > 0 {
		fmt.Fprintf(w, "errors:          %d\n", sum.Errors)
	}

	types := make([]string, 0, len(sum.Metrics.ThreatsByType))
	for t := range sum.Metrics.ThreatsByType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %-12s %d\n", t, sum.Metrics.ThreatsByType[model.ThreatType(t)])
	}
	for _, b := range sum.Blocked {
		fmt.Fprintf(w, "blocked %-15s %s\n", b.IPAddress, b.Reason)
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
