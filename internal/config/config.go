package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string in YAML ("3s", "1m").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Caller bool   `yaml:"caller"`
}

// RuleThresholds holds the classifier's decision thresholds. Rule order is fixed.
type RuleThresholds struct {
	DoSPacketsPerSec float64 `yaml:"dos_packets_per_sec"`
	DoSBytesPerSec   float64 `yaml:"dos_bytes_per_sec"`
	DoSRstCount      float64 `yaml:"dos_rst_count"`
	DoSSynCount      float64 `yaml:"dos_syn_count"`

	ScanMaxPackets  float64 `yaml:"scan_max_packets"`
	ScanMaxDuration float64 `yaml:"scan_max_duration"`
	ScanMinPort     uint16  `yaml:"scan_min_port"`
	ScanMaxPort     uint16  `yaml:"scan_max_port"`

	BruteForcePorts       []uint16 `yaml:"brute_force_ports"`
	BruteForceMinPackets  float64  `yaml:"brute_force_min_packets"`
	BruteForceMaxPackets  float64  `yaml:"brute_force_max_packets"`
	BruteForceMaxDuration float64  `yaml:"brute_force_max_duration"`

	ExploitMinAvgSize float64  `yaml:"exploit_min_avg_size"`
	ExploitPorts      []uint16 `yaml:"exploit_ports"`
	ExploitMinPackets float64  `yaml:"exploit_min_packets"`
}

// DefaultRuleThresholds returns the stock detection thresholds.
func DefaultRuleThresholds() RuleThresholds {
	return RuleThresholds{
		DoSPacketsPerSec:      1000,
		DoSBytesPerSec:        10 * 1024 * 1024,
		DoSRstCount:           50,
		DoSSynCount:           100,
		ScanMaxPackets:        10,
		ScanMaxDuration:       1,
		ScanMinPort:           1024,
		ScanMaxPort:           65535,
		BruteForcePorts:       []uint16{21, 22, 23, 80, 443, 3389, 3306, 5432},
		BruteForceMinPackets:  5,
		BruteForceMaxPackets:  100,
		BruteForceMaxDuration: 5,
		ExploitMinAvgSize:     1200,
		ExploitPorts:          []uint16{135, 139, 445},
		ExploitMinPackets:     10,
	}
}

// AutoBlockConfig controls automatic blocking of sources.
type AutoBlockConfig struct {
	Enabled bool `yaml:"enabled"`
	// Severity a classification must carry to be blocked.
	Severity string `yaml:"severity"`
	// MinConfidence must be strictly exceeded.
	MinConfidence int `yaml:"min_confidence"`
}

// DetectionConfig configures the detection loop.
type DetectionConfig struct {
	Interval   Duration        `yaml:"interval"`
	MinBatch   int             `yaml:"min_batch"`
	MaxBatch   int             `yaml:"max_batch"`
	AutoBlock  AutoBlockConfig `yaml:"auto_block"`
	Thresholds RuleThresholds  `yaml:"thresholds"`
}

// SimulatorConfig configures the synthetic flow source.
type SimulatorConfig struct {
	// Seed fixes the random sequence; 0 seeds from the clock.
	Seed int64 `yaml:"seed"`
}

// PcapSourceConfig configures pcap replay.
type PcapSourceConfig struct {
	Path        string   `yaml:"path"`
	FlowTimeout Duration `yaml:"flow_timeout"`
}

// NATSSourceConfig configures the NATS flow subscription.
type NATSSourceConfig struct {
	URL        string `yaml:"url"`
	Subject    string `yaml:"subject"`
	BufferSize int    `yaml:"buffer_size"`
}

// SourceConfig selects and configures the flow source.
type SourceConfig struct {
	Type      string           `yaml:"type"`
	Simulator SimulatorConfig  `yaml:"simulator"`
	Pcap      PcapSourceConfig `yaml:"pcap"`
	NATS      NATSSourceConfig `yaml:"nats"`
}

// ProbeConfig configures ns-probe, which captures traffic and publishes assembled flows.
type ProbeConfig struct {
	NATSURL     string   `yaml:"nats_url"`
	Subject     string   `yaml:"subject"`
	FlowTimeout Duration `yaml:"flow_timeout"`
	SnapshotLen int32    `yaml:"snapshot_len"`
}

// ReputationConfig points at an optional IP/CIDR blocklist.
type ReputationConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	ListenAddr      string   `yaml:"listen_addr"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// GRPCConfig configures the gRPC health endpoint.
type GRPCConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// EventBusConfig configures publishing of push-channel events to NATS.
type EventBusConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// SnapshotConfig configures the gob/json snapshot writer.
type SnapshotConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	RootPath string   `yaml:"root_path"`
	// Restore seeds the in-memory store from the newest snapshot at startup.
	Restore bool `yaml:"restore"`
}

// ClickHouseConfig holds connection details for ClickHouse.
type ClickHouseConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Database string   `yaml:"database"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Interval Duration `yaml:"interval"`
}

// SMTPConfig holds the configuration for sending emails.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	// To is a comma-separated recipient list.
	To string `yaml:"to"`
	// MinInterval is the minimum spacing between two block notifications.
	MinInterval Duration `yaml:"min_interval"`
}

// SupervisorConfig tunes the suture restart policy.
type SupervisorConfig struct {
	FailureThreshold float64  `yaml:"failure_threshold"`
	FailureDecay     float64  `yaml:"failure_decay"`
	FailureBackoff   Duration `yaml:"failure_backoff"`
	ShutdownTimeout  Duration `yaml:"shutdown_timeout"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Detection  DetectionConfig  `yaml:"detection"`
	Source     SourceConfig     `yaml:"source"`
	Probe      ProbeConfig      `yaml:"probe"`
	Reputation ReputationConfig `yaml:"reputation"`
	API        APIConfig        `yaml:"api"`
	GRPC       GRPCConfig       `yaml:"grpc"`
	Events     EventBusConfig   `yaml:"events"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

// Default returns a configuration that runs the simulator with the stock detection settings.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Detection: DetectionConfig{
			Interval: Duration(3 * time.Second),
			MinBatch: 1,
			MaxBatch: 3,
			AutoBlock: AutoBlockConfig{
				Enabled:       true,
				Severity:      "critical",
				MinConfidence: 94,
			},
			Thresholds: DefaultRuleThresholds(),
		},
		Source: SourceConfig{
			Type: "simulator",
			Pcap: PcapSourceConfig{FlowTimeout: Duration(30 * time.Second)},
			NATS: NATSSourceConfig{URL: "nats://127.0.0.1:4222", Subject: "sentinel.flows", BufferSize: 1024},
		},
		Probe: ProbeConfig{
			NATSURL:     "nats://127.0.0.1:4222",
			Subject:     "sentinel.flows",
			FlowTimeout: Duration(30 * time.Second),
			SnapshotLen: 1600,
		},
		API: APIConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		GRPC:     GRPCConfig{ListenAddr: ":9090"},
		Events:   EventBusConfig{URL: "nats://127.0.0.1:4222", SubjectPrefix: "sentinel.events"},
		Snapshot: SnapshotConfig{Interval: Duration(5 * time.Minute), RootPath: "data/snapshots"},
		ClickHouse: ClickHouseConfig{
			Host:     "127.0.0.1",
			Port:     9000,
			Database: "default",
			Interval: Duration(time.Minute),
		},
		SMTP: SMTPConfig{Port: 587, MinInterval: Duration(time.Minute)},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   Duration(15 * time.Second),
			ShutdownTimeout:  Duration(10 * time.Second),
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of Default and validates it.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	d := c.Detection
	if d.Interval <= 0 {
		errs = append(errs, errors.New("detection.interval must be positive"))
	}
	if d.MinBatch < 1 || d.MaxBatch < d.MinBatch {
		errs = append(errs, fmt.Errorf("detection batch bounds invalid: min=%d max=%d", d.MinBatch, d.MaxBatch))
	}
	switch d.AutoBlock.Severity {
	case "critical", "high", "medium", "low":
	default:
		errs = append(errs, fmt.Errorf("detection.auto_block.severity %q is not a severity", d.AutoBlock.Severity))
	}
	if d.AutoBlock.MinConfidence < 0 || d.AutoBlock.MinConfidence > 100 {
		errs = append(errs, errors.New("detection.auto_block.min_confidence must be within [0,100]"))
	}

	switch c.Source.Type {
	case "simulator":
	case "pcap":
		if c.Source.Pcap.Path == "" {
			errs = append(errs, errors.New("source.pcap.path is required for the pcap source"))
		}
	case "nats":
		if c.Source.NATS.URL == "" || c.Source.NATS.Subject == "" {
			errs = append(errs, errors.New("source.nats.url and source.nats.subject are required for the nats source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source type %q", c.Source.Type))
	}

	if c.Reputation.Enabled && c.Reputation.Path == "" {
		errs = append(errs, errors.New("reputation.path is required when reputation is enabled"))
	}
	if c.Snapshot.Enabled && (c.Snapshot.Interval <= 0 || c.Snapshot.RootPath == "") {
		errs = append(errs, errors.New("snapshot requires a positive interval and a root_path"))
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Interval <= 0 {
		errs = append(errs, errors.New("clickhouse.interval must be positive"))
	}
	if c.API.ListenAddr == "" {
		errs = append(errs, errors.New("api.listen_addr is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
