package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"driftwatch/divergence"
	"driftwatch/fuzzy"
	"driftwatch/hasher"
	"driftwatch/ports"
)

// DefaultConfigFile is read when it exists and --config is not given.
var DefaultConfigFile = "/etc/driftwatch/config.json"

const DefaultBaselinePath = "/var/lib/driftwatch/baseline.json"

type Config struct {
	FilePaths        []string          `json:"file_paths" yaml:"file_paths" toml:"file_paths"`
	Directories      []string          `json:"directories" yaml:"directories" toml:"directories"`
	BaselinePath     string            `json:"baseline_path" yaml:"baseline_path" toml:"baseline_path"`
	IncludeOpenPorts bool              `json:"include_open_ports" yaml:"include_open_ports" toml:"include_open_ports"`
	PortsProbe       string            `json:"ports_probe" yaml:"ports_probe" toml:"ports_probe"`
	PortsCommand     string            `json:"ports_command" yaml:"ports_command" toml:"ports_command"`
	PortsTimeout     time.Duration     `json:"ports_timeout" yaml:"ports_timeout" toml:"ports_timeout"`
	PortsPolicy      string            `json:"ports_policy" yaml:"ports_policy" toml:"ports_policy"`
	HashAlgorithms   []string          `json:"hash_algorithms" yaml:"hash_algorithms" toml:"hash_algorithms"`
	IncludePatterns  []string          `json:"include_patterns" yaml:"include_patterns" toml:"include_patterns"`
	ExcludePatterns  []string          `json:"exclude_patterns" yaml:"exclude_patterns" toml:"exclude_patterns"`
	IgnoreFields     []string          `json:"ignore_fields" yaml:"ignore_fields" toml:"ignore_fields"`
	ConcurrencyLevel int               `json:"concurrency_level" yaml:"concurrency_level" toml:"concurrency_level"`
	NiceLevel        string            `json:"nice_level" yaml:"nice_level" toml:"nice_level"`
	MaxFileSize      int64             `json:"max_file_size" yaml:"max_file_size" toml:"max_file_size"`
	ReadTimeout      time.Duration     `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`
	MaxIOPerSecond   int               `json:"max_io_per_second" yaml:"max_io_per_second" toml:"max_io_per_second"`
	ContentReadMode  string            `json:"content_read_mode" yaml:"content_read_mode" toml:"content_read_mode"`
	MmapMinSize      int64             `json:"mmap_min_size" yaml:"mmap_min_size" toml:"mmap_min_size"`
	FuzzyHash        bool              `json:"fuzzy_hash" yaml:"fuzzy_hash" toml:"fuzzy_hash"`
	FuzzyMinSize     int64             `json:"fuzzy_min_size" yaml:"fuzzy_min_size" toml:"fuzzy_min_size"`
	FuzzyMaxSize     int64             `json:"fuzzy_max_size" yaml:"fuzzy_max_size" toml:"fuzzy_max_size"`
	DetectMIME       bool              `json:"detect_mime" yaml:"detect_mime" toml:"detect_mime"`
	Progress         bool              `json:"progress" yaml:"progress" toml:"progress"`
	StallThreshold   time.Duration     `json:"stall_threshold" yaml:"stall_threshold" toml:"stall_threshold"`
	DiagDir          string            `json:"diag_dir" yaml:"diag_dir" toml:"diag_dir"`
	LogLevel         string            `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat        string            `json:"log_format" yaml:"log_format" toml:"log_format"`
	LogFile          string            `json:"log_file" yaml:"log_file" toml:"log_file"`
	OtelEndpoint     string            `json:"otel_endpoint" yaml:"otel_endpoint" toml:"otel_endpoint"`
	OtelFromEnv      bool              `json:"otel_from_env" yaml:"otel_from_env" toml:"otel_from_env"`
	OtelHeaders      map[string]string `json:"otel_headers" yaml:"otel_headers" toml:"otel_headers"`
	OtelServiceName  string            `json:"otel_service_name" yaml:"otel_service_name" toml:"otel_service_name"`
	OtelTimeout      time.Duration     `json:"otel_timeout" yaml:"otel_timeout" toml:"otel_timeout"`
	OtelExportPaths  bool              `json:"otel_export_paths" yaml:"otel_export_paths" toml:"otel_export_paths"`
	ConfigFile       string            `json:"-" yaml:"-" toml:"-"`
	ConcurrencySet   bool              `json:"-" yaml:"-" toml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		FilePaths:        []string{},
		Directories:      []string{},
		BaselinePath:     DefaultBaselinePath,
		PortsProbe:       ports.ProbeCommand,
		PortsCommand:     ports.DefaultCommand,
		PortsTimeout:     5 * time.Second,
		PortsPolicy:      string(divergence.PortsDivergent),
		HashAlgorithms:   []string{},
		IncludePatterns:  []string{},
		ExcludePatterns:  []string{},
		IgnoreFields:     []string{},
		ConcurrencyLevel: runtime.NumCPU(),
		NiceLevel:        "medium",
		MaxFileSize:      1 << 30,
		ReadTimeout:      2 * time.Minute,
		ContentReadMode:  "auto",
		MmapMinSize:      128 * 1024,
		FuzzyMinSize:     256,
		FuzzyMaxSize:     20 * 1024 * 1024,
		Progress:         true,
		LogLevel:         "info",
		LogFormat:        "text",
		OtelHeaders:      map[string]string{},
		OtelServiceName:  "driftwatch",
		OtelTimeout:      5 * time.Second,
	}
}

// Flags binds the command-line surface of Config to a flag set.
type Flags struct {
	fs *pflag.FlagSet

	configFile       string
	filePaths        []string
	directories      []string
	baselinePath     string
	includeOpenPorts bool
	portsProbe       string
	portsCommand     string
	portsTimeout     time.Duration
	portsPolicy      string
	hashes           []string
	includes         []string
	excludes         []string
	ignoreFields     []string
	concurrency      int
	nice             string
	maxFileSize      int64
	readTimeout      time.Duration
	maxIO            int
	contentReadMode  string
	mmapMinSize      int64
	fuzzyHash        bool
	fuzzyMinSize     int64
	fuzzyMaxSize     int64
	detectMIME       bool
	progress         bool
	stallThreshold   time.Duration
	diagDir          string
	logLevel         string
	logFormat        string
	logFile          string
	otelEndpoint     string
	otelFromEnv      bool
	otelHeaders      map[string]string
	otelServiceName  string
	otelTimeout      time.Duration
	otelExportPaths  bool
}

// RegisterFlags adds every configuration flag to fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs}

	fs.StringVar(&f.configFile, "config", "", fmt.Sprintf("Path to a JSON, YAML or TOML configuration file (default: %s when present).", DefaultConfigFile))
	fs.StringSliceVar(&f.filePaths, "file", nil, "Explicit file to fingerprint; repeat or comma-separate.")
	fs.StringSliceVar(&f.directories, "dir", nil, "Directory root to walk recursively; repeat or comma-separate.")
	fs.StringVar(&f.baselinePath, "baseline", d.BaselinePath, "Baseline file location.")
	fs.BoolVar(&f.includeOpenPorts, "include-open-ports", d.IncludeOpenPorts, "Record listening ports next to the fingerprints.")
	fs.StringVar(&f.portsProbe, "ports-probe", d.PortsProbe, "Open ports backend: command, gopsutil or procnet.")
	fs.StringVar(&f.portsCommand, "ports-command", d.PortsCommand, "Command run by the command ports backend.")
	fs.DurationVar(&f.portsTimeout, "ports-timeout", d.PortsTimeout, "Timeout for the open ports probe.")
	fs.StringVar(&f.portsPolicy, "ports-policy", d.PortsPolicy, "Effect of an open ports change: divergent, report or ignore.")
	fs.StringSliceVar(&f.hashes, "hashes", nil, "Extra digests besides MD5, SHA256 and SHA512: sha1, blake3, xxh64.")
	fs.StringSliceVar(&f.includes, "include", nil, "Only fingerprint walked files matching these base-name globs or re:<regex> patterns relative to the walked directory.")
	fs.StringSliceVar(&f.excludes, "exclude", nil, "Skip walked files and directories matching these base-name globs or re:<regex> patterns relative to the walked directory.")
	fs.StringSliceVar(&f.ignoreFields, "ignore-fields", nil, "Record fields left out of the comparison, e.g. last_modified,created.")
	fs.IntVar(&f.concurrency, "concurrency", d.ConcurrencyLevel, "Number of files fingerprinted in parallel.")
	fs.StringVar(&f.nice, "nice", d.NiceLevel, "Nice level when --concurrency is not set: high, medium or low.")
	fs.Int64Var(&f.maxFileSize, "max-file-size", d.MaxFileSize, "Largest file read in bytes (0 means unlimited).")
	fs.DurationVar(&f.readTimeout, "read-timeout", d.ReadTimeout, "Time limit for reading one file (0 means none).")
	fs.IntVar(&f.maxIO, "max-io-per-second", d.MaxIOPerSecond, "Maximum file opens per second (0 means unlimited).")
	fs.StringVar(&f.contentReadMode, "content-read-mode", d.ContentReadMode, "Content read mode: auto, stream or mmap.")
	fs.Int64Var(&f.mmapMinSize, "mmap-min-size", d.MmapMinSize, "Minimum file size in bytes for mmap reads.")
	fs.BoolVar(&f.fuzzyHash, "fuzzy-hash", d.FuzzyHash, "Record a TLSH similarity digest.")
	fs.Int64Var(&f.fuzzyMinSize, "fuzzy-min-size", d.FuzzyMinSize, "Minimum file size in bytes for fuzzy hashing.")
	fs.Int64Var(&f.fuzzyMaxSize, "fuzzy-max-size", d.FuzzyMaxSize, "Maximum file size in bytes for fuzzy hashing.")
	fs.BoolVar(&f.detectMIME, "detect-mime", d.DetectMIME, "Record the MIME type sniffed from file content.")
	fs.BoolVar(&f.progress, "progress", d.Progress, "Show a progress bar on stderr when it is a terminal.")
	fs.DurationVar(&f.stallThreshold, "stall-threshold", d.StallThreshold, "Warn when no file completes for this long (0 disables).")
	fs.StringVar(&f.diagDir, "diag-dir", d.DiagDir, "Directory for stall events and goroutine profiles.")
	fs.StringVar(&f.logLevel, "log-level", d.LogLevel, "Log level: debug, info, warn, error, fatal or panic.")
	fs.StringVar(&f.logFormat, "log-format", d.LogFormat, "Log format: text or json.")
	fs.StringVar(&f.logFile, "log-file", d.LogFile, "Also write logs to this file.")
	fs.StringVar(&f.otelEndpoint, "otel-endpoint", d.OtelEndpoint, "OTLP/HTTP logs endpoint (default: none).")
	fs.BoolVar(&f.otelFromEnv, "otel-from-env", d.OtelFromEnv, "Allow OTEL endpoint fallback from OTEL environment variables.")
	fs.StringToStringVar(&f.otelHeaders, "otel-headers", nil, "OTEL headers (key=value) for export.")
	fs.StringVar(&f.otelServiceName, "otel-service-name", d.OtelServiceName, "OTEL service name for export.")
	fs.DurationVar(&f.otelTimeout, "otel-timeout", d.OtelTimeout, "OTEL export timeout.")
	fs.BoolVar(&f.otelExportPaths, "otel-export-paths", d.OtelExportPaths, "Include file paths in OTEL payloads.")
	return f
}

// Load builds the configuration: defaults, then the config file, then the
// flags that were set explicitly.
func (f *Flags) Load() (*Config, error) {
	cfg := Default()

	switch {
	case f.fs.Changed("config"):
		cfg.ConfigFile = f.configFile
	case fileExists(DefaultConfigFile):
		cfg.ConfigFile = DefaultConfigFile
	}
	if cfg.ConfigFile != "" {
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	// Subcommands parse into a merged set, so only Flag.Changed is reliable.
	f.fs.VisitAll(func(fl *pflag.Flag) {
		if !fl.Changed {
			return
		}
		switch fl.Name {
		case "file":
			cfg.FilePaths = f.filePaths
		case "dir":
			cfg.Directories = f.directories
		case "baseline":
			cfg.BaselinePath = f.baselinePath
		case "include-open-ports":
			cfg.IncludeOpenPorts = f.includeOpenPorts
		case "ports-probe":
			cfg.PortsProbe = f.portsProbe
		case "ports-command":
			cfg.PortsCommand = f.portsCommand
		case "ports-timeout":
			cfg.PortsTimeout = f.portsTimeout
		case "ports-policy":
			cfg.PortsPolicy = f.portsPolicy
		case "hashes":
			cfg.HashAlgorithms = f.hashes
		case "include":
			cfg.IncludePatterns = f.includes
		case "exclude":
			cfg.ExcludePatterns = f.excludes
		case "ignore-fields":
			cfg.IgnoreFields = f.ignoreFields
		case "concurrency":
			cfg.ConcurrencyLevel = f.concurrency
			cfg.ConcurrencySet = true
		case "nice":
			cfg.NiceLevel = f.nice
		case "max-file-size":
			cfg.MaxFileSize = f.maxFileSize
		case "read-timeout":
			cfg.ReadTimeout = f.readTimeout
		case "max-io-per-second":
			cfg.MaxIOPerSecond = f.maxIO
		case "content-read-mode":
			cfg.ContentReadMode = f.contentReadMode
		case "mmap-min-size":
			cfg.MmapMinSize = f.mmapMinSize
		case "fuzzy-hash":
			cfg.FuzzyHash = f.fuzzyHash
		case "fuzzy-min-size":
			cfg.FuzzyMinSize = f.fuzzyMinSize
		case "fuzzy-max-size":
			cfg.FuzzyMaxSize = f.fuzzyMaxSize
		case "detect-mime":
			cfg.DetectMIME = f.detectMIME
		case "progress":
			cfg.Progress = f.progress
		case "stall-threshold":
			cfg.StallThreshold = f.stallThreshold
		case "diag-dir":
			cfg.DiagDir = f.diagDir
		case "log-level":
			cfg.LogLevel = f.logLevel
		case "log-format":
			cfg.LogFormat = f.logFormat
		case "log-file":
			cfg.LogFile = f.logFile
		case "otel-endpoint":
			cfg.OtelEndpoint = f.otelEndpoint
		case "otel-from-env":
			cfg.OtelFromEnv = f.otelFromEnv
		case "otel-headers":
			cfg.OtelHeaders = f.otelHeaders
		case "otel-service-name":
			cfg.OtelServiceName = f.otelServiceName
		case "otel-timeout":
			cfg.OtelTimeout = f.otelTimeout
		case "otel-export-paths":
			cfg.OtelExportPaths = f.otelExportPaths
		}
	})

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %v", err)
	}
	var raw map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("invalid config file format: unknown key %s", undecoded[0])
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
		if data, err = jsonDurations(data); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
	}
	if _, ok := raw["concurrency_level"]; ok {
		cfg.ConcurrencySet = true
	}
	return nil
}

// durationKeys are the JSON keys holding a time.Duration.
var durationKeys = []string{"ports_timeout", "read_timeout", "stall_threshold", "otel_timeout"}

// jsonDurations rewrites duration strings such as "2m" to nanoseconds so
// JSON files accept the same values as YAML, TOML and the flags.
func jsonDurations(data []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	rewritten := false
	for _, key := range durationKeys {
		value, ok := fields[key]
		if !ok || len(value) == 0 || value[0] != '"' {
			continue
		}
		var text string
		if err := json.Unmarshal(value, &text); err != nil {
			return nil, err
		}
		d, err := time.ParseDuration(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("%s: %v", key, err)
		}
		fields[key] = json.RawMessage(strconv.FormatInt(int64(d), 10))
		rewritten = true
	}
	if !rewritten {
		return data, nil
	}
	return json.Marshal(fields)
}

func (cfg *Config) normalize() {
	cfg.FilePaths = cleanList(cfg.FilePaths)
	cfg.Directories = cleanList(cfg.Directories)
	cfg.HashAlgorithms = cleanList(cfg.HashAlgorithms)
	cfg.IncludePatterns = cleanList(cfg.IncludePatterns)
	cfg.ExcludePatterns = cleanList(cfg.ExcludePatterns)
	cfg.IgnoreFields = cleanList(cfg.IgnoreFields)
	for i, algo := range cfg.HashAlgorithms {
		cfg.HashAlgorithms[i] = strings.ToUpper(algo)
	}

	cfg.BaselinePath = strings.TrimSpace(cfg.BaselinePath)
	cfg.DiagDir = strings.TrimSpace(cfg.DiagDir)
	cfg.PortsProbe = strings.ToLower(strings.TrimSpace(cfg.PortsProbe))
	cfg.PortsPolicy = strings.ToLower(strings.TrimSpace(cfg.PortsPolicy))
	cfg.NiceLevel = strings.ToLower(strings.TrimSpace(cfg.NiceLevel))
	cfg.ContentReadMode = strings.ToLower(strings.TrimSpace(cfg.ContentReadMode))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.OtelEndpoint = strings.TrimSpace(cfg.OtelEndpoint)
	cfg.OtelServiceName = strings.TrimSpace(cfg.OtelServiceName)

	if cfg.PortsProbe == "" {
		cfg.PortsProbe = ports.ProbeCommand
	}
	if strings.TrimSpace(cfg.PortsCommand) == "" {
		cfg.PortsCommand = ports.DefaultCommand
	}
	if cfg.PortsPolicy == "" {
		cfg.PortsPolicy = string(divergence.PortsDivergent)
	}
	if cfg.ContentReadMode == "" {
		cfg.ContentReadMode = "auto"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.OtelServiceName == "" {
		cfg.OtelServiceName = "driftwatch"
	}
	if cfg.FuzzyMaxSize > 0 && cfg.FuzzyMaxSize < cfg.FuzzyMinSize {
		cfg.FuzzyMaxSize = cfg.FuzzyMinSize
	}
}

func (cfg *Config) validate() error {
	if len(cfg.FilePaths) == 0 && len(cfg.Directories) == 0 {
		return fmt.Errorf("at least one --file or --dir target must be specified")
	}
	if cfg.BaselinePath == "" {
		return fmt.Errorf("baseline path must not be empty")
	}
	for _, algo := range cfg.HashAlgorithms {
		if !hasher.Supported(algo) {
			return fmt.Errorf("unsupported hash algorithm: %s", algo)
		}
	}
	for _, field := range cfg.IgnoreFields {
		if !divergence.ValidField(field) {
			return fmt.Errorf("unknown ignore field: %s (valid: %s)", field, strings.Join(divergence.Fields(), ", "))
		}
	}
	switch cfg.PortsProbe {
	case ports.ProbeCommand, ports.ProbeGopsutil, ports.ProbeProcNet:
	default:
		return fmt.Errorf("invalid ports-probe value: %s", cfg.PortsProbe)
	}
	switch divergence.PortsPolicy(cfg.PortsPolicy) {
	case divergence.PortsDivergent, divergence.PortsReport, divergence.PortsIgnore:
	default:
		return fmt.Errorf("invalid ports-policy value: %s", cfg.PortsPolicy)
	}
	if cfg.PortsTimeout < 0 {
		return fmt.Errorf("ports-timeout must be zero or positive")
	}
	if cfg.ContentReadMode != "stream" && cfg.ContentReadMode != "mmap" && cfg.ContentReadMode != "auto" {
		return fmt.Errorf("invalid content-read-mode value: %s", cfg.ContentReadMode)
	}
	if cfg.MmapMinSize < 0 {
		return fmt.Errorf("mmap-min-size must be zero or positive")
	}
	if cfg.MaxFileSize < 0 {
		return fmt.Errorf("max-file-size must be zero or positive")
	}
	if cfg.ReadTimeout < 0 {
		return fmt.Errorf("read-timeout must be zero or positive")
	}
	if cfg.FuzzyMinSize < 0 || cfg.FuzzyMaxSize < 0 {
		return fmt.Errorf("fuzzy size limits must be zero or positive")
	}
	if cfg.FuzzyHash {
		if _, ok := fuzzy.Lookup(fuzzy.TLSH); !ok {
			return fmt.Errorf("fuzzy hashing requested but no fuzzy hasher is available")
		}
	}
	if cfg.StallThreshold < 0 {
		return fmt.Errorf("stall-threshold must be zero or positive")
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.OtelEndpoint != "" {
		if !strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
			return fmt.Errorf("otel-endpoint must include scheme (http or https)")
		}
	}
	if cfg.MaxIOPerSecond < 0 {
		return fmt.Errorf("max-io-per-second must be zero or positive")
	}
	if cfg.ConcurrencyLevel <= 0 {
		return fmt.Errorf("concurrency level must be positive")
	}
	if cfg.NiceLevel != "high" && cfg.NiceLevel != "medium" && cfg.NiceLevel != "low" {
		return fmt.Errorf("invalid nice level: %s", cfg.NiceLevel)
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	return nil
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}
