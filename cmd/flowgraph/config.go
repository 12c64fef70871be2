package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all flowgraph CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string   `json:"db_path"`
	DBDriver       string   `json:"db_driver"`
	LogLevel       string   `json:"log_level"`
	LogFormat      string   `json:"log_format"`
	DiagramsURL    string   `json:"diagrams_url"`
	HandlerTimeout Duration `json:"handler_timeout"`
	StepDelay      Duration `json:"step_delay"`
	Reentry        string   `json:"reentry"`
	PoolSize       int      `json:"pool_size"`
	Trace          bool     `json:"trace"`
	TraceFile      string   `json:"trace_file"`
	ScheduleTick   Duration `json:"schedule_tick"`
}

// Duration is a time.Duration that reads "30s" style strings or plain
// nanosecond numbers from JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

func defaultConfig() Config {
	return Config{
		DBPath:       filepath.Join(flowgraphDir(), "flowgraph.db"),
		DBDriver:     "libsql",
		LogLevel:     "info",
		LogFormat:    "text",
		DiagramsURL:  filepath.Join(flowgraphDir(), "diagrams"),
		Reentry:      "always",
		PoolSize:     10,
		ScheduleTick: Duration(time.Minute),
	}
}

func flowgraphDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowgraph"
	}
	return filepath.Join(home, ".flowgraph")
}

func settingsPath() string {
	return filepath.Join(flowgraphDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *Duration) {
		if v := getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = Duration(d)
			}
		}
	}
	str("FLOWGRAPH_DB_PATH", &cfg.DBPath)
	str("FLOWGRAPH_DB_DRIVER", &cfg.DBDriver)
	str("FLOWGRAPH_LOG_LEVEL", &cfg.LogLevel)
	str("FLOWGRAPH_LOG_FORMAT", &cfg.LogFormat)
	str("FLOWGRAPH_DIAGRAMS_URL", &cfg.DiagramsURL)
	str("FLOWGRAPH_REENTRY", &cfg.Reentry)
	str("FLOWGRAPH_TRACE_FILE", &cfg.TraceFile)
	dur("FLOWGRAPH_HANDLER_TIMEOUT", &cfg.HandlerTimeout)
	dur("FLOWGRAPH_STEP_DELAY", &cfg.StepDelay)
	dur("FLOWGRAPH_SCHEDULE_TICK", &cfg.ScheduleTick)
	if v := getenv("FLOWGRAPH_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := getenv("FLOWGRAPH_TRACE"); v != "" {
		cfg.Trace = v == "true" || v == "1"
	}

	return cfg
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	EngineChanged   bool     // handler_timeout, step_delay or reentry; applies to the next run
	RestartNeeded   []string // fields that require a restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel || old.LogFormat != new.LogFormat {
		d.LogLevelChanged = true
	}
	if old.HandlerTimeout != new.HandlerTimeout || old.StepDelay != new.StepDelay || old.Reentry != new.Reentry {
		d.EngineChanged = true
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.DBDriver != new.DBDriver {
		d.RestartNeeded = append(d.RestartNeeded, "db_driver")
	}
	if old.DiagramsURL != new.DiagramsURL {
		d.RestartNeeded = append(d.RestartNeeded, "diagrams_url")
	}
	if old.PoolSize != new.PoolSize {
		d.RestartNeeded = append(d.RestartNeeded, "pool_size")
	}
	if old.Trace != new.Trace || old.TraceFile != new.TraceFile {
		d.RestartNeeded = append(d.RestartNeeded, "trace")
	}
	if old.ScheduleTick != new.ScheduleTick {
		d.RestartNeeded = append(d.RestartNeeded, "schedule_tick")
	}
	return d
}
