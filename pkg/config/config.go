// Package config loads the manager's runtime configuration from a YAML
// file with BACKENDAI_*-prefixed environment variable overrides, following
// the teacher's flat Config-struct-plus-yaml-tags convention used for its
// cluster/apply resource files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the manager process's full runtime configuration.
type Config struct {
	Storage      StorageConfig      `yaml:"storage"`
	EventBus     EventBusConfig     `yaml:"event_bus"`
	LeaderElect  LeaderElectConfig  `yaml:"leader_election"`
	RPC          RPCConfig          `yaml:"rpc"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Registry     RegistryConfig     `yaml:"registry"`
	Log          LogConfig          `yaml:"log"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// StorageConfig configures the PostgreSQL connection pool.
type StorageConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	RetryAttempts   int           `yaml:"retry_attempts"`
}

// EventBusConfig configures the Redis stream connection.
type EventBusConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	GroupName    string `yaml:"group_name"`
	ProcessIndex int    `yaml:"process_index"`
}

// LeaderElectConfig configures the raft group used to pick the one manager
// process that drives the scheduler ticker.
type LeaderElectConfig struct {
	NodeID   string `yaml:"node_id"`
	BindAddr string `yaml:"bind_addr"`
	DataDir  string `yaml:"data_dir"`
}

// RPCConfig sets the default agent RPC timeouts (spec §5: 10s reads, 30s
// writes).
type RPCConfig struct {
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SchedulerConfig houses the scheduler-tick interval and the configurable
// knobs Design Note 9(b) calls out.
type SchedulerConfig struct {
	TickInterval            time.Duration `yaml:"tick_interval"`
	DefaultSharedMemorySize int64         `yaml:"default_shared_memory_size"`
	CreationWaitPollPeriod  time.Duration `yaml:"creation_wait_poll_period"`
}

// RegistryConfig carries the create_session validation knobs: the set of
// resource slot names a request may use (a request naming any other slot
// is rejected with InvalidArgument), the configured priority
// range (spec §3 "priority clamped to a configured range"; spec §8
// "priority outside [min, max] must fail InvalidArgument"), and how long a
// non-enqueue-only request waits for the session to leave PENDING before
// it's handed back to the caller as a timeout.
type RegistryConfig struct {
	KnownSlotNames          []string      `yaml:"known_slot_names"`
	PriorityMin             int           `yaml:"priority_min"`
	PriorityMax             int           `yaml:"priority_max"`
	DefaultMaxWait          time.Duration `yaml:"default_max_wait"`
	DefaultSharedMemorySize int64         `yaml:"default_shared_memory_size"`
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_output"`
}

// MetricsConfig configures the /metrics HTTP listener.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a Config with the defaults used when a file and
// environment both leave a field unset.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			RetryAttempts:   5,
		},
		EventBus: EventBusConfig{
			Addr:      "127.0.0.1:6379",
			GroupName: "manager",
		},
		LeaderElect: LeaderElectConfig{
			BindAddr: "127.0.0.1:7000",
			DataDir:  "./data/raft",
		},
		RPC: RPCConfig{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			TickInterval:            5 * time.Second,
			DefaultSharedMemorySize: 64 << 20, // 64 MiB
			CreationWaitPollPeriod:  200 * time.Millisecond,
		},
		Registry: RegistryConfig{
			KnownSlotNames:          []string{"cpu", "mem", "cuda.device", "cuda.shares", "rocm.device", "tpu.device"},
			PriorityMin:             0,
			PriorityMax:             100,
			DefaultMaxWait:          10 * time.Second,
			DefaultSharedMemorySize: 64 << 20, // 64 MiB
		},
		Log: LogConfig{Level: "info"},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
		},
	}
}

// Load reads path (if non-empty and present) over the Default(), then
// applies BACKENDAI_*-prefixed environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BACKENDAI_DB_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("BACKENDAI_REDIS_ADDR"); v != "" {
		cfg.EventBus.Addr = v
	}
	if v := os.Getenv("BACKENDAI_REDIS_PASSWORD"); v != "" {
		cfg.EventBus.Password = v
	}
	if v := os.Getenv("BACKENDAI_GROUP_NAME"); v != "" {
		cfg.EventBus.GroupName = v
	}
	if v := os.Getenv("BACKENDAI_PROCESS_INDEX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EventBus.ProcessIndex = n
		}
	}
	if v := os.Getenv("BACKENDAI_NODE_ID"); v != "" {
		cfg.LeaderElect.NodeID = v
	}
	if v := os.Getenv("BACKENDAI_RAFT_BIND_ADDR"); v != "" {
		cfg.LeaderElect.BindAddr = v
	}
	if v := os.Getenv("BACKENDAI_RAFT_DATA_DIR"); v != "" {
		cfg.LeaderElect.DataDir = v
	}
	if v := os.Getenv("BACKENDAI_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("BACKENDAI_METRICS_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv("BACKENDAI_DEFAULT_SHARED_MEMORY_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Scheduler.DefaultSharedMemorySize = n
			cfg.Registry.DefaultSharedMemorySize = n
		}
	}
}
