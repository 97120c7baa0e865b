package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cast"

	"github.com/xiaoxuxiansheng/txbridge/engine"
	"github.com/xiaoxuxiansheng/txbridge/log"
)

type Config struct {
	Engine      EngineConfig      `toml:"engine"`
	Log         LogConfig         `toml:"log"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Journal     JournalConfig     `toml:"journal"`
}

type EngineConfig struct {
	Path              string `toml:"path"`
	Temporary         bool   `toml:"temporary"`
	ReadOnly          bool   `toml:"read_only"`
	SyncWrites        bool   `toml:"sync_writes"`
	CacheCapacity     int64  `toml:"cache_capacity"`
	UseCompression    bool   `toml:"use_compression"`
	CompressionFactor int    `toml:"compression_factor"`
	ConflictRetries   int    `toml:"conflict_retries"`
	// 目录已存在数据时拒绝打开
	CreateNew bool `toml:"create_new"`
	// high_throughput 或 low_space
	Mode                string `toml:"mode"`
	PrintProfileOnClose bool   `toml:"print_profile_on_close"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	FileName   string `toml:"file_name"`
	MaxSize    int    `toml:"max_size"`
	MaxAge     int    `toml:"max_age"`
	MaxBackups int    `toml:"max_backups"`
	Compress   bool   `toml:"compress"`
}

type CoordinatorConfig struct {
	// 0 表示不限制并发 worker 数量
	MaxWorkers     int      `toml:"max_workers"`
	MailboxSize    int      `toml:"mailbox_size"`
	MonitorTick    Duration `toml:"monitor_tick"`
	StallThreshold Duration `toml:"stall_threshold"`
}

type JournalConfig struct {
	// memory 或 mysql
	Driver        string `toml:"driver"`
	DSN           string `toml:"dsn"`
	RedisAddress  string `toml:"redis_address"`
	RedisPassword string `toml:"redis_password"`
	Namespace     string `toml:"namespace"`
}

// Duration 支持 toml 中以 "10s" 形式书写时长
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Path:            "data",
			ConflictRetries: engine.DefaultConflictRetries,
		},
		Log: LogConfig{
			Level:      getLogLevel(),
			MaxSize:    100,
			MaxAge:     10,
			MaxBackups: 3,
			Compress:   true,
		},
		Coordinator: CoordinatorConfig{
			MailboxSize:    16,
			MonitorTick:    Duration{10 * time.Second},
			StallThreshold: Duration{time.Minute},
		},
		Journal: JournalConfig{
			Driver: "memory",
		},
	}
}

// Load 读取 toml 配置文件，未出现的配置项保持默认值
func Load(path string) (*Config, error) {
	conf := NewDefaultConfig()
	if path == "" {
		return conf, conf.Validate()
	}
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return conf, conf.Validate()
}

// FromOptions 从松散类型的选项表构造引擎配置，值的类型按需转换，例如 "true"、"1024"、1.0。
// 未识别的 key 报错，nil 值视为未设置。
func FromOptions(options map[string]interface{}) (*Config, error) {
	conf := NewDefaultConfig()
	for key, value := range options {
		if value == nil {
			continue
		}
		var err error
		switch key {
		case "path":
			conf.Engine.Path, err = cast.ToStringE(value)
		case "temporary":
			conf.Engine.Temporary, err = cast.ToBoolE(value)
		case "read_only":
			conf.Engine.ReadOnly, err = cast.ToBoolE(value)
		case "sync_writes":
			conf.Engine.SyncWrites, err = cast.ToBoolE(value)
		case "cache_capacity":
			conf.Engine.CacheCapacity, err = cast.ToInt64E(value)
		case "use_compression":
			conf.Engine.UseCompression, err = cast.ToBoolE(value)
		case "compression_factor":
			conf.Engine.CompressionFactor, err = cast.ToIntE(value)
		case "conflict_retries":
			conf.Engine.ConflictRetries, err = cast.ToIntE(value)
		case "create_new":
			conf.Engine.CreateNew, err = cast.ToBoolE(value)
		case "mode":
			conf.Engine.Mode, err = cast.ToStringE(value)
		case "print_profile_on_close", "print_profile_on_drop":
			conf.Engine.PrintProfileOnClose, err = cast.ToBoolE(value)
		case "log_level":
			conf.Log.Level, err = cast.ToStringE(value)
		case "max_workers":
			conf.Coordinator.MaxWorkers, err = cast.ToIntE(value)
		case "mailbox_size":
			conf.Coordinator.MailboxSize, err = cast.ToIntE(value)
		case "monitor_tick":
			conf.Coordinator.MonitorTick.Duration, err = cast.ToDurationE(value)
		case "stall_threshold":
			conf.Coordinator.StallThreshold.Duration, err = cast.ToDurationE(value)
		default:
			return nil, fmt.Errorf("unknown option: %s", key)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid option %s: %w", key, err)
		}
	}
	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	if !c.Engine.Temporary && c.Engine.Path == "" {
		return fmt.Errorf("engine path must be set unless temporary")
	}
	if c.Engine.Temporary && c.Engine.ReadOnly {
		return fmt.Errorf("a temporary engine cannot be read only")
	}
	if c.Engine.ConflictRetries < 0 {
		return fmt.Errorf("conflict retries must not be negative")
	}
	if c.Engine.CompressionFactor < 0 || c.Engine.CompressionFactor > 22 {
		return fmt.Errorf("compression factor must be in [0, 22]")
	}
	switch engine.Mode(c.Engine.Mode) {
	case "", engine.ModeHighThroughput, engine.ModeLowSpace:
	default:
		return fmt.Errorf("unknown engine mode: %s", c.Engine.Mode)
	}
	if _, ok := log.Levels[c.Log.Level]; !ok {
		return fmt.Errorf("unknown log level: %s", c.Log.Level)
	}
	if c.Coordinator.MaxWorkers < 0 {
		return fmt.Errorf("max workers must not be negative")
	}
	if c.Coordinator.MailboxSize < 2 {
		return fmt.Errorf("mailbox size must be at least 2")
	}
	if c.Coordinator.MonitorTick.Duration <= 0 || c.Coordinator.StallThreshold.Duration <= 0 {
		return fmt.Errorf("monitor tick and stall threshold must be positive")
	}
	switch c.Journal.Driver {
	case "memory":
	case "mysql":
		if c.Journal.DSN == "" || c.Journal.RedisAddress == "" {
			return fmt.Errorf("mysql journal requires dsn and redis_address")
		}
	default:
		return fmt.Errorf("unknown journal driver: %s", c.Journal.Driver)
	}
	return nil
}

// EngineOptions 转换为存储引擎配置
func (c *Config) EngineOptions(logger log.Logger) engine.Options {
	return engine.Options{
		Path:                c.Engine.Path,
		Temporary:           c.Engine.Temporary,
		ReadOnly:            c.Engine.ReadOnly,
		SyncWrites:          c.Engine.SyncWrites,
		CacheCapacity:       c.Engine.CacheCapacity,
		UseCompression:      c.Engine.UseCompression,
		CompressionFactor:   c.Engine.CompressionFactor,
		ConflictRetries:     c.Engine.ConflictRetries,
		CreateNew:           c.Engine.CreateNew,
		Mode:                engine.Mode(c.Engine.Mode),
		PrintProfileOnClose: c.Engine.PrintProfileOnClose,
		Logger:              logger,
	}
}

// LogOptions 转换为日志配置
func (c *Config) LogOptions() log.Options {
	return log.NewOptions(
		log.WithLogLevel(c.Log.Level),
		log.WithFileName(c.Log.FileName),
		log.WithRotation(c.Log.MaxSize, c.Log.MaxAge, c.Log.MaxBackups, c.Log.Compress),
	)
}

// String 以 toml 格式输出生效的配置，密码打码
func (c *Config) String() string {
	inspect := *c
	if inspect.Journal.RedisPassword != "" {
		inspect.Journal.RedisPassword = "******"
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(inspect); err != nil {
		return fmt.Sprintf("invalid config: %v", err)
	}
	return buf.String()
}
