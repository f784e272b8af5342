package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config: корневая структура конфигурации сервиса мониторинга.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Usage      UsageConfig      `mapstructure:"usage"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Budget     BudgetConfig     `mapstructure:"budget"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Memory     MemoryConfig     `mapstructure:"memory"`
}

// ServerConfig описывает настройки HTTP- и gRPC-серверов.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	GRPCPort     int           `mapstructure:"grpc_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

func (s ServerConfig) GRPCAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort) }

// DatabaseConfig описывает подключение к PostgreSQL. Пустой URL отключает зеркало журнала.
type DatabaseConfig struct {
	URL                 string        `mapstructure:"url"`
	MirrorBufferSize    int           `mapstructure:"mirror_buffer_size"`
	MirrorBatchSize     int           `mapstructure:"mirror_batch_size"`
	MirrorFlushInterval time.Duration `mapstructure:"mirror_flush_interval"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub тревог и память агентов).
// Пустой Addr отключает Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig: проверка JWT для консоли. Без публичного ключа API открыт.
type AuthConfig struct {
	PublicKeyPath string        `mapstructure:"public_key_path"`
	Issuer        string        `mapstructure:"issuer"`
	Leeway        time.Duration `mapstructure:"leeway"`
	PublicKey     []byte
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

type MonitoringConfig struct {
	Interval             time.Duration `mapstructure:"interval"`
	CPUSampleInterval    time.Duration `mapstructure:"cpu_sample_interval"`
	SummaryEvery         int           `mapstructure:"summary_every"`
	ExportEvery          int           `mapstructure:"export_every"`
	HistoryCapacity      int           `mapstructure:"history_capacity"`
	AlertHistoryCapacity int           `mapstructure:"alert_history_capacity"`
	StopTimeout          time.Duration `mapstructure:"stop_timeout"`
	DiskPaths            []string      `mapstructure:"disk_paths"`
	ExportDir            string        `mapstructure:"export_dir"`
	AgentID              string        `mapstructure:"agent_id"`
}

// ThresholdsConfig: пороги ресурсов в процентах. 0 отключает проверку.
type ThresholdsConfig struct {
	CPUWarning     float64 `mapstructure:"cpu_warning"`
	CPUCritical    float64 `mapstructure:"cpu_critical"`
	MemoryWarning  float64 `mapstructure:"memory_warning"`
	MemoryCritical float64 `mapstructure:"memory_critical"`
	DiskWarning    float64 `mapstructure:"disk_warning"`
	DiskCritical   float64 `mapstructure:"disk_critical"`
	SwapWarning    float64 `mapstructure:"swap_warning"`
	SwapCritical   float64 `mapstructure:"swap_critical"`
}

type AlertsConfig struct {
	Cooldown         time.Duration `mapstructure:"cooldown"`
	SuccessRateFloor float64       `mapstructure:"success_rate_floor"`
	LatencyCeilingMs float64       `mapstructure:"latency_ceiling_ms"`
	MinCalls         int64         `mapstructure:"min_calls"`
	LatencyWindow    int           `mapstructure:"latency_window"`
}

type UsageConfig struct {
	JournalPath    string `mapstructure:"journal_path"`
	MaxEntries     int    `mapstructure:"max_entries"`
	TokenStatePath string `mapstructure:"token_state_path"`
}

type PricingConfig struct {
	ConfigPath string `mapstructure:"config_path"`
}

type BudgetConfig struct {
	// DailyUSD: строка, чтобы сумма не проходила через float64. Пусто или 0 — без бюджета.
	DailyUSD         string  `mapstructure:"daily_usd"`
	AlertUtilization float64 `mapstructure:"alert_utilization"`
}

type RateLimitConfig struct {
	CallsPerMinute int `mapstructure:"calls_per_minute"`
}

type MemoryConfig struct {
	Backend string `mapstructure:"backend"` // file, redis
	Dir     string `mapstructure:"dir"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom("")
}

// LoadConfigFrom читает конкретный файл; пустой путь — поиск config.yaml в . и ./configs.
func LoadConfigFrom(path string) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")    // имя файла без расширения
		v.SetConfigType("yaml")      // формат
		v.AddConfigPath(".")         // ищем в корне
		v.AddConfigPath("./configs") // и в папке с конфигами
	}

	// 2. Переменные окружения перекрывают конфиг: MONITORING_INTERVAL=10s перекроет monitoring.interval
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключ из ENV (Docker/K8s) или из файла по пути
	key, err := loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	if err != nil {
		return nil, err
	}
	cfg.Auth.PublicKey = key

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.mirror_buffer_size", 10000)
	v.SetDefault("database.mirror_batch_size", 100)
	v.SetDefault("database.mirror_flush_interval", 500*time.Millisecond)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.leeway", 30*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("monitoring.interval", 30*time.Second)
	v.SetDefault("monitoring.cpu_sample_interval", 500*time.Millisecond)
	v.SetDefault("monitoring.summary_every", 10)
	v.SetDefault("monitoring.export_every", 120)
	v.SetDefault("monitoring.history_capacity", 1000)
	v.SetDefault("monitoring.alert_history_capacity", 500)
	v.SetDefault("monitoring.stop_timeout", 5*time.Second)
	v.SetDefault("monitoring.disk_paths", []string{"/"})
	v.SetDefault("monitoring.export_dir", "data/monitoring")
	v.SetDefault("monitoring.agent_id", "monitoring_agent")

	v.SetDefault("thresholds.cpu_warning", 80.0)
	v.SetDefault("thresholds.cpu_critical", 95.0)
	v.SetDefault("thresholds.memory_warning", 85.0)
	v.SetDefault("thresholds.memory_critical", 95.0)
	v.SetDefault("thresholds.disk_warning", 85.0)
	v.SetDefault("thresholds.disk_critical", 95.0)
	v.SetDefault("thresholds.swap_warning", 50.0)
	v.SetDefault("thresholds.swap_critical", 80.0)

	v.SetDefault("alerts.cooldown", 5*time.Minute)
	v.SetDefault("alerts.success_rate_floor", 0.8)
	v.SetDefault("alerts.latency_ceiling_ms", 5000.0)
	v.SetDefault("alerts.min_calls", 5)
	v.SetDefault("alerts.latency_window", 10)

	v.SetDefault("usage.journal_path", "data/monitoring/llm_usage.json")
	v.SetDefault("usage.max_entries", 10000)
	v.SetDefault("usage.token_state_path", "data/monitoring/api_token_usage.json")

	v.SetDefault("pricing.config_path", "configs/llm_pricing_config.json")

	v.SetDefault("budget.daily_usd", "")
	v.SetDefault("budget.alert_utilization", 0.8)

	v.SetDefault("ratelimit.calls_per_minute", 60)

	v.SetDefault("memory.backend", "file")
	v.SetDefault("memory.dir", "data/memory")
}

// Validate отбрасывает значения, с которыми сервис не сможет работать.
func (c *Config) Validate() error {
	if c.Monitoring.Interval <= 0 {
		return fmt.Errorf("monitoring.interval must be positive, got %s", c.Monitoring.Interval)
	}
	if c.Usage.JournalPath == "" {
		return errors.New("usage.journal_path is required")
	}
	if c.Alerts.SuccessRateFloor < 0 || c.Alerts.SuccessRateFloor > 1 {
		return fmt.Errorf("alerts.success_rate_floor must be within [0,1], got %v", c.Alerts.SuccessRateFloor)
	}
	switch c.Memory.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("memory.backend must be file or redis, got %q", c.Memory.Backend)
	}
	if c.Memory.Backend == "redis" && c.Redis.Addr == "" {
		return errors.New("memory.backend=redis requires redis.addr")
	}
	return nil
}

// loadKeyResource: PEM из переменной окружения или из файла.
// Заданный, но нечитаемый путь считается ошибкой: авторизация не должна молча выключаться.
func loadKeyResource(path string, envDataKey string) ([]byte, error) {
	// Если ключ прилетел напрямую в ENV (Base64 или PEM)
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data), nil
	}
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read auth public key %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("auth public key %s is empty", path)
	}
	return data, nil
}
