package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config корневая структура конфигурации.
type Config struct {
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Engine    EngineConfig    `mapstructure:"engine"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// WorkspaceConfig каталог с журналом, правилами, каталогом моделей и учётом расходов.
type WorkspaceConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"` // перечитывать правила и каталог при изменении файлов
}

// ServerConfig описывает настройки HTTP-консоли.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // пусто: метрики не публикуются
}

// DatabaseConfig подключение к PostgreSQL для зеркала журнала. Пустой URL отключает зеркало.
type DatabaseConfig struct {
	URL     string `mapstructure:"url"`
	Migrate bool   `mapstructure:"migrate"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и блокировки). Пустой Addr отключает Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и операторов консоли.
type AuthConfig struct {
	PublicKeyPath  string           `mapstructure:"public_key_path"`
	PrivateKeyPath string           `mapstructure:"private_key_path"`
	TokenTTL       time.Duration    `mapstructure:"token_ttl"`
	Issuer         string           `mapstructure:"issuer"`
	Operators      []OperatorConfig `mapstructure:"operators"`
	PublicKey      []byte
	PrivateKey     []byte
}

type OperatorConfig struct {
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"` // bcrypt
	Scopes       []string `mapstructure:"scopes"`
}

// EngineConfig настройки конвейера оркестратора.
type EngineConfig struct {
	DefaultAgent       string        `mapstructure:"default_agent"`
	MaxDelegationDepth int           `mapstructure:"max_delegation_depth"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatLockTTL   time.Duration `mapstructure:"heartbeat_lock_ttl"`
	SystemPrompt       string        `mapstructure:"system_prompt"`
	Skills             []SkillConfig `mapstructure:"skills"`

	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditBatchSize     int           `mapstructure:"audit_batch_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`
}

// SkillConfig навык и слова, по которым он подключается к запросу
type SkillConfig struct {
	ID       string   `mapstructure:"id"`
	Triggers []string `mapstructure:"triggers"`
}

// LLMConfig клиент модели рассуждений и его защитная обвязка.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider"` // scripted
	ScriptedReply     string        `mapstructure:"scripted_reply"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RetryAttempts     uint          `mapstructure:"retry_attempts"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`

	// Настройки Circuit Breaker
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

// AlertsConfig канал уведомлений принципала.
type AlertsConfig struct {
	Sender     string `mapstructure:"sender"` // log, redis
	MaxPerHour int    `mapstructure:"max_per_hour"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig объединяет значения из файла и ENV. path может быть пустым: тогда
// config.yaml ищется в текущем каталоге и в ./configs.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет: работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Сам PEM-ключ может лежать в ENV (Docker/K8s), иначе читаем файл
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace.path", "./workspace")
	v.SetDefault("workspace.watch", true)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("auth.issuer", "swarm-governor")

	v.SetDefault("engine.default_agent", "coyote")
	v.SetDefault("engine.max_delegation_depth", 3)
	v.SetDefault("engine.heartbeat_interval", 30*time.Minute)
	v.SetDefault("engine.heartbeat_lock_ttl", 10*time.Minute)
	v.SetDefault("engine.audit_buffer_size", 1000)
	v.SetDefault("engine.audit_batch_size", 100)
	v.SetDefault("engine.audit_flush_interval", 1*time.Second)

	v.SetDefault("llm.provider", "scripted")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.retry_attempts", 1)
	v.SetDefault("llm.requests_per_second", 5)
	v.SetDefault("llm.burst", 5)
	v.SetDefault("llm.cb_max_requests", 3)
	v.SetDefault("llm.cb_interval", 60*time.Second)
	v.SetDefault("llm.cb_timeout", 30*time.Second)

	v.SetDefault("alerts.sender", "log")
	v.SetDefault("alerts.max_per_hour", 5)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
