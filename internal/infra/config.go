package infra

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации ретранслятора и CLI.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Everify  EverifyConfig  `mapstructure:"everify"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Session  SessionConfig  `mapstructure:"session"`
	Faces    FacesConfig    `mapstructure:"faces"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает HTTP-сервер ретранслятора.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseConfig описывает подключение к PostgreSQL.
// URL, если задан, перекрывает отдельные параметры.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN собирает строку подключения для pgx.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisConfig — общий слот liveness. Пустой Addr: слот в памяти процесса.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	SlotTTL  time.Duration `mapstructure:"slot_ttl"`
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// EverifyConfig — внешний API и настройки надежности вызовов к нему.
type EverifyConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   uint          `mapstructure:"max_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`

	// Circuit Breaker внешнего API
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBMaxFailures uint32        `mapstructure:"cb_max_failures"`
}

// AuditConfig — политика повторов записи в журнал аудита.
type AuditConfig struct {
	MaxAttempts    uint          `mapstructure:"max_attempts"`
	RetryBase      time.Duration `mapstructure:"retry_base"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// SessionConfig — координатор верификации на стороне оператора.
type SessionConfig struct {
	RelayURL        string        `mapstructure:"relay_url"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout"`
	OpenBrowser     bool          `mapstructure:"open_browser"`
}

// FacesConfig — хранилище изображений лиц: каталог или бакет S3.
type FacesConfig struct {
	Dir             string        `mapstructure:"dir"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	S3Bucket        string        `mapstructure:"s3_bucket"`
	S3Prefix        string        `mapstructure:"s3_prefix"`
	S3Region        string        `mapstructure:"s3_region"`
	S3Endpoint      string        `mapstructure:"s3_endpoint"`
	S3AccessKey     string        `mapstructure:"s3_access_key"`
	S3SecretKey     string        `mapstructure:"s3_secret_key"`
}

func (f FacesConfig) UseS3() bool {
	return f.S3Bucket != ""
}

// JournalConfig — асинхронный журнал вызовов ретранслятора.
type JournalConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// Переменные окружения исторического развертывания. Имена вида EVERIFY_CLIENT_ID тоже работают.
var legacyEnv = map[string]string{
	"everify.client_id":     "CLIENT_ID",
	"everify.client_secret": "CLIENT_SECRET",
	"everify.base_url":      "BASE_URL",
	"database.host":         "PGHOST",
	"database.port":         "PGPORT",
	"database.user":         "PGUSER",
	"database.password":     "PGPASSWORD",
	"database.name":         "PGDATABASE",
	"database.url":          "DB_URL",
}

// LoadConfig объединяет дефолты, файл (если есть), ENV и флаги.
// path пустой: ищем config.yaml в . и ./configs.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// 2. ENV: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, legacy := range legacyEnv {
		envName := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	// 3. Дефолты
	setDefaults(v)

	// 4. Флаги командной строки (имена как ключи: --server.port)
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	// 5. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет, работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}

// ValidateRelay проверяет учетные данные внешнего API.
func (c *Config) ValidateRelay() error {
	var errs []error
	if c.Everify.ClientID == "" {
		errs = append(errs, errors.New("everify.client_id (CLIENT_ID) is required"))
	}
	if c.Everify.ClientSecret == "" {
		errs = append(errs, errors.New("everify.client_secret (CLIENT_SECRET) is required"))
	}
	if c.Everify.BaseURL == "" {
		errs = append(errs, errors.New("everify.base_url is required"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "rvs_db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 15)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.slot_ttl", 10*time.Minute)

	v.SetDefault("everify.base_url", "https://ws.everify.gov.ph/api")
	v.SetDefault("everify.client_id", "")
	v.SetDefault("everify.client_secret", "")
	v.SetDefault("everify.timeout", 10*time.Second)
	v.SetDefault("everify.max_retries", 3)
	v.SetDefault("everify.retry_delay", time.Second)
	v.SetDefault("everify.rate_limit", 20.0)
	v.SetDefault("everify.rate_burst", 5)
	v.SetDefault("everify.cb_max_requests", 3)
	v.SetDefault("everify.cb_interval", 5*time.Second)
	v.SetDefault("everify.cb_timeout", 30*time.Second)
	v.SetDefault("everify.cb_max_failures", 5)

	v.SetDefault("audit.max_attempts", 3)
	v.SetDefault("audit.retry_base", 100*time.Millisecond)
	v.SetDefault("audit.connect_timeout", 5*time.Second)

	v.SetDefault("session.relay_url", "http://127.0.0.1:5000")
	v.SetDefault("session.poll_interval", 2*time.Second)
	v.SetDefault("session.liveness_timeout", 2*time.Minute)
	v.SetDefault("session.open_browser", true)

	v.SetDefault("faces.dir", "faces")
	v.SetDefault("faces.download_timeout", 30*time.Second)
	v.SetDefault("faces.s3_bucket", "")
	v.SetDefault("faces.s3_prefix", "faces/")
	v.SetDefault("faces.s3_region", "us-east-1")
	v.SetDefault("faces.s3_endpoint", "")
	v.SetDefault("faces.s3_access_key", "")
	v.SetDefault("faces.s3_secret_key", "")

	v.SetDefault("journal.buffer_size", 1000)
	v.SetDefault("journal.batch_size", 100)
	v.SetDefault("journal.flush_interval", time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
