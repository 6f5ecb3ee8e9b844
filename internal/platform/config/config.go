package config

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	LockDriverMemory = "memory"
	LockDriverRedis  = "redis"
)

// Config はアプリケーション全体の設定を表現します。
type Config struct {
	Server        ServerConfig        `yaml:"server" env:",prefix=SERVER_"`
	Storage       StorageConfig       `yaml:"storage" env:",prefix=STORAGE_"`
	Database      DatabaseConfig      `yaml:"database" env:",prefix=DATABASE_"`
	Lock          LockConfig          `yaml:"lock" env:",prefix=LOCK_"`
	Consolidation ConsolidationConfig `yaml:"consolidation" env:",prefix=CONSOLIDATION_"`
	Log           LogConfig           `yaml:"log" env:",prefix=LOG_"`
}

// ServerConfig は HTTP / gRPC サーバーに関する設定です。
type ServerConfig struct {
	ListenAddr         string        `yaml:"listen_addr" env:"LISTEN_ADDR, overwrite"`
	GRPCListenAddr     string        `yaml:"grpc_listen_addr" env:"GRPC_LISTEN_ADDR, overwrite"`
	AllowedOrigins     []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS, overwrite"`
	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT, overwrite"`
}

// StorageConfig は永続化先の選択です。
type StorageConfig struct {
	Driver string `yaml:"driver" env:"DRIVER, overwrite"`
}

// DatabaseConfig は PostgreSQL 接続に関する設定です。
type DatabaseConfig struct {
	Host               string        `yaml:"host" env:"HOST, overwrite"`
	Port               int           `yaml:"port" env:"PORT, overwrite"`
	User               string        `yaml:"user" env:"USER, overwrite"`
	Password           string        `yaml:"password" env:"PASSWORD, overwrite"`
	Name               string        `yaml:"name" env:"NAME, overwrite"`
	SSLMode            string        `yaml:"ssl_mode" env:"SSL_MODE, overwrite"`
	MaxOpenConns       int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS, overwrite"`
	MaxIdleConns       int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS, overwrite"`
	ConnectRetries     int           `yaml:"connect_retries" env:"CONNECT_RETRIES, overwrite"`
	ConnMaxLifetime    time.Duration `yaml:"-"`
	ConnMaxIdleTime    time.Duration `yaml:"-"`
	ConnMaxLifetimeRaw string        `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME, overwrite"`
	ConnMaxIdleTimeRaw string        `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME, overwrite"`
}

// LockConfig は集計実行の排他制御に関する設定です。
type LockConfig struct {
	Driver        string        `yaml:"driver" env:"DRIVER, overwrite"`
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR, overwrite"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD, overwrite"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB, overwrite"`
	Key           string        `yaml:"key" env:"KEY, overwrite"`
	TTL           time.Duration `yaml:"-"`
	TTLRaw        string        `yaml:"ttl" env:"TTL, overwrite"`
}

// ConsolidationConfig は集計エンジンと定期実行の設定です。
type ConsolidationConfig struct {
	Schedule               string        `yaml:"schedule" env:"SCHEDULE, overwrite"`
	PageSize               int           `yaml:"page_size" env:"PAGE_SIZE, overwrite"`
	LocationName           string        `yaml:"location" env:"LOCATION, overwrite"`
	NegativeDurationPolicy string        `yaml:"negative_duration_policy" env:"NEGATIVE_DURATION_POLICY, overwrite"`
	RunTimeout             time.Duration `yaml:"-"`
	RunTimeoutRaw          string        `yaml:"run_timeout" env:"RUN_TIMEOUT, overwrite"`

	location *time.Location
}

// Location は暦日の判定に使うタイムゾーンを返します。
func (c ConsolidationConfig) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// LogConfig はロガーの設定です。
type LogConfig struct {
	Mode  string `yaml:"mode" env:"MODE, overwrite"`
	Level string `yaml:"level" env:"LEVEL, overwrite"`
}

// Load は指定されたパスから設定ファイルを読み込み、PUNCH_ で始まる環境変数で上書きします。
func Load(path string) (*Config, error) {
	return LoadWithLookuper(context.Background(), path, envconfig.OsLookuper())
}

// LoadWithLookuper は環境変数の参照先を差し替えて設定を読み込みます。
func LoadWithLookuper(ctx context.Context, path string, lookuper envconfig.Lookuper) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper("PUNCH_", lookuper),
	}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.validateAndNormalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validateAndNormalize() error {
	if err := c.Server.validateAndNormalize(); err != nil {
		return err
	}

	switch c.Storage.Driver {
	case "":
		c.Storage.Driver = StorageDriverPostgres
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return fmt.Errorf("config: storage.driver %q is not supported", c.Storage.Driver)
	}

	if c.Storage.Driver == StorageDriverPostgres {
		if err := c.Database.validateAndNormalize(); err != nil {
			return err
		}
	}

	if err := c.Lock.validateAndNormalize(); err != nil {
		return err
	}

	if err := c.Consolidation.validateAndNormalize(); err != nil {
		return err
	}

	switch strings.ToLower(c.Log.Mode) {
	case "":
		c.Log.Mode = "production"
	case "production", "prod", "development", "dev":
	default:
		return fmt.Errorf("config: log.mode %q is not supported", c.Log.Mode)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	return nil
}

func (s *ServerConfig) validateAndNormalize() error {
	if s.ListenAddr == "" {
		return fmt.Errorf("config: server.listen_addr must be set")
	}

	timeout, err := parseDurationAllowEmpty(s.ShutdownTimeoutRaw)
	if err != nil {
		return fmt.Errorf("config: server.shutdown_timeout: %w", err)
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	s.ShutdownTimeout = timeout

	return nil
}

func (d *DatabaseConfig) validateAndNormalize() error {
	if d.Host == "" {
		return fmt.Errorf("config: database.host must be set")
	}
	if d.Port == 0 {
		return fmt.Errorf("config: database.port must be set")
	}
	if d.User == "" {
		return fmt.Errorf("config: database.user must be set")
	}
	if d.Password == "" {
		return fmt.Errorf("config: database.password must be set")
	}
	if d.Name == "" {
		return fmt.Errorf("config: database.name must be set")
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}
	if d.ConnectRetries < 0 {
		return fmt.Errorf("config: database.connect_retries must not be negative")
	}

	lifetime, err := parseDurationAllowEmpty(d.ConnMaxLifetimeRaw)
	if err != nil {
		return fmt.Errorf("config: database.conn_max_lifetime: %w", err)
	}
	d.ConnMaxLifetime = lifetime

	idleTime, err := parseDurationAllowEmpty(d.ConnMaxIdleTimeRaw)
	if err != nil {
		return fmt.Errorf("config: database.conn_max_idle_time: %w", err)
	}
	d.ConnMaxIdleTime = idleTime

	return nil
}

func (l *LockConfig) validateAndNormalize() error {
	switch l.Driver {
	case "":
		l.Driver = LockDriverMemory
	case LockDriverMemory:
	case LockDriverRedis:
		if l.RedisAddr == "" {
			return fmt.Errorf("config: lock.redis_addr must be set when lock.driver is redis")
		}
	default:
		return fmt.Errorf("config: lock.driver %q is not supported", l.Driver)
	}

	if l.Key == "" {
		l.Key = "punch-consolidation:run-lock"
	}

	ttl, err := parseDurationAllowEmpty(l.TTLRaw)
	if err != nil {
		return fmt.Errorf("config: lock.ttl: %w", err)
	}
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	l.TTL = ttl

	return nil
}

func (c *ConsolidationConfig) validateAndNormalize() error {
	if c.PageSize < 0 {
		return fmt.Errorf("config: consolidation.page_size must not be negative")
	}

	name := c.LocationName
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("config: consolidation.location: %w", err)
	}
	c.location = loc

	switch strings.ToLower(strings.TrimSpace(c.NegativeDurationPolicy)) {
	case "", "keep", "clamp", "reject":
	default:
		return fmt.Errorf("config: consolidation.negative_duration_policy %q is not supported", c.NegativeDurationPolicy)
	}

	timeout, err := parseDurationAllowEmpty(c.RunTimeoutRaw)
	if err != nil {
		return fmt.Errorf("config: consolidation.run_timeout: %w", err)
	}
	c.RunTimeout = timeout

	return nil
}

func parseDurationAllowEmpty(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	return d, nil
}

// DSN は pgx 用の接続文字列を返します。
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}
