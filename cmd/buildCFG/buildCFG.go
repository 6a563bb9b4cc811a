package buildCFG

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"tracklink/internal/geo"
	"tracklink/internal/repo"
	"tracklink/internal/service"
	"tracklink/internal/tracker"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"

	envPrefix = "TRACKLINK"
)

type ServerConfig struct {
	Port            string
	Name            string
	GinMode         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type LinksConfig struct {
	Backend  string
	Capacity int
	TTL      time.Duration
}

type VisitsConfig struct {
	Backend  string
	Capacity int
}

type GeoConfig struct {
	BaseURL            string
	Timeout            time.Duration
	LoopbackSubstitute string
	Breaker            geo.BreakerSettings
}

type DBOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(cfg *viper.Viper) {
	cfg.SetDefault("server.port", "3000")
	cfg.SetDefault("server.name", "tracklink")
	cfg.SetDefault("server.base_url", "")
	cfg.SetDefault("server.gin_mode", "release")
	cfg.SetDefault("server.read_timeout", "10s")
	cfg.SetDefault("server.write_timeout", "10s")
	cfg.SetDefault("server.shutdown_timeout", "10s")

	cfg.SetDefault("video.host", service.DefaultVideoHost)

	cfg.SetDefault("links.backend", BackendMemory)
	cfg.SetDefault("links.capacity", strconv.Itoa(repo.DefaultLinkCapacity))
	cfg.SetDefault("links.ttl", repo.DefaultLinkTTL.String())

	cfg.SetDefault("visits.backend", BackendMemory)
	cfg.SetDefault("visits.capacity", strconv.Itoa(repo.DefaultVisitCapacity))

	cfg.SetDefault("geo.base_url", geo.DefaultIPAPIURL)
	cfg.SetDefault("geo.timeout", geo.DefaultTimeout.String())
	cfg.SetDefault("geo.loopback_substitute", "8.8.8.8")
	cfg.SetDefault("geo.breaker_failures", "5")
	cfg.SetDefault("geo.breaker_timeout", "30s")

	cfg.SetDefault("tracker.workers", strconv.Itoa(tracker.DefaultWorkers))
	cfg.SetDefault("tracker.queue_size", strconv.Itoa(tracker.DefaultQueueSize))
	cfg.SetDefault("tracker.task_timeout", tracker.DefaultTaskTimeout.String())

	cfg.SetDefault("database.dsn", "")
	cfg.SetDefault("database.host", "localhost")
	cfg.SetDefault("database.port", "5432")
	cfg.SetDefault("database.name", "tracklink")
	cfg.SetDefault("database.user", "postgres")
	cfg.SetDefault("database.password", "")
	cfg.SetDefault("database.ssl_mode", "disable")
	cfg.SetDefault("database.max_conns", "10")
	cfg.SetDefault("database.max_idle_conns", "5")
	cfg.SetDefault("database.max_conn_lifetime", "30m")

	cfg.SetDefault("redis.addr", "localhost:6379")
	cfg.SetDefault("redis.password", "")
	cfg.SetDefault("redis.db", "0")
	cfg.SetDefault("redis.prefix", repo.DefaultRedisPrefix)

	cfg.SetDefault("kafka.enabled", "false")
	cfg.SetDefault("kafka.brokers", "localhost:9092")
	cfg.SetDefault("kafka.topic", "tracklink.visits")

	cfg.SetDefault("log.level", "info")
	cfg.SetDefault("log.format", "console")
}

// Load reads an optional .env file and an optional YAML config at path.
// Environment variables override the file: TRACKLINK_<SECTION>_<KEY>, plus
// the short forms PORT, BASE_URL and DATABASE_URL.
func Load(path string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := viper.New()
	setDefaults(cfg)

	cfg.SetEnvPrefix(envPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()
	_ = cfg.BindEnv("server.port", envPrefix+"_SERVER_PORT", "PORT")
	_ = cfg.BindEnv("server.base_url", envPrefix+"_SERVER_BASE_URL", "BASE_URL")
	_ = cfg.BindEnv("database.dsn", envPrefix+"_DATABASE_DSN", "DATABASE_URL")

	if path != "" {
		cfg.SetConfigFile(path)
		if err := cfg.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	return cfg, nil
}

func BuildLogConfig(cfg *viper.Viper) LogConfig {
	return LogConfig{
		Level:  cfg.GetString("log.level"),
		Format: cfg.GetString("log.format"),
	}
}

func BuildServerConfig(cfg *viper.Viper, log *zerolog.Logger) (ServerConfig, error) {
	port := cfg.GetString("server.port")
	if _, err := strconv.Atoi(port); err != nil {
		log.Error().Msgf("invalid server.port: %v", err)
		return ServerConfig{}, fmt.Errorf("invalid server.port: %w", err)
	}

	timeouts := make(map[string]time.Duration, 3)
	for _, key := range []string{"server.read_timeout", "server.write_timeout", "server.shutdown_timeout"} {
		d, err := parseDuration(cfg, key, log)
		if err != nil {
			return ServerConfig{}, err
		}
		timeouts[key] = d
	}

	serverName := cfg.GetString("server.name")
	log.Info().Msgf("Starting %s on port %s (timeout %s)", serverName, port, timeouts["server.write_timeout"])

	return ServerConfig{
		Port:            port,
		Name:            serverName,
		GinMode:         cfg.GetString("server.gin_mode"),
		ReadTimeout:     timeouts["server.read_timeout"],
		WriteTimeout:    timeouts["server.write_timeout"],
		ShutdownTimeout: timeouts["server.shutdown_timeout"],
	}, nil
}

func BuildServiceConfig(cfg *viper.Viper, links LinksConfig) service.Config {
	return service.Config{
		VideoHost: cfg.GetString("video.host"),
		BaseURL:   cfg.GetString("server.base_url"),
		LinkTTL:   links.TTL,
	}
}

func BuildLinksConfig(cfg *viper.Viper, log *zerolog.Logger) (LinksConfig, error) {
	backend, err := parseBackend(cfg, "links.backend", log, BackendMemory, BackendRedis)
	if err != nil {
		return LinksConfig{}, err
	}
	capacity, err := parsePositiveInt(cfg, "links.capacity", log)
	if err != nil {
		return LinksConfig{}, err
	}
	ttl, err := parseDuration(cfg, "links.ttl", log)
	if err != nil {
		return LinksConfig{}, err
	}

	log.Info().Msgf("Link table: backend=%s capacity=%d ttl=%s", backend, capacity, ttl)
	return LinksConfig{Backend: backend, Capacity: capacity, TTL: ttl}, nil
}

func BuildVisitsConfig(cfg *viper.Viper, log *zerolog.Logger) (VisitsConfig, error) {
	backend, err := parseBackend(cfg, "visits.backend", log, BackendMemory, BackendPostgres)
	if err != nil {
		return VisitsConfig{}, err
	}
	capacity, err := parsePositiveInt(cfg, "visits.capacity", log)
	if err != nil {
		return VisitsConfig{}, err
	}

	log.Info().Msgf("Visit ledger: backend=%s capacity=%d", backend, capacity)
	return VisitsConfig{Backend: backend, Capacity: capacity}, nil
}

func BuildGeoConfig(cfg *viper.Viper, log *zerolog.Logger) (GeoConfig, error) {
	timeout, err := parseDuration(cfg, "geo.timeout", log)
	if err != nil {
		return GeoConfig{}, err
	}
	failures, err := parsePositiveInt(cfg, "geo.breaker_failures", log)
	if err != nil {
		return GeoConfig{}, err
	}
	openTimeout, err := parseDuration(cfg, "geo.breaker_timeout", log)
	if err != nil {
		return GeoConfig{}, err
	}

	substitute := strings.TrimSpace(cfg.GetString("geo.loopback_substitute"))
	if substitute != "" {
		log.Warn().Msgf("Loopback client addresses will be geolocated as %s", substitute)
	}

	return GeoConfig{
		BaseURL:            cfg.GetString("geo.base_url"),
		Timeout:            timeout,
		LoopbackSubstitute: substitute,
		Breaker: geo.BreakerSettings{
			ConsecutiveFailures: uint32(failures),
			OpenTimeout:         openTimeout,
		},
	}, nil
}

func BuildTrackerConfig(cfg *viper.Viper, log *zerolog.Logger) (tracker.Config, error) {
	workers, err := parsePositiveInt(cfg, "tracker.workers", log)
	if err != nil {
		return tracker.Config{}, err
	}
	queueSize, err := parsePositiveInt(cfg, "tracker.queue_size", log)
	if err != nil {
		return tracker.Config{}, err
	}
	taskTimeout, err := parseDuration(cfg, "tracker.task_timeout", log)
	if err != nil {
		return tracker.Config{}, err
	}

	return tracker.Config{Workers: workers, QueueSize: queueSize, TaskTimeout: taskTimeout}, nil
}

// BuildDBConfig prefers database.dsn and otherwise assembles a key/value DSN
// from the individual fields.
func BuildDBConfig(cfg *viper.Viper, log *zerolog.Logger) (string, *DBOptions, error) {
	maxOpenConns, err := parsePositiveInt(cfg, "database.max_conns", log)
	if err != nil {
		return "", nil, err
	}
	maxIdleConns, err := parsePositiveInt(cfg, "database.max_idle_conns", log)
	if err != nil {
		return "", nil, err
	}
	connMaxLifetime, err := parseDuration(cfg, "database.max_conn_lifetime", log)
	if err != nil {
		return "", nil, err
	}

	opts := &DBOptions{
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
	}

	if dsn := cfg.GetString("database.dsn"); dsn != "" {
		log.Info().Msgf("Database DSN taken from configuration, pool options: %+v", opts)
		return dsn, opts, nil
	}

	dbHost := cfg.GetString("database.host")
	dbPortStr := cfg.GetString("database.port")
	dbPort, err := strconv.Atoi(dbPortStr)
	if err != nil {
		log.Error().Msgf("invalid database.port: %v", err)
		return "", nil, fmt.Errorf("invalid database.port: %w", err)
	}

	dbName := cfg.GetString("database.name")
	dbUser := cfg.GetString("database.user")
	dbPass := cfg.GetString("database.password")
	sslMode := cfg.GetString("database.ssl_mode")

	log.Info().Msgf("Database config: host=%s port=%d dbname=%s user=%s sslmode=%s",
		dbHost, dbPort, dbName, dbUser, sslMode)

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbHost, dbPort, dbUser, dbPass, dbName, sslMode,
	)
	return dsn, opts, nil
}

func BuildRedisConfig(cfg *viper.Viper, log *zerolog.Logger) (*RedisConfig, error) {
	addr := cfg.GetString("redis.addr")
	password := cfg.GetString("redis.password")
	dbStr := cfg.GetString("redis.db")

	db, err := strconv.Atoi(dbStr)
	if err != nil {
		log.Error().Msgf("invalid redis.db value: %v", err)
		return nil, fmt.Errorf("invalid redis.db value: %w", err)
	}

	log.Info().Msgf("Redis config loaded: %s, db=%d", addr, db)

	return &RedisConfig{
		Addr:     addr,
		Password: password,
		DB:       db,
		Prefix:   cfg.GetString("redis.prefix"),
	}, nil
}

func BuildKafkaConfig(cfg *viper.Viper, log *zerolog.Logger) (KafkaConfig, error) {
	enabled, err := strconv.ParseBool(cfg.GetString("kafka.enabled"))
	if err != nil {
		log.Error().Msgf("invalid kafka.enabled: %v", err)
		return KafkaConfig{}, fmt.Errorf("invalid kafka.enabled: %w", err)
	}

	var brokers []string
	for _, b := range strings.Split(cfg.GetString("kafka.brokers"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if enabled && len(brokers) == 0 {
		log.Error().Msg("kafka.brokers is empty")
		return KafkaConfig{}, errors.New("kafka.brokers must list at least one broker")
	}

	return KafkaConfig{Enabled: enabled, Brokers: brokers, Topic: cfg.GetString("kafka.topic")}, nil
}

func parseDuration(cfg *viper.Viper, key string, log *zerolog.Logger) (time.Duration, error) {
	d, err := time.ParseDuration(cfg.GetString(key))
	if err != nil {
		log.Error().Msgf("invalid %s: %v", key, err)
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		log.Error().Msgf("invalid %s: must be positive", key)
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func parsePositiveInt(cfg *viper.Viper, key string, log *zerolog.Logger) (int, error) {
	n, err := strconv.Atoi(cfg.GetString(key))
	if err != nil {
		log.Error().Msgf("invalid %s: %v", key, err)
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		log.Error().Msgf("invalid %s: must be positive", key)
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}

func parseBackend(cfg *viper.Viper, key string, log *zerolog.Logger, allowed ...string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.GetString(key)))
	for _, a := range allowed {
		if backend == a {
			return backend, nil
		}
	}
	log.Error().Msgf("invalid %s: %q", key, backend)
	return "", fmt.Errorf("invalid %s %q: expected one of %s", key, backend, strings.Join(allowed, ", "))
}
