package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultKafkaTopic    = "admin-events-topic"
	DefaultConsumerGroup = "admin-dashboard-group"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	OIDCIssuer      string
	OIDCAudience    string
	OIDCJWKSURL     string
	JWKSTTLSeconds  int
	JWTClockSkewSec int
	JWTHMACSecret   string
	AdminRoles      []string

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	KafkaBrokers       []string
	KafkaClientID      string
	KafkaGroupID       string
	KafkaRetryMax      int
	KafkaWriteMS       int
	KafkaTopic         string
	RedeliveryMaxTries int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DedupeTTLSec  int

	AsynqRedisAddr    string
	AsynqRedisPass    string
	AsynqRedisDB      int
	AsynqQueue        string
	AsynqConcurrency  int
	OutboxEnabled     bool
	OutboxScanSec     int
	OutboxBatchSize   int
	OutboxMaxAttempts int

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	DirectoryPath     string
	UpstreamTimeoutMS int
	PublishTimeoutMS  int
	RateLimitRPS      float64
	RateLimitBurst    int

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	envRaw := strings.TrimSpace(os.Getenv("ENV"))
	cfg := defaults(envRaw, serviceNameDefault, httpPortDefault)
	cfg.ConfigPath = strings.TrimSpace(os.Getenv("CONFIG_PATH"))

	problems := make([]Problem, 0, 4)
	envProvided := envRaw != ""
	explicitPath := cfg.ConfigPath != ""

	if root, ok := FindRepoRoot(); ok && cfg.Env != "" && cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(root, "configs", cfg.Env+".json")
	}

	fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, explicitPath)
	problems = append(problems, fileProblems...)
	if ok {
		if fileEnv, found := fileData["ENV"]; found && strings.TrimSpace(fmt.Sprint(fileEnv)) != "" {
			envProvided = true
		}
		for key, raw := range fileData {
			apply(&cfg, strings.ToUpper(strings.TrimSpace(key)), raw, &problems)
		}
	}

	for _, b := range bindings {
		for _, key := range append([]string{b.key}, b.aliases...) {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				b.set(&cfg, v, &problems, b.key)
				break
			}
		}
	}

	if cfg.OIDCIssuer != "" && cfg.OIDCJWKSURL == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}

	validate(&cfg, httpPortDefault, &problems)
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	return cfg, problems
}

func defaults(env string, serviceName string, httpPort int) Config {
	return Config{
		Env:                env,
		ServiceName:        serviceName,
		HTTPPort:           httpPort,
		LogLevel:           "info",
		RequestTimeoutMS:   30000,
		JWKSTTLSeconds:     300,
		JWTClockSkewSec:    60,
		AdminRoles:         []string{"ROLE_ADMIN", "admin"},
		DBMaxConns:         10,
		DBMinConns:         1,
		DBConnMaxIdleSec:   300,
		DBConnMaxLifeSec:   1800,
		KafkaGroupID:       DefaultConsumerGroup,
		KafkaRetryMax:      5,
		KafkaWriteMS:       5000,
		KafkaTopic:         DefaultKafkaTopic,
		RedeliveryMaxTries: 5,
		DedupeTTLSec:       86400,
		AsynqQueue:         "default",
		AsynqConcurrency:   10,
		OutboxScanSec:      5,
		OutboxBatchSize:    50,
		OutboxMaxAttempts:  20,
		InfluxTimeoutMS:    5000,
		UpstreamTimeoutMS:  3000,
		PublishTimeoutMS:   5000,
		RateLimitRPS:       20,
		RateLimitBurst:     40,
		OtelInsecure:       true,
		OtelSampleRatio:    1.0,
	}
}

func validate(cfg *Config, httpPortDefault int, problems *[]Problem) {
	positive := []struct {
		field string
		value *int
		def   int
	}{
		{"REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS, 30000},
		{"JWKS_CACHE_TTL_SECONDS", &cfg.JWKSTTLSeconds, 300},
		{"DB_MAX_CONNS", &cfg.DBMaxConns, 10},
		{"DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec, 300},
		{"DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec, 1800},
		{"KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS, 5000},
		{"REDELIVERY_MAX_ATTEMPTS", &cfg.RedeliveryMaxTries, 5},
		{"DEDUPE_TTL_SECONDS", &cfg.DedupeTTLSec, 86400},
		{"ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency, 10},
		{"OUTBOX_SCAN_INTERVAL_SECONDS", &cfg.OutboxScanSec, 5},
		{"OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize, 50},
		{"OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts, 20},
		{"INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS, 5000},
		{"UPSTREAM_TIMEOUT_MS", &cfg.UpstreamTimeoutMS, 3000},
		{"PUBLISH_TIMEOUT_MS", &cfg.PublishTimeoutMS, 5000},
		{"RATE_LIMIT_BURST", &cfg.RateLimitBurst, 40},
	}
	for _, p := range positive {
		if *p.value <= 0 {
			*problems = append(*problems, Problem{Field: p.field, Message: p.field + " must be > 0"})
			*p.value = p.def
		}
	}

	nonNegative := []struct {
		field string
		value *int
		def   int
	}{
		{"JWT_CLOCK_SKEW_SECONDS", &cfg.JWTClockSkewSec, 60},
		{"DB_MIN_CONNS", &cfg.DBMinConns, 1},
		{"KAFKA_RETRY_MAX", &cfg.KafkaRetryMax, 5},
		{"REDIS_DB", &cfg.RedisDB, 0},
		{"ASYNQ_REDIS_DB", &cfg.AsynqRedisDB, 0},
	}
	for _, p := range nonNegative {
		if *p.value < 0 {
			*problems = append(*problems, Problem{Field: p.field, Message: p.field + " must be >= 0"})
			*p.value = p.def
		}
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		*problems = append(*problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.RateLimitRPS <= 0 {
		*problems = append(*problems, Problem{Field: "RATE_LIMIT_RPS", Message: "RATE_LIMIT_RPS must be > 0"})
		cfg.RateLimitRPS = 20
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		*problems = append(*problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}
	if strings.TrimSpace(cfg.KafkaTopic) == "" {
		cfg.KafkaTopic = DefaultKafkaTopic
	}
}

// FindRepoRoot walks up from the working directory to the first directory
// holding both go.mod and configs/.
func FindRepoRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 8; i++ {
		if isDir(filepath.Join(dir, "configs")) && isFile(filepath.Join(dir, "go.mod")) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if !explicit {
			return nil, nil, false
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
	}
	return raw, nil, true
}

func apply(cfg *Config, key string, raw any, problems *[]Problem) {
	for _, b := range bindings {
		if b.key == key {
			b.set(cfg, raw, problems, b.key)
			return
		}
		for _, alias := range b.aliases {
			if alias == key {
				b.set(cfg, raw, problems, b.key)
				return
			}
		}
	}
}

type setter func(cfg *Config, raw any, problems *[]Problem, field string)

type binding struct {
	key     string
	aliases []string
	set     setter
}

var bindings = []binding{
	{key: "ENV", set: stringField(func(c *Config) *string { return &c.Env })},
	{key: "SERVICE_NAME", set: stringField(func(c *Config) *string { return &c.ServiceName })},
	{key: "HTTP_PORT", aliases: []string{"PORT"}, set: intField(func(c *Config) *int { return &c.HTTPPort })},
	{key: "LOG_LEVEL", set: stringField(func(c *Config) *string { return &c.LogLevel })},
	{key: "REQUEST_TIMEOUT_MS", set: intField(func(c *Config) *int { return &c.RequestTimeoutMS })},

	{key: "OIDC_ISSUER", set: stringField(func(c *Config) *string { return &c.OIDCIssuer })},
	{key: "OIDC_AUDIENCE", set: stringField(func(c *Config) *string { return &c.OIDCAudience })},
	{key: "OIDC_JWKS_URL", set: stringField(func(c *Config) *string { return &c.OIDCJWKSURL })},
	{key: "JWKS_CACHE_TTL_SECONDS", set: intField(func(c *Config) *int { return &c.JWKSTTLSeconds })},
	{key: "JWT_CLOCK_SKEW_SECONDS", set: intField(func(c *Config) *int { return &c.JWTClockSkewSec })},
	{key: "JWT_HMAC_SECRET", set: stringField(func(c *Config) *string { return &c.JWTHMACSecret })},
	{key: "ADMIN_ROLES", set: csvField(func(c *Config) *[]string { return &c.AdminRoles })},

	{key: "DATABASE_URL", set: stringField(func(c *Config) *string { return &c.DatabaseURL })},
	{key: "DB_MAX_CONNS", set: intField(func(c *Config) *int { return &c.DBMaxConns })},
	{key: "DB_MIN_CONNS", set: intField(func(c *Config) *int { return &c.DBMinConns })},
	{key: "DB_CONN_MAX_IDLE_SECONDS", set: intField(func(c *Config) *int { return &c.DBConnMaxIdleSec })},
	{key: "DB_CONN_MAX_LIFETIME_SECONDS", set: intField(func(c *Config) *int { return &c.DBConnMaxLifeSec })},

	{key: "KAFKA_BROKERS", set: csvField(func(c *Config) *[]string { return &c.KafkaBrokers })},
	{key: "KAFKA_CLIENT_ID", set: stringField(func(c *Config) *string { return &c.KafkaClientID })},
	{key: "KAFKA_CONSUMER_GROUP", set: stringField(func(c *Config) *string { return &c.KafkaGroupID })},
	{key: "KAFKA_RETRY_MAX", set: intField(func(c *Config) *int { return &c.KafkaRetryMax })},
	{key: "KAFKA_WRITE_TIMEOUT_MS", set: intField(func(c *Config) *int { return &c.KafkaWriteMS })},
	{key: "KAFKA_TOPIC", set: stringField(func(c *Config) *string { return &c.KafkaTopic })},
	{key: "REDELIVERY_MAX_ATTEMPTS", set: intField(func(c *Config) *int { return &c.RedeliveryMaxTries })},

	{key: "REDIS_ADDR", set: stringField(func(c *Config) *string { return &c.RedisAddr })},
	{key: "REDIS_PASSWORD", set: stringField(func(c *Config) *string { return &c.RedisPassword })},
	{key: "REDIS_DB", set: intField(func(c *Config) *int { return &c.RedisDB })},
	{key: "DEDUPE_TTL_SECONDS", set: intField(func(c *Config) *int { return &c.DedupeTTLSec })},

	{key: "ASYNQ_REDIS_ADDR", set: stringField(func(c *Config) *string { return &c.AsynqRedisAddr })},
	{key: "ASYNQ_REDIS_PASSWORD", set: stringField(func(c *Config) *string { return &c.AsynqRedisPass })},
	{key: "ASYNQ_REDIS_DB", set: intField(func(c *Config) *int { return &c.AsynqRedisDB })},
	{key: "ASYNQ_QUEUE", set: stringField(func(c *Config) *string { return &c.AsynqQueue })},
	{key: "ASYNQ_CONCURRENCY", set: intField(func(c *Config) *int { return &c.AsynqConcurrency })},
	{key: "OUTBOX_ENABLED", set: boolField(func(c *Config) *bool { return &c.OutboxEnabled })},
	{key: "OUTBOX_SCAN_INTERVAL_SECONDS", set: intField(func(c *Config) *int { return &c.OutboxScanSec })},
	{key: "OUTBOX_BATCH_SIZE", set: intField(func(c *Config) *int { return &c.OutboxBatchSize })},
	{key: "OUTBOX_MAX_ATTEMPTS", set: intField(func(c *Config) *int { return &c.OutboxMaxAttempts })},

	{key: "INFLUX_URL", set: stringField(func(c *Config) *string { return &c.InfluxURL })},
	{key: "INFLUX_TOKEN", set: stringField(func(c *Config) *string { return &c.InfluxToken })},
	{key: "INFLUX_ORG", set: stringField(func(c *Config) *string { return &c.InfluxOrg })},
	{key: "INFLUX_BUCKET", set: stringField(func(c *Config) *string { return &c.InfluxBucket })},
	{key: "INFLUX_TIMEOUT_MS", set: intField(func(c *Config) *int { return &c.InfluxTimeoutMS })},

	{key: "DIRECTORY_PATH", set: stringField(func(c *Config) *string { return &c.DirectoryPath })},
	{key: "UPSTREAM_TIMEOUT_MS", set: intField(func(c *Config) *int { return &c.UpstreamTimeoutMS })},
	{key: "PUBLISH_TIMEOUT_MS", set: intField(func(c *Config) *int { return &c.PublishTimeoutMS })},
	{key: "RATE_LIMIT_RPS", set: floatField(func(c *Config) *float64 { return &c.RateLimitRPS })},
	{key: "RATE_LIMIT_BURST", set: intField(func(c *Config) *int { return &c.RateLimitBurst })},

	{key: "OTEL_ENABLED", set: boolField(func(c *Config) *bool { return &c.OtelEnabled })},
	{key: "OTEL_EXPORTER_OTLP_ENDPOINT", set: stringField(func(c *Config) *string { return &c.OtelEndpoint })},
	{key: "OTEL_EXPORTER_OTLP_INSECURE", set: boolField(func(c *Config) *bool { return &c.OtelInsecure })},
	{key: "OTEL_SAMPLE_RATIO", set: floatField(func(c *Config) *float64 { return &c.OtelSampleRatio })},
}

func stringField(target func(*Config) *string) setter {
	return func(cfg *Config, raw any, problems *[]Problem, field string) {
		s, ok := raw.(string)
		if !ok {
			*problems = append(*problems, Problem{Field: field, Message: field + " must be a string"})
			return
		}
		*target(cfg) = strings.TrimSpace(s)
	}
}

func intField(target func(*Config) *int) setter {
	return func(cfg *Config, raw any, problems *[]Problem, field string) {
		i, ok := asInt(raw)
		if !ok {
			*problems = append(*problems, Problem{Field: field, Message: field + " must be an integer"})
			return
		}
		*target(cfg) = i
	}
}

func floatField(target func(*Config) *float64) setter {
	return func(cfg *Config, raw any, problems *[]Problem, field string) {
		f, ok := asFloat(raw)
		if !ok {
			*problems = append(*problems, Problem{Field: field, Message: field + " must be a number"})
			return
		}
		*target(cfg) = f
	}
}

func boolField(target func(*Config) *bool) setter {
	return func(cfg *Config, raw any, problems *[]Problem, field string) {
		b, ok := asBool(raw)
		if !ok {
			*problems = append(*problems, Problem{Field: field, Message: field + " must be a boolean"})
			return
		}
		*target(cfg) = b
	}
}

func csvField(target func(*Config) *[]string) setter {
	return func(cfg *Config, raw any, problems *[]Problem, field string) {
		switch t := raw.(type) {
		case string:
			*target(cfg) = parseCSV(t)
		case []any:
			*target(cfg) = parseAnyCSV(t)
		default:
			*problems = append(*problems, Problem{Field: field, Message: field + " must be a list or comma separated string"})
		}
	}
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), t == float64(int(t))
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y":
			return true, true
		case "false", "0", "no", "n":
			return false, true
		}
	}
	return false, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
