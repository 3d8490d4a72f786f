package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, parseCSV("a, b, ,c,,"))
}

func TestParseAnyCSV(t *testing.T) {
	assert.Equal(t, []string{"x", "y"}, parseAnyCSV([]any{"x", " ", "y", 3}))
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")
	data := `{
  "ENV": "test",
  "HTTP_PORT": 9100,
  "KAFKA_BROKERS": ["k1:9092", "k2:9092"],
  "OUTBOX_ENABLED": true,
  "UPSTREAM_TIMEOUT_MS": 1500,
  "RATE_LIMIT_RPS": "2.5"
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	t.Setenv("ENV", "test")
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("UPSTREAM_TIMEOUT_MS", "2500")
	t.Setenv("KAFKA_CONSUMER_GROUP", "")

	cfg, problems := Load("admin-gateway", 8080)

	assert.Empty(t, problems)
	assert.Equal(t, 9100, cfg.HTTPPort)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.OutboxEnabled)
	assert.Equal(t, 2500, cfg.UpstreamTimeoutMS)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.0001)
	assert.Equal(t, DefaultConsumerGroup, cfg.KafkaGroupID)
	assert.Equal(t, DefaultKafkaTopic, cfg.KafkaTopic)
}

func TestLoadCollectsProblems(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("HTTP_PORT", "not-a-port")
	t.Setenv("OUTBOX_BATCH_SIZE", "0")
	t.Setenv("OTEL_SAMPLE_RATIO", "3")

	cfg, problems := Load("admin-gateway", 8080)

	fields := map[string]bool{}
	for _, p := range problems {
		fields[p.Field] = true
	}
	assert.True(t, fields["CONFIG_PATH"])
	assert.True(t, fields["HTTP_PORT"])
	assert.True(t, fields["OUTBOX_BATCH_SIZE"])
	assert.True(t, fields["OTEL_SAMPLE_RATIO"])
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 50, cfg.OutboxBatchSize)
	assert.Equal(t, 1.0, cfg.OtelSampleRatio)
}

func TestLoadDerivesJWKSURL(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("OIDC_ISSUER", "https://id.example.com/")

	cfg, _ := Load("admin-gateway", 8080)

	assert.Equal(t, "https://id.example.com/.well-known/jwks.json", cfg.OIDCJWKSURL)
}
