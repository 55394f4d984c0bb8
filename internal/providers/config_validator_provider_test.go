package providers

import (
	"freshanon/internal/structures"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *structures.Config {
	return &structures.Config{
		WebServer: structures.Server{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Persistence: structures.Persistence{
			FilePath:            "/tmp/freshanon.dat",
			SaveInterval:        30 * time.Second,
			MaintenanceInterval: time.Minute,
		},
		Logger: structures.LoggerConfig{
			Level: "info",
			Mode:  0644,
			Dir:   "/tmp/logs",
		},
		Matching: structures.MatchingConfig{
			Cooldown:        30 * time.Minute,
			ScanBound:       50,
			RetryInterval:   3 * time.Second,
			SearchTimeout:   60 * time.Second,
			PremiumPriority: true,
			Selection:       "first",
		},
		Retry: structures.RetryConfig{
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    2 * time.Second,
			MaxAttempts: 5,
		},
		Store: structures.StoreConfig{
			Backend: "memory",
		},
		Locker: structures.LockerConfig{
			Backend: "local",
		},
	}
}

func TestConfigValidator_ValidConfig(t *testing.T) {
	v := NewCnfValidator(validConfig())
	assert.NoError(t, v.Validate())
}

func TestConfigValidator_EmptyHost(t *testing.T) {
	c := validConfig()
	c.WebServer.Host = ""
	v := NewCnfValidator(c)
	assert.Error(t, v.Validate())
}

func TestConfigValidator_ZeroPort(t *testing.T) {
	c := validConfig()
	c.WebServer.Port = 0
	v := NewCnfValidator(c)
	assert.Error(t, v.Validate())
}

func TestConfigValidator_EmptyLogLevel(t *testing.T) {
	c := validConfig()
	c.Logger.Level = ""
	v := NewCnfValidator(c)
	assert.Error(t, v.Validate())
}

func TestConfigValidator_InvalidLogLevel(t *testing.T) {
	c := validConfig()
	c.Logger.Level = "verbose"
	v := NewCnfValidator(c)
	assert.Error(t, v.Validate())
}

func TestConfigValidator_UnknownSelection(t *testing.T) {
	c := validConfig()
	c.Matching.Selection = "random"
	assert.Error(t, NewCnfValidator(c).Validate())
}

func TestConfigValidator_UnknownBackend(t *testing.T) {
	c := validConfig()
	c.Store.Backend = "mongo"
	assert.Error(t, NewCnfValidator(c).Validate())
}

func TestConfigValidator_SqliteNeedsPath(t *testing.T) {
	c := validConfig()
	c.Store.Backend = "sqlite"
	assert.Error(t, NewCnfValidator(c).Validate())

	c.Store.SqlitePath = "/tmp/freshanon.db"
	assert.NoError(t, NewCnfValidator(c).Validate())
}

func TestConfigValidator_PostgresNeedsDSN(t *testing.T) {
	c := validConfig()
	c.Store.Backend = "postgres"
	assert.Error(t, NewCnfValidator(c).Validate())
}

func TestConfigValidator_RedisNeedsAddr(t *testing.T) {
	c := validConfig()
	c.Locker.Backend = "redis"
	assert.Error(t, NewCnfValidator(c).Validate())
}

func TestConfigValidator_BackoffOrder(t *testing.T) {
	c := validConfig()
	c.Retry.MaxDelay = time.Millisecond
	assert.Error(t, NewCnfValidator(c).Validate())
}

func TestConfigValidator_SearchShorterThanInterval(t *testing.T) {
	c := validConfig()
	c.Matching.SearchTimeout = time.Second
	assert.Error(t, NewCnfValidator(c).Validate())
}
