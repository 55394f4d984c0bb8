package providers

import (
	"fmt"
	"freshanon/internal/structures"
	"github.com/spf13/viper"
	"path/filepath"
	"strings"
	"time"
)

func setDefaults() {
	viper.SetDefault("webServer.readTimeout", 5*time.Second)
	viper.SetDefault("webServer.writeTimeout", 10*time.Second)
	viper.SetDefault("webServer.shutdownTimeout", 5*time.Second)

	viper.SetDefault("matching.cooldown", 30*time.Minute)
	viper.SetDefault("matching.scanBound", 100)
	viper.SetDefault("matching.retryInterval", 3*time.Second)
	viper.SetDefault("matching.searchTimeout", 60*time.Second)
	viper.SetDefault("matching.premiumPriority", true)
	viper.SetDefault("matching.selection", "first")
	viper.SetDefault("matching.maxWait", 10*time.Minute)
	viper.SetDefault("matching.outcomeTTL", 10*time.Minute)

	viper.SetDefault("retry.baseDelay", 200*time.Millisecond)
	viper.SetDefault("retry.maxDelay", 5*time.Second)
	viper.SetDefault("retry.maxAttempts", 5)

	viper.SetDefault("store.backend", "memory")
	viper.SetDefault("locker.backend", "local")
	viper.SetDefault("locker.ttl", 10*time.Second)

	viper.SetDefault("cache.ttl", time.Minute)
	viper.SetDefault("cache.statsTTL", 2*time.Second)
	viper.SetDefault("persistence.maintenanceInterval", time.Minute)
}

func NewConfigProvider(flags *structures.CliFlags) (*structures.Config, error) {
	var conf structures.Config

	filename := filepath.Base(flags.ConfigPath)
	viper.AddConfigPath(filepath.Dir(flags.ConfigPath))
	viper.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
	viper.SetConfigType("yaml")
	setDefaults()

	viper.BindEnv("logger.level", "FRESHANON_LOG_LEVEL")
	viper.BindEnv("store.backend", "FRESHANON_STORE_BACKEND")
	viper.BindEnv("store.sqlitePath", "FRESHANON_SQLITE_PATH")
	viper.BindEnv("store.postgresDSN", "FRESHANON_PG_DSN")
	viper.BindEnv("locker.backend", "FRESHANON_LOCKER_BACKEND")
	viper.BindEnv("locker.redisAddr", "FRESHANON_REDIS_ADDR")
	viper.BindEnv("locker.redisPassword", "FRESHANON_REDIS_PASSWORD")
	viper.BindEnv("matching.cooldown", "FRESHANON_ANTI_REMATCH")
	viper.BindEnv("persistence.saveInterval", "FRESHANON_SAVE_INTERVAL")
	viper.BindEnv("cache.enabled", "FRESHANON_CACHE_ENABLED")
	viper.BindEnv("cache.size", "FRESHANON_CACHE_SIZE")

	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	err = viper.Unmarshal(&conf)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	cnfValidator := NewCnfValidator(&conf)
	err = cnfValidator.Validate()
	if err != nil {
		return nil, err
	}

	conf.AppName = "FreshAnonMatcher"
	conf.Path = flags.ConfigPath
	conf.Debug = flags.DebugMode

	return &conf, nil
}
