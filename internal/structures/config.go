package structures

import (
	"net/http"
	"time"
)

type CliFlags struct {
	ConfigPath string
	DebugMode  bool
}

type Route struct {
	Url     string
	Methods []string
	Handler http.Handler
}

type Server struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            int           `yaml:"port" validate:"required|uint|min:1"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required|in:trace,debug,info,warn,error,fatal,panic"`
	Mode  uint32 `yaml:"mode" validate:"required|uint"`
	Dir   string `yaml:"dir" validate:"required|unixPath"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
	// StatsTTL bounds how stale GET /stats may be.
	StatsTTL time.Duration `yaml:"statsTTL"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MatchingConfig drives the pairing engine and the retry scheduler.
type MatchingConfig struct {
	Cooldown                    time.Duration `yaml:"cooldown" validate:"required|min:1"`
	ScanBound                   int           `yaml:"scanBound" validate:"required|min:1"`
	RetryInterval               time.Duration `yaml:"retryInterval" validate:"required|min:1"`
	SearchTimeout               time.Duration `yaml:"searchTimeout" validate:"required|min:1"`
	PremiumPriority             bool          `yaml:"premiumPriority"`
	Selection                   string        `yaml:"selection" validate:"required|in:first,overlap"`
	MinInterestOverlap          int           `yaml:"minInterestOverlap" validate:"min:0"`
	GenderFilterRequiresPremium bool          `yaml:"genderFilterRequiresPremium"`
	MaxWait                     time.Duration `yaml:"maxWait"`
	OutcomeTTL                  time.Duration `yaml:"outcomeTTL"`
}

type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"baseDelay" validate:"required|min:1"`
	MaxDelay    time.Duration `yaml:"maxDelay" validate:"required|min:1"`
	MaxAttempts int           `yaml:"maxAttempts" validate:"required|min:1"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend" validate:"required|in:memory,sqlite,postgres"`
	SqlitePath  string `yaml:"sqlitePath"`
	PostgresDSN string `yaml:"postgresDSN"`
	PoolSize    int    `yaml:"poolSize"`
}

type LockerConfig struct {
	Backend       string        `yaml:"backend" validate:"required|in:local,redis"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	TTL           time.Duration `yaml:"ttl"`
}

type ProfilesConfig struct {
	File string `yaml:"file"`
}

type Persistence struct {
	FilePath            string        `yaml:"filePath"`
	SaveInterval        time.Duration `yaml:"saveInterval"`
	MaintenanceInterval time.Duration `yaml:"maintenanceInterval" validate:"required|min:1"`
}

type Config struct {
	AppName     string
	Debug       bool
	Path        string
	WebServer   Server         `yaml:"webServer"`
	Logger      LoggerConfig   `yaml:"logger"`
	Cache       CacheConfig    `yaml:"cache"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	Matching    MatchingConfig `yaml:"matching"`
	Retry       RetryConfig    `yaml:"retry"`
	Store       StoreConfig    `yaml:"store"`
	Locker      LockerConfig   `yaml:"locker"`
	Profiles    ProfilesConfig `yaml:"profiles"`
	Persistence Persistence    `yaml:"persistence"`
}
