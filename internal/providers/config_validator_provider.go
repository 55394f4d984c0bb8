package providers

import (
	"errors"
	"fmt"
	"freshanon/internal/structures"
	"github.com/gookit/validate"
)

type CnfValidatorInterface interface {
	Validate() error
}

type CnfValidator struct {
	conf *structures.Config
}

func NewCnfValidator(conf *structures.Config) CnfValidatorInterface {
	return &CnfValidator{conf: conf}
}

func (cv *CnfValidator) Validate() error {
	sections := []struct {
		name string
		data interface{}
	}{
		{"webServer", &cv.conf.WebServer},
		{"logger", &cv.conf.Logger},
		{"matching", &cv.conf.Matching},
		{"retry", &cv.conf.Retry},
		{"store", &cv.conf.Store},
		{"locker", &cv.conf.Locker},
		{"persistence", &cv.conf.Persistence},
	}
	for _, section := range sections {
		v := validate.Struct(section.data)
		if !v.Validate() {
			return fmt.Errorf("invalid %s config: %s", section.name, v.Errors.Error())
		}
	}
	return cv.validateDependencies()
}

// validateDependencies checks the rules that span several fields.
func (cv *CnfValidator) validateDependencies() error {
	c := cv.conf
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.SqlitePath == "" {
			return errors.New("store.sqlitePath is required for the sqlite backend")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgresDSN is required for the postgres backend")
		}
	}
	if c.Locker.Backend == "redis" && c.Locker.RedisAddr == "" {
		return errors.New("locker.redisAddr is required for the redis locker")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("retry.maxDelay must not be less than retry.baseDelay")
	}
	if c.Matching.SearchTimeout < c.Matching.RetryInterval {
		return errors.New("matching.searchTimeout must not be less than matching.retryInterval")
	}
	if c.Persistence.FilePath != "" && c.Persistence.SaveInterval <= 0 {
		return errors.New("persistence.saveInterval is required when persistence.filePath is set")
	}
	return nil
}
