package providers

import (
	"fmt"
	"freshanon/internal/storage/locker"
	"freshanon/internal/structures"
)

// NewLockerProvider returns the in-flight claim locker. The redis locker is needed once
// more than one matcher process shares a durable store.
func NewLockerProvider(conf *structures.Config, logger Logger) (locker.Locker, error) {
	switch conf.Locker.Backend {
	case "", "local":
		logger.Infof(TypeStore, "Locker: local")
		return locker.NewLocal(), nil
	case "redis":
		l, err := locker.NewRedis(conf.Locker.RedisAddr, conf.Locker.RedisPassword, conf.Locker.RedisDB, conf.Locker.TTL)
		if err != nil {
			return nil, fmt.Errorf("connect redis locker: %w", err)
		}
		logger.Infof(TypeStore, "Locker: redis %s", conf.Locker.RedisAddr)
		return l, nil
	default:
		return nil, fmt.Errorf("unknown locker backend %q", conf.Locker.Backend)
	}
}
