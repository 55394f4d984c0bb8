package profiles

import (
	"freshanon/internal/clock"
	"freshanon/internal/providers"
	"freshanon/internal/storage"
	"freshanon/internal/structures"
)

// NewProfileProvider picks the profile source: the configured JSON file, otherwise the
// profiles table of a SQL store, otherwise none. Lookups go through the cache when it
// is enabled.
func NewProfileProvider(conf *structures.Config, store storage.Store, cache providers.CacheProviderInterface, logger providers.Logger, clk clock.Clock) (Store, error) {
	var src Source
	switch sqlSrc, ok := store.(Source); {
	case conf.Profiles.File != "":
		fs, err := LoadFile(conf.Profiles.File)
		if err != nil {
			return nil, err
		}
		logger.Infof(providers.TypeApp, "Profiles: %d loaded from %s", fs.Len(), conf.Profiles.File)
		src = fs
	case ok:
		logger.Infof(providers.TypeApp, "Profiles: %s store", conf.Store.Backend)
		src = sqlSrc
	default:
		logger.Infof(providers.TypeApp, "Profiles: none, snapshots must be supplied by callers")
		src = Empty{}
	}

	if conf.Cache.Enabled {
		src = NewCachedStore(src, cache, logger)
	}
	return NewStore(src, clk), nil
}
