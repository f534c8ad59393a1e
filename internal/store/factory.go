package store

import (
	"github.com/rs/zerolog/log"

	"github.com/avkor/facility/internal/config"
	"github.com/avkor/facility/internal/store/file"
	"github.com/avkor/facility/internal/store/redis"
)

// New picks the backend from config: Redis when an address is configured,
// otherwise JSON files under the data dir.
func New(cfg *config.Config) (Store, error) {
	if cfg.RedisAddr != "" {
		s, err := redis.NewStore(cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		log.Info().Str("module", "store").Str("addr", cfg.RedisAddr).Msg("using redis store")
		return s, nil
	}
	s, err := file.NewStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "store").Str("dir", cfg.DataDir).Msg("using file store")
	return s, nil
}
