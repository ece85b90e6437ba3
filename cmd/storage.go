package main

import (
	"context"
	"time"

	"interview-coordinator/domain"
	"interview-coordinator/infrastructure"
	"interview-coordinator/infrastructure/config"
	"interview-coordinator/infrastructure/logger"
	"interview-coordinator/infrastructure/memstore"
	"interview-coordinator/usecase/scoring"
)

type storage struct {
	sessions     domain.SessionRepository
	applications domain.ApplicationRepository
	jobs         domain.JobRepository
	scores       domain.ScoreRepository
	close        func() error
}

// openStorage selects the repositories for the configured driver.
func openStorage(cfg config.DatabaseConfig, log logger.Logger) (*storage, error) {
	if cfg.Driver == config.DriverMemory {
		log.Warn("using in-memory storage, data is lost on restart", nil)
		store := memstore.New()
		return &storage{
			sessions:     store.Sessions(),
			applications: store.Applications(),
			jobs:         store.Jobs(),
			scores:       store.Scores(),
			close:        func() error { return nil },
		}, nil
	}

	db, err := infrastructure.NewMySQLConnection(cfg, log)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	return &storage{
		sessions:     infrastructure.NewSessionRepository(db),
		applications: infrastructure.NewApplicationRepository(db),
		jobs:         infrastructure.NewJobRepository(db),
		scores:       infrastructure.NewScoreRepository(db),
		close:        sqlDB.Close,
	}, nil
}

// openRankingCache returns nil when the cache is disabled. An unreachable
// Redis is logged and still used; reads fall back to the database.
func openRankingCache(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (scoring.RankingCache, func() error) {
	if !cfg.Enabled {
		return nil, func() error { return nil }
	}
	client := infrastructure.NewRedis(cfg)

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable, ranking cache degraded", map[string]interface{}{
			"address": cfg.Address,
		})
	}
	return infrastructure.NewRankingCache(client, cfg.RankingTTL), client.Close
}
