// Package cache stores computed classroom rankings in redis so the
// leaderboard is not recomputed on every request.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atharvakonge/classroom-market/internal/config"
	"github.com/atharvakonge/classroom-market/internal/portfolio"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const rankingPrefix = "ranking:"

type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

// Connect opens a client and checks the server answers
func Connect(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisCache(client *redis.Client, ttl time.Duration, log zerolog.Logger) *RedisCache {
	return &RedisCache{
		redis: client,
		ttl:   ttl,
		log:   log.With().Str("component", "ranking_cache").Logger(),
	}
}

func (r *RedisCache) GetRanking(ctx context.Context, teacherID string) ([]portfolio.Ranking, bool, error) {
	res, err := r.redis.Get(ctx, rankingPrefix+teacherID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var rankings []portfolio.Ranking
	if err := json.Unmarshal(res, &rankings); err != nil {
		r.log.Error().Err(err).Str("teacher_id", teacherID).Msg("can't unmarshal cached ranking")
		return nil, false, fmt.Errorf("decode ranking: %w", err)
	}
	r.log.Debug().Str("teacher_id", teacherID).Msg("ranking served from cache")
	return rankings, true, nil
}

func (r *RedisCache) SetRanking(ctx context.Context, teacherID string, rankings []portfolio.Ranking) error {
	payload, err := json.Marshal(rankings)
	if err != nil {
		return fmt.Errorf("encode ranking: %w", err)
	}
	if err := r.redis.Set(ctx, rankingPrefix+teacherID, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
