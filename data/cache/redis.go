package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/finvault/portfolio-ledger/config"
	"github.com/finvault/portfolio-ledger/internal/model"
	"github.com/finvault/portfolio-ledger/utils"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	redis *redis.Client
	cfg   *config.Config
}

func NewRedisCache(redisClient *redis.Client, cfg *config.Config) *RedisCache {
	return &RedisCache{redis: redisClient, cfg: cfg}
}

func positionsKey(portfolioID int64) string {
	return fmt.Sprintf("positions:%d", portfolioID)
}

func snapshotKey(portfolioID int64, packID string) string {
	return fmt.Sprintf("metrics:%d:%s", portfolioID, packID)
}

func (r *RedisCache) GetPositions(ctx context.Context, portfolioID int64) ([]model.Position, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("GetPositions start", slog.String("rqID", rqID))

	res, err := r.redis.Get(ctx, positionsKey(portfolioID)).Result()
	if err != nil {
		return nil, err
	}

	var positions []model.Position
	if err := json.Unmarshal([]byte(res), &positions); err != nil {
		slog.Error("can't unmarshal cached positions", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return nil, err
	}

	return positions, nil
}

func (r *RedisCache) SetPositions(ctx context.Context, portfolioID int64, positions []model.Position) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("SetPositions start", slog.String("rqID", rqID))

	raw, err := json.Marshal(positions)
	if err != nil {
		slog.Error("can't marshal positions", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}

	_, err = r.redis.Set(ctx, positionsKey(portfolioID), raw, r.cfg.Cache.PositionsExpiration).Result()
	if err != nil {
		slog.Error("failed on redis.Set", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}

	return nil
}

// FlushPositions drops the cached positions of one portfolio. Called
// synchronously after every executed trade so a follow-up read never sees
// stale quantities.
func (r *RedisCache) FlushPositions(ctx context.Context, portfolioID int64) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("FlushPositions start", slog.String("rqID", rqID))

	_, err := r.redis.Del(ctx, positionsKey(portfolioID)).Result()
	if err != nil {
		slog.Error("failed on redis.Del", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}

	return nil
}

func (r *RedisCache) GetMetricsSnapshot(ctx context.Context, portfolioID int64, packID string) (model.MetricsSnapshot, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("GetMetricsSnapshot start", slog.String("rqID", rqID))

	res, err := r.redis.Get(ctx, snapshotKey(portfolioID, packID)).Result()
	if err != nil {
		return model.MetricsSnapshot{}, err
	}

	snapshot := model.MetricsSnapshot{}
	if err := json.Unmarshal([]byte(res), &snapshot); err != nil {
		slog.Error("can't unmarshal cached snapshot", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return model.MetricsSnapshot{}, err
	}

	return snapshot, nil
}

func (r *RedisCache) SetMetricsSnapshot(ctx context.Context, snapshot model.MetricsSnapshot) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("SetMetricsSnapshot start", slog.String("rqID", rqID))

	raw, err := json.Marshal(snapshot)
	if err != nil {
		slog.Error("can't marshal snapshot", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}

	_, err = r.redis.Set(ctx, snapshotKey(snapshot.PortfolioID, snapshot.PackID), raw, r.cfg.Cache.MetricsExpiration).Result()
	if err != nil {
		slog.Error("failed on redis.Set", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}

	return nil
}
