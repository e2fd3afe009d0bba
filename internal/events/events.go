// Package events publishes enrichment outcomes and risk scores to
// downstream consumers. Exactly one event per terminal job outcome.
package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/model"
)

// Channel names downstream consumers subscribe to.
const (
	ChannelEnrichment = "partsledger.enrichment.completed"
	ChannelRisk       = "partsledger.risk.scored"
)

// Emitter publishes pipeline events. Implementations must be safe for
// concurrent use.
type Emitter interface {
	// EnrichmentCompleted publishes the terminal outcome of one job.
	EnrichmentCompleted(ctx context.Context, result *model.EnrichmentResult) error
	// RiskScored publishes a freshly computed component risk score.
	RiskScored(ctx context.Context, score *model.RiskScore) error
}

// publisher is the slice of redis.Cmdable the emitter uses.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisEmitter publishes events as JSON on Redis pub/sub channels.
type RedisEmitter struct {
	rdb publisher
}

// NewRedisEmitter creates an emitter over the shared Redis client.
func NewRedisEmitter(rdb publisher) *RedisEmitter {
	return &RedisEmitter{rdb: rdb}
}

func (e *RedisEmitter) EnrichmentCompleted(ctx context.Context, result *model.EnrichmentResult) error {
	return e.publish(ctx, ChannelEnrichment, result)
}

func (e *RedisEmitter) RiskScored(ctx context.Context, score *model.RiskScore) error {
	return e.publish(ctx, ChannelRisk, score)
}

func (e *RedisEmitter) publish(ctx context.Context, channel string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "events: marshal payload")
	}
	if err := e.rdb.Publish(ctx, channel, body).Err(); err != nil {
		return eris.Wrapf(err, "events: publish to %s", channel)
	}
	return nil
}

// LogEmitter writes events to the structured log only. Used in dev mode
// and as the fallback when no broker is configured.
type LogEmitter struct{}

func (LogEmitter) EnrichmentCompleted(_ context.Context, result *model.EnrichmentResult) error {
	zap.L().Info("enrichment completed",
		zap.String("job_id", result.JobID),
		zap.String("mpn", result.MPN),
		zap.Bool("success", result.Success),
		zap.Float64("quality_score", result.QualityScore),
		zap.String("destination", string(result.Destination)),
		zap.Strings("tiers_used", result.TiersUsed),
		zap.Bool("degraded", result.Degraded))
	return nil
}

func (LogEmitter) RiskScored(_ context.Context, score *model.RiskScore) error {
	zap.L().Info("risk scored",
		zap.String("mpn", score.MPN),
		zap.Float64("overall", score.Overall))
	return nil
}
