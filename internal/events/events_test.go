package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partsledger/partsledger/internal/model"
)

type fakePublisher struct {
	channel string
	message []byte
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	cmd := redis.NewIntCmd(context.Background())
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.channel = channel
	f.message = message.([]byte)
	cmd.SetVal(1)
	return cmd
}

func TestEnrichmentCompletedPublishes(t *testing.T) {
	pub := &fakePublisher{}
	e := NewRedisEmitter(pub)

	result := &model.EnrichmentResult{
		JobID:        "job-1",
		MPN:          "LM358",
		Success:      true,
		QualityScore: 96,
		Destination:  model.RouteProduction,
	}
	require.NoError(t, e.EnrichmentCompleted(context.Background(), result))

	assert.Equal(t, ChannelEnrichment, pub.channel)
	var decoded model.EnrichmentResult
	require.NoError(t, json.Unmarshal(pub.message, &decoded))
	assert.Equal(t, "job-1", decoded.JobID)
	assert.Equal(t, model.RouteProduction, decoded.Destination)
}

func TestRiskScoredPublishes(t *testing.T) {
	pub := &fakePublisher{}
	e := NewRedisEmitter(pub)

	require.NoError(t, e.RiskScored(context.Background(), &model.RiskScore{
		MPN:     "LM358",
		Overall: 12.5,
	}))

	assert.Equal(t, ChannelRisk, pub.channel)
	var decoded model.RiskScore
	require.NoError(t, json.Unmarshal(pub.message, &decoded))
	assert.Equal(t, 12.5, decoded.Overall)
}

func TestPublishFailureSurfaces(t *testing.T) {
	pub := &fakePublisher{err: eris.New("redis down")}
	e := NewRedisEmitter(pub)

	err := e.EnrichmentCompleted(context.Background(), &model.EnrichmentResult{JobID: "job-1"})
	require.Error(t, err)
}

func TestLogEmitterNeverFails(t *testing.T) {
	var e LogEmitter
	assert.NoError(t, e.EnrichmentCompleted(context.Background(), &model.EnrichmentResult{}))
	assert.NoError(t, e.RiskScored(context.Background(), &model.RiskScore{}))
}
