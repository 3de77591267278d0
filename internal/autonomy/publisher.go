package autonomy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/swarm-governor/internal/domain"
	"github.com/xela07ax/swarm-governor/internal/infra"
)

// RedisDecisionPublisher транслирует решения принципала в канал Pub/Sub
type RedisDecisionPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisDecisionPublisher(rdb *redis.Client) *RedisDecisionPublisher {
	return &RedisDecisionPublisher{rdb: rdb, channel: infra.RedisChanApprovalDecisions}
}

func (p *RedisDecisionPublisher) PublishDecision(ctx context.Context, approval domain.PendingApproval) error {
	payload, err := json.Marshal(approval)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish decision: %v", domain.ErrExternalCall, err)
	}
	return nil
}

// Publishers рассылает решение всем получателям. Ошибки не прерывают рассылку.
type Publishers []DecisionPublisher

func (ps Publishers) PublishDecision(ctx context.Context, approval domain.PendingApproval) error {
	var errs []error
	for _, p := range ps {
		if err := p.PublishDecision(ctx, approval); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
