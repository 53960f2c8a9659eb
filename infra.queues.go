package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Predefinied Queue IDs.
const (
	CatalogQueue = "events:catalog"
	LendingQueue = "events:lending"
)

// Ensure *redisQueue implements Queuer.
var _ Queuer = (*redisQueue)(nil)

// Queuer describes a queue of catalog and lending events.
type Queuer interface {
	Push(ctx context.Context, qid string, ev Event) error
	Pop(ctx context.Context, qids ...string) (string, Event, error)
}

// redisQueue represents a queue which implements the Queuer interface.
type redisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) Queuer {
	return &redisQueue{client: client}
}

// Push enqueues an event onto the queue identified by qid.
func (q *redisQueue) Push(ctx context.Context, qid string, ev Event) error {
	evBytes, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, qid, evBytes).Err()
}

// Pop returns the first dequeued event from the list of queue ids.
// It blocks until an event is available or the context is done.
func (q *redisQueue) Pop(ctx context.Context, qids ...string) (string, Event, error) {
	var ev Event
	var qid string
	infos, err := q.client.BLPop(ctx, 0*time.Second, qids...).Result()
	if err != nil {
		return qid, ev, err
	}

	if err = json.Unmarshal([]byte(infos[1]), &ev); err != nil {
		return infos[0], ev, err
	}
	qid = infos[0]
	return qid, ev, nil
}

// PushEvent publishes ev and only logs a failure. The mutation which
// produced the event is already committed at that point.
func PushEvent(ctx context.Context, logger *zap.Logger, queue Queuer, qid string, ev Event) {
	if queue == nil {
		return
	}
	if err := queue.Push(ctx, qid, ev); err != nil {
		logger.Error("service: failed to push event to queue",
			zap.String("qid", qid),
			zap.String("event.type", string(ev.Type)),
			zap.Int64("book.id", ev.BookID),
			zap.Error(err),
		)
	}
}
