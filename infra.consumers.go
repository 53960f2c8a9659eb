package main

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const popRetryDelay = time.Second

type Consumer interface {
	Consume(ctx context.Context, qids ...string) error
}

type journalConsumer struct {
	logger  *zap.Logger
	queue   Queuer
	journal JournalStorage
}

// NewJournalConsumer provides a consumer which records queued events into the journal.
func NewJournalConsumer(logger *zap.Logger, q Queuer, journal JournalStorage) Consumer {
	return &journalConsumer{logger, q, journal}
}

// Consume pops events until the context is done. A failing event is
// logged and skipped so one bad entry never blocks the queue.
func (jc *journalConsumer) Consume(ctx context.Context, qids ...string) error {
	for {
		qid, ev, err := jc.queue.Pop(ctx, qids...)
		if err != nil && ctx.Err() != nil {
			jc.logger.Info("consumer: queue pop call: context is done: exit", zap.String("reason", ctx.Err().Error()))
			return nil
		}

		if err != nil {
			jc.logger.Error("consumer: error on queue pop call", zap.String("qid", qid), zap.Error(err))
			if qid == "" {
				// transport failure, give the server some time to come back.
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(popRetryDelay):
				}
			}
			continue
		}

		switch qid {
		case CatalogQueue, LendingQueue:
			if _, err = jc.journal.Append(ctx, ev); err != nil {
				jc.logger.Error("consumer: failed to journal event",
					zap.String("qid", qid),
					zap.String("event.type", string(ev.Type)),
					zap.Int64("book.id", ev.BookID),
					zap.Error(err),
				)
			}
		default:
			jc.logger.Warn("consumer: received event on unknown queue id", zap.String("qid", qid), zap.Any("event", ev))
		}
	}
}
