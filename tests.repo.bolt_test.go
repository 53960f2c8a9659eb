package main

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestBoltJournal returns a journal backed by a temporary file.
func newTestBoltJournal(t *testing.T) JournalStorage {
	t.Helper()
	f, err := os.CreateTemp("", "tmp.bolt.db-")
	require.NoError(t, err)
	f.Close()
	testConfig := &Config{
		BoltDB: BoltDBConfig{
			FilePath:   f.Name(),
			Timeout:    5 * time.Second,
			BucketName: "test.journal",
		},
	}

	client, err := GetBoltDBClient(testConfig)
	require.NoError(t, err, "failed in creating a test bolt journal")
	journal := NewBoltJournalStorage(zap.NewNop(), &testConfig.BoltDB, client)
	t.Cleanup(func() {
		journal.Close()
		os.Remove(f.Name())
	})
	return journal
}

// Ensure bolt journal keeps events per book in order.
func TestBoltJournal_AppendAndList(t *testing.T) {
	journal := newTestBoltJournal(t)
	ctx := context.TODO()
	at := time.Date(2023, 7, 2, 0, 0, 0, 0, time.UTC)

	types := []EventType{EventBookCreated, EventBookBorrowed, EventBookReturned, EventBookUpdated}
	for i, et := range types {
		ev, err := journal.Append(ctx, Event{Type: et, BookID: 1, At: at.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), ev.Sequence)
	}
	ev, err := journal.Append(ctx, Event{Type: EventBookCreated, BookID: 2, At: at})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev.Sequence)

	events, err := journal.List(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i, et := range types {
		assert.Equal(t, et, events[i].Type)
		assert.Equal(t, uint64(i+1), events[i].Sequence)
	}

	events, err = journal.List(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventBookReturned, events[0].Type)
	assert.Equal(t, EventBookUpdated, events[1].Type)

	events, err = journal.List(ctx, 42, 0)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

// Ensure the consumer journals every event popped from the known queues.
func TestJournalConsumer(t *testing.T) {
	journal := newTestBoltJournal(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := []struct {
		qid string
		ev  Event
		err error
	}{
		{CatalogQueue, Event{Type: EventBookCreated, BookID: 7}, nil},
		{"events:unknown", Event{Type: EventBookCreated, BookID: 7}, nil},
		{LendingQueue, Event{}, errors.New("malformed payload")},
		{LendingQueue, Event{Type: EventBookBorrowed, BookID: 7, UserID: "alice"}, nil},
	}
	var popped int
	queue := &MockQueuer{PopFunc: func(ctx context.Context, qids ...string) (string, Event, error) {
		if popped == len(feed) {
			cancel()
			<-ctx.Done()
			return "", Event{}, ctx.Err()
		}
		item := feed[popped]
		popped++
		return item.qid, item.ev, item.err
	}}

	consumer := NewJournalConsumer(zap.NewNop(), queue, journal)
	require.NoError(t, consumer.Consume(ctx, CatalogQueue, LendingQueue))

	events, err := journal.List(context.Background(), 7, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventBookCreated, events[0].Type)
	assert.Equal(t, EventBookBorrowed, events[1].Type)
	assert.Equal(t, "alice", events[1].UserID)
}
