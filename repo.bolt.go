package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

var _ JournalStorage = (*boltJournalStorage)(nil)

// JournalStorage keeps the audit trail of catalog and lending events per book.
type JournalStorage interface {
	Append(ctx context.Context, ev Event) (Event, error)
	List(ctx context.Context, bookID int64, limit int) ([]Event, error)
	Close() error
}

type boltJournalStorage struct {
	logger *zap.Logger
	client *bolt.DB
	config *BoltDBConfig
}

// GetBoltDBClient setup the database and the bucket then provides a ready to use client.
func GetBoltDBClient(config *Config) (*bolt.DB, error) {
	db, err := bolt.Open(config.BoltDB.FilePath, 0o600, &bolt.Options{Timeout: config.BoltDB.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open the database, %v", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, errB := tx.CreateBucketIfNotExists([]byte(config.BoltDB.BucketName)); errB != nil {
			return fmt.Errorf("failed to create %s bucket: %v", config.BoltDB.BucketName, errB)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set up bucket: %v", err)
	}
	return db, nil
}

// NewBoltJournalStorage provides an instance of bolt-based events journal.
func NewBoltJournalStorage(logger *zap.Logger, boltConfig *BoltDBConfig, client *bolt.DB) JournalStorage {
	return &boltJournalStorage{
		logger: logger,
		client: client,
		config: boltConfig,
	}
}

// Close shuts down the bolt-based journal.
func (bj *boltJournalStorage) Close() error {
	return bj.client.Close()
}

func bookBucketKey(bookID int64) []byte {
	return []byte("book:" + formatID(bookID))
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// Append stores an event under the nested bucket of its book. The
// event receives the next sequence number of that bucket.
func (bj *boltJournalStorage) Append(_ context.Context, ev Event) (Event, error) {
	err := bj.client.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(bj.config.BucketName))
		if root == nil {
			return fmt.Errorf("bucket %s not found", bj.config.BucketName)
		}
		b, err := root.CreateBucketIfNotExists(bookBucketKey(ev.BookID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		ev.Sequence = seq
		evBytes, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), evBytes)
	})
	return ev, err
}

// List retrieves the latest events of a book in chronological order.
// A non positive limit returns the whole journal of the book.
func (bj *boltJournalStorage) List(_ context.Context, bookID int64, limit int) ([]Event, error) {
	events := []Event{}
	tx, err := bj.client.Begin(false)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	root := tx.Bucket([]byte(bj.config.BucketName))
	if root == nil {
		return events, nil
	}
	b := root.Bucket(bookBucketKey(bookID))
	if b == nil {
		return events, nil
	}

	c := b.Cursor()
	for k, v := c.Last(); k != nil; k, v = c.Prev() {
		if limit > 0 && len(events) == limit {
			break
		}
		var ev Event
		if err = json.Unmarshal(v, &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}
