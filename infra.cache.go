package main

import (
	"context"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// BookCacheChannel carries the ids of the books changed by any api instance.
const BookCacheChannel = "books:cache"

var (
	bookCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dlap_book_cache_hits_total",
		Help: "Number of book lookups served from the in-memory cache.",
	})
	bookCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dlap_book_cache_misses_total",
		Help: "Number of book lookups which went to the storage.",
	})
)

// BookCache is a per-instance LRU of books keyed by id. A nil
// *BookCache is valid and behaves as an always empty cache.
type BookCache struct {
	lru *expirable.LRU[int64, Book]
}

// NewBookCache returns a cache holding up to size books for ttl.
// It returns nil when size is not positive, which disables caching.
func NewBookCache(size int, ttl time.Duration) *BookCache {
	if size <= 0 {
		return nil
	}
	return &BookCache{lru: expirable.NewLRU[int64, Book](size, nil, ttl)}
}

func (bc *BookCache) Get(id int64) (Book, bool) {
	if bc == nil {
		return Book{}, false
	}
	book, ok := bc.lru.Get(id)
	if ok {
		bookCacheHits.Inc()
		return book, true
	}
	bookCacheMisses.Inc()
	return Book{}, false
}

func (bc *BookCache) Set(book Book) {
	if bc == nil {
		return
	}
	bc.lru.Add(book.ID, book)
}

func (bc *BookCache) Remove(id int64) {
	if bc == nil {
		return
	}
	bc.lru.Remove(id)
}

// Purge drops every cached book.
func (bc *BookCache) Purge() {
	if bc == nil {
		return
	}
	bc.lru.Purge()
}

// Len returns the number of cached books.
func (bc *BookCache) Len() int {
	if bc == nil {
		return 0
	}
	return bc.lru.Len()
}

// Ensure *redisCacheNotifier implements CacheNotifier.
var _ CacheNotifier = (*redisCacheNotifier)(nil)

// CacheNotifier spreads book cache invalidations between the api
// instances sharing the same catalog store.
type CacheNotifier interface {
	Notify(ctx context.Context, id int64) error
	// Listen calls drop for every notified id and reset each time the
	// subscription is (re)established, until ctx is done.
	Listen(ctx context.Context, drop func(id int64), reset func()) error
}

// redisCacheNotifier relies on redis pub/sub. Messages published while an
// instance is disconnected are lost, hence the reset on every resubscription.
type redisCacheNotifier struct {
	client  *redis.Client
	channel string
	backoff time.Duration
}

func NewRedisCacheNotifier(client *redis.Client) CacheNotifier {
	return &redisCacheNotifier{client: client, channel: BookCacheChannel, backoff: time.Second}
}

func (n *redisCacheNotifier) Notify(ctx context.Context, id int64) error {
	return n.client.Publish(ctx, n.channel, strconv.FormatInt(id, 10)).Err()
}

func (n *redisCacheNotifier) Listen(ctx context.Context, drop func(id int64), reset func()) error {
	pubsub := n.client.Subscribe(ctx, n.channel)
	// Receive does not watch ctx, closing the subscription unblocks it.
	go func() {
		<-ctx.Done()
		_ = pubsub.Close()
	}()

	for {
		msg, err := pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// go-redis reconnects on the next call.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(n.backoff):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				reset()
			}
		case *redis.Message:
			id, err := strconv.ParseInt(m.Payload, 10, 64)
			if err != nil {
				reset()
				continue
			}
			drop(id)
		}
	}
}
