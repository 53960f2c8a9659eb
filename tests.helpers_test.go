package main

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex(t *testing.T) {
	km := NewKeyedMutex()

	t.Run("should pass: same key is exclusive", func(t *testing.T) {
		var wg sync.WaitGroup
		counter := 0
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := km.Lock(BookLockKey(1))
				defer unlock()
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
			}()
		}
		wg.Wait()
		assert.Equal(t, 100, counter)
		assert.Equal(t, 0, km.Size())
	})

	t.Run("should pass: distinct keys do not block", func(t *testing.T) {
		unlockA := km.Lock(BookLockKey(1))
		done := make(chan struct{})
		go func() {
			unlockB := km.Lock(BookLockKey(2))
			unlockB()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("lock on another key was blocked")
		}
		assert.Equal(t, 1, km.Size())
		unlockA()
		assert.Equal(t, 0, km.Size())
	})
}

func TestBookCache(t *testing.T) {
	assert.Nil(t, NewBookCache(0, time.Minute))

	var disabled *BookCache
	disabled.Set(Book{ID: 1})
	_, ok := disabled.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 0, disabled.Len())

	cache := NewBookCache(2, time.Minute)
	for id := int64(1); id <= 3; id++ {
		cache.Set(Book{ID: id, Title: "t"})
	}
	assert.Equal(t, 2, cache.Len())
	_, ok = cache.Get(1)
	assert.False(t, ok, "least recently used entry must be evicted")
	book, ok := cache.Get(3)
	assert.True(t, ok)
	assert.Equal(t, int64(3), book.ID)

	cache.Remove(3)
	_, ok = cache.Get(3)
	assert.False(t, ok)

	cache.Set(Book{ID: 4})
	cache.Purge()
	assert.Equal(t, 0, cache.Len())
	disabled.Purge()
}

func TestAccessTokens(t *testing.T) {
	config := &AuthConfig{Secret: "s3cr3t", Issuer: "demo-library", TokenTTL: time.Hour}
	now := NewMockClocker().Now()

	token, err := IssueAccessToken(config, "alice", RoleUser, now)
	require.NoError(t, err)

	t.Run("should pass: valid token", func(t *testing.T) {
		identity, err := ParseAccessToken(config, "Bearer "+token, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, Identity{UserID: "alice", Role: RoleUser}, identity)
	})

	t.Run("should fail", func(t *testing.T) {
		other := &AuthConfig{Secret: "other", Issuer: "demo-library", TokenTTL: time.Hour}
		foreignIssuer := &AuthConfig{Secret: "s3cr3t", Issuer: "someone-else", TokenTTL: time.Hour}
		unknownRole, err := IssueAccessToken(config, "mallory", Role("root"), now)
		require.NoError(t, err)
		noneSigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"sub": "mallory", "role": "admin", "exp": now.Add(time.Hour).Unix(),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		testCases := []struct {
			name   string
			config *AuthConfig
			header string
			at     time.Time
			want   error
		}{
			{"empty header", config, "", now, ErrMissingToken},
			{"no scheme", config, token, now, ErrMissingToken},
			{"expired", config, "Bearer " + token, now.Add(2 * time.Hour), ErrInvalidToken},
			{"wrong secret", other, "Bearer " + token, now, ErrInvalidToken},
			{"wrong issuer", foreignIssuer, "Bearer " + token, now, ErrInvalidToken},
			{"unknown role", config, "Bearer " + unknownRole, now, ErrInvalidToken},
			{"none algorithm", config, "Bearer " + noneSigned, now, ErrInvalidToken},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := ParseAccessToken(tc.config, tc.header, tc.at)
				assert.ErrorIs(t, err, tc.want)
				assert.ErrorIs(t, err, ErrUnauthorized)
			})
		}
	})
}

func TestCan(t *testing.T) {
	for _, action := range []Action{ActionCreateAny, ActionReadAny, ActionUpdateAny, ActionDeleteAny} {
		assert.True(t, Can(RoleAdmin, action, ResourceBook), action)
	}
	assert.True(t, Can(RoleUser, ActionReadAny, ResourceBook))
	assert.False(t, Can(RoleUser, ActionCreateAny, ResourceBook))
	assert.False(t, Can(RoleUser, ActionUpdateAny, ResourceBook))
	assert.False(t, Can(RoleUser, ActionDeleteAny, ResourceBook))
	assert.False(t, Can(Role("guest"), ActionReadAny, ResourceBook))
	assert.False(t, Can(RoleAdmin, ActionReadAny, Resource("shelf")))

	assert.True(t, IsKnownRole(RoleAdmin))
	assert.False(t, IsKnownRole(Role("")))
}

func TestErrorClassification(t *testing.T) {
	testCases := []struct {
		err    error
		status int
		reason string
	}{
		{ErrBookNotFound, 404, "book not found"},
		{ErrBookExists, 400, "isbn or title in use by another book"},
		{ErrBookBorrowed, 400, "book is currently borrowed"},
		{ErrMissingUser, 400, "user id is required"},
		{ErrInvalidBookID, 400, "book id must be a positive integer"},
		{invalidFieldError{"title", "must not be empty"}, 400, "title must not be empty"},
		{ErrAccessDenied, 401, "role is not allowed to perform this action"},
		{os.ErrClosed, 500, ""},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.status, StatusFromError(tc.err), tc.err.Error())
		assert.Equal(t, tc.reason, ErrorReason(tc.err), tc.err.Error())
	}
}

func TestRequestValidator(t *testing.T) {
	rv := NewRequestValidator()
	price, year := 9.99, 1965

	valid := CreateBookRequest{Title: "Dune", Author: "Frank Herbert", ISBN: "978-0441013593", Price: &price, Category: "Fiction", PublishedYear: &year}
	assert.Nil(t, rv.Validate(valid))
	book := valid.ToBook()
	assert.Equal(t, CategoryFiction, book.Category)
	assert.Equal(t, 9.99, book.Price)

	reasons := rv.Validate(CreateBookRequest{})
	assert.ElementsMatch(t, []string{
		"title is required", "author is required", "isbn is required",
		"price is required", "category is required", "publishedYear is required",
	}, reasons)

	empty := ""
	assert.Equal(t, []string{"title must contain at least 1 characters"}, rv.Validate(UpdateBookRequest{Title: &empty}))
	assert.Nil(t, rv.Validate(UpdateBookRequest{}))
}

func TestParsers(t *testing.T) {
	id, err := ParseBookID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	for _, raw := range []string{"", "0", "-1", "abc", "1.5"} {
		_, err = ParseBookID(raw)
		assert.ErrorIs(t, err, ErrInvalidBookID, raw)
	}

	r := httptest.NewRequest("GET", "/v1/books?page=3&limit=x", nil)
	v, err := ParsePositiveQuery(r, "page", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	_, err = ParsePositiveQuery(r, "limit", 10)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	v, err = ParsePositiveQuery(r, "missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	c, ok := ParseCategory("  RoMaNce ")
	assert.True(t, ok)
	assert.Equal(t, CategoryRomance, c)
	_, ok = ParseCategory("poetry")
	assert.False(t, ok)
}

func TestIDsHandler(t *testing.T) {
	ids := NewIDsHandler()
	id := ids.Generate(RequestIDPrefix)
	assert.True(t, ids.IsValid(id, RequestIDPrefix))
	assert.False(t, ids.IsValid(id, "b"))
	assert.False(t, ids.IsValid("r:not-a-uuid", RequestIDPrefix))
}

func TestInitConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Host: "0.0.0.0", Port: "8080"},
			Redis:  RedisConfig{Host: "localhost", Port: "6379"},
			Auth:   AuthConfig{Secret: "s3cr3t"},
		}
	}

	config := valid()
	require.NoError(t, InitConfig(config, "abc123", "v1.0.0", ""))
	assert.Equal(t, "abc123", config.GitCommit)
	assert.Equal(t, "v1.0.0", config.GitTag)
	assert.Equal(t, StorageDriverRedis, config.Storage.Driver)
	assert.Equal(t, 1, config.Pagination.Page)
	assert.Equal(t, 10, config.Pagination.Limit)
	assert.Equal(t, 100, config.Pagination.MaxLimit)
	assert.Equal(t, 24*time.Hour, config.Auth.TokenTTL)
	assert.Equal(t, "journal", config.BoltDB.BucketName)

	config = valid()
	config.Auth.Secret = ""
	assert.Error(t, InitConfig(config, "", "", ""))

	config = valid()
	config.Storage.Driver = "mongo"
	assert.Error(t, InitConfig(config, "", "", ""))

	config = valid()
	config.Storage.Driver = StorageDriverPostgres
	assert.Error(t, InitConfig(config, "", "", ""))
	config.Postgres = PostgresConfig{Host: "localhost", Port: 5432, Database: "library", User: "u", Password: "p"}
	require.NoError(t, InitConfig(config, "", "", ""))
	assert.Equal(t, "postgres://u:p@localhost:5432/library?sslmode=disable", config.Postgres.DSN())
	assert.Equal(t, "pgx5://u:p@localhost:5432/library?sslmode=disable", config.Postgres.MigrationURL())
}

func TestLoadConfigEnvs(t *testing.T) {
	t.Setenv("DLAP_SERVER_PORT", "9090")
	t.Setenv("DLAP_PAGINATION_MAX_LIMIT", "50")
	t.Setenv("DLAP_AUTH_TOKEN_TTL", "30m")
	config := &Config{}
	require.NoError(t, LoadConfigEnvs("DLAP", config))
	assert.Equal(t, "9090", config.Server.Port)
	assert.Equal(t, 50, config.Pagination.MaxLimit)
	assert.Equal(t, 30*time.Minute, config.Auth.TokenTTL)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := "server:\n  host: 127.0.0.1\n  port: \"8081\"\nstorage:\n  driver: postgres\ncache:\n  size: 16\n  ttl: 1m\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	config, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, StorageDriverPostgres, config.Storage.Driver)
	assert.Equal(t, 16, config.Cache.Size)
	assert.Equal(t, time.Minute, config.Cache.TTL)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestRSyncWriter(t *testing.T) {
	folder := t.TempDir()
	w := NewRSyncWriter(&Config{LogFolder: folder, LogMaxSize: 1}, NewMockClocker())
	assert.NoError(t, w.Sync())

	n, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(folder)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = w.Write(make([]byte, 2*1048576))
	assert.Error(t, err)
}
