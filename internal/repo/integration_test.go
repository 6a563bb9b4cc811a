//go:build integration

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations", "postgres")
}

// startContainer returns host:port of the first exposed port.
func startContainer(t *testing.T, req testcontainers.ContainerRequest) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

func TestPostgresLedgerIntegration(t *testing.T) {
	skipIfNoDocker(t)

	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "tracklink",
			"POSTGRES_PASSWORD": "tracklink",
			"POSTGRES_DB":       "tracklink",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	})

	db, err := sql.Open("postgres", fmt.Sprintf(
		"postgres://tracklink:tracklink@%s/tracklink?sslmode=disable", addr))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	log := zerolog.Nop()
	ledger, err := NewPostgresLedger(ctx, db, &log, 3)
	require.NoError(t, err)

	_, err = ledger.List(ctx)
	assert.True(t, errors.Is(err, ErrLedgerNotMigrated))

	require.NoError(t, ledger.MigrateUp(ctx, migrationsDir(t)))

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		v := VisitEntity{
			IP:        fmt.Sprintf("10.0.0.%d", i),
			Browser:   "Chrome",
			OS:        "Linux",
			Device:    "Other",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if i%2 == 0 {
			v.Country = strPtr("Germany")
		}
		require.NoError(t, ledger.Append(ctx, v))
	}

	visits, err := ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, visits, 3)
	assert.Equal(t, "10.0.0.4", visits[0].IP)
	assert.Equal(t, "10.0.0.2", visits[2].IP)
	require.NotNil(t, visits[0].Country)
	assert.Equal(t, "Germany", *visits[0].Country)
	assert.Nil(t, visits[1].Country)
	assert.Nil(t, visits[1].Latitude)

	stats, err := ledger.CountByField(ctx, "country")
	require.NoError(t, err)
	assert.Equal(t, []FieldStat{{Value: "Germany", Count: 2}, {Value: "Unknown", Count: 1}}, stats)

	require.NoError(t, ledger.MigrateDown(ctx, migrationsDir(t)))
}

func TestRedisLinkTableIntegration(t *testing.T) {
	skipIfNoDocker(t)

	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	})

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx := context.Background()
	log := zerolog.Nop()
	clock := newFakeClock()
	table := NewRedisLinkTable(rdb, &log, "test:", LinkOptions{
		Capacity: 2,
		Now:      clock.Now,
		NewID:    sequentialIDs("AAAAAAAAAAA", "AAAAAAAAAAA", "BBBBBBBBBBB", "CCCCCCCCCCC"),
	})

	a, err := table.Create(ctx, "video-a")
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAAAAA", a.ShortID)
	clock.Advance(time.Second)

	b, err := table.Create(ctx, "video-b")
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBBBBB", b.ShortID)
	clock.Advance(time.Second)

	got, err := table.Resolve(ctx, "AAAAAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Visits)
	assert.Equal(t, "video-a", got.VideoID)
	clock.Advance(time.Second)

	_, err = table.Create(ctx, "video-c")
	require.NoError(t, err)

	_, err = table.Get(ctx, "BBBBBBBBBBB")
	assert.True(t, errors.Is(err, ErrLinkNotFound))
	n, err := rdb.ZCard(ctx, "test:links").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	clock.Advance(DefaultLinkTTL + time.Minute)
	_, err = table.Resolve(ctx, "CCCCCCCCCCC")
	assert.True(t, errors.Is(err, ErrLinkNotFound))
	exists, err := rdb.Exists(ctx, "test:link:CCCCCCCCCCC").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestRedisLinkTableParallelCreatesIntegration(t *testing.T) {
	skipIfNoDocker(t)

	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	})

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx := context.Background()
	log := zerolog.Nop()
	table := NewRedisLinkTable(rdb, &log, "par:", LinkOptions{Capacity: 10})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := table.Create(ctx, "video")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := rdb.ZCard(ctx, "par:links").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	keys, err := rdb.Keys(ctx, "par:link:*").Result()
	require.NoError(t, err)
	assert.Len(t, keys, 10)
}
