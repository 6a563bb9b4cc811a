package tracker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracklink/internal/fingerprint"
	"tracklink/internal/geo"
	"tracklink/internal/repo"
)

const firefoxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0"

type fakeProvider struct {
	mu      sync.Mutex
	lookups []string
	err     error
	started chan struct{}
	release chan struct{}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Lookup(ctx context.Context, ip string) (*geo.Location, error) {
	p.mu.Lock()
	p.lookups = append(p.lookups, ip)
	p.mu.Unlock()

	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.release != nil {
		<-p.release
	}
	if p.err != nil {
		return nil, p.err
	}
	return &geo.Location{Country: "Germany", City: "Berlin", Latitude: 52.52, Longitude: 13.4}, nil
}

type failingLedger struct{}

func (failingLedger) Append(context.Context, repo.VisitEntity) error {
	return errors.New("disk full")
}

func (failingLedger) List(context.Context) ([]repo.VisitEntity, error) { return nil, nil }

func (failingLedger) CountByField(context.Context, string) ([]repo.FieldStat, error) {
	return nil, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	visits []repo.VisitEntity
	closed bool
}

func (p *recordingPublisher) Publish(_ context.Context, v repo.VisitEntity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visits = append(p.visits, v)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingPublisher) published() []repo.VisitEntity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]repo.VisitEntity(nil), p.visits...)
}

func (p *recordingPublisher) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func newTracker(t *testing.T, cfg Config, provider geo.Provider, ledger repo.VisitLedger, pub *recordingPublisher) *Tracker {
	t.Helper()
	log := zerolog.Nop()
	var publisher = pub
	if publisher == nil {
		publisher = &recordingPublisher{}
	}
	return New(cfg, fingerprint.Extractor{LoopbackSubstitute: "8.8.8.8"}, provider, ledger, publisher, &log)
}

func header(pairs ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func TestTrackerRecordsVisit(t *testing.T) {
	ledger := repo.NewMemoryVisitLedger(10)
	pub := &recordingPublisher{}
	tr := newTracker(t, Config{Workers: 2}, &fakeProvider{}, ledger, pub)

	require.NoError(t, tr.Submit(Job{
		Header:     header("User-Agent", firefoxUA, "X-Forwarded-For", "203.0.113.7, 10.0.0.1"),
		RemoteAddr: "10.0.0.1:5555",
		VideoID:    "dQw4w9WgXcQ",
		ShortID:    "AAAAAAAAAAA",
	}))
	require.NoError(t, tr.Close(context.Background()))

	visits, err := ledger.List(context.Background())
	require.NoError(t, err)
	require.Len(t, visits, 1)

	v := visits[0]
	assert.Equal(t, "203.0.113.7", v.IP)
	require.NotNil(t, v.Country)
	assert.Equal(t, "Germany", *v.Country)
	assert.Equal(t, "Berlin", *v.City)
	assert.Equal(t, 52.52, *v.Latitude)
	assert.Equal(t, "Firefox", v.Browser)
	assert.Contains(t, v.OS, "Linux")
	assert.False(t, v.IsMobile)
	assert.Equal(t, "dQw4w9WgXcQ", *v.VideoID)
	assert.Equal(t, "AAAAAAAAAAA", *v.ShortID)
	assert.False(t, v.CreatedAt.IsZero())

	assert.Len(t, pub.published(), 1)
	assert.True(t, pub.isClosed())
}

func TestTrackerRecordsVisitWhenGeoFails(t *testing.T) {
	ledger := repo.NewMemoryVisitLedger(10)
	tr := newTracker(t, Config{}, &fakeProvider{err: errors.New("timeout")}, ledger, nil)

	require.NoError(t, tr.Submit(Job{Header: header(), RemoteAddr: "198.51.100.1:1234"}))
	require.NoError(t, tr.Close(context.Background()))

	visits, err := ledger.List(context.Background())
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, "198.51.100.1", visits[0].IP)
	assert.Nil(t, visits[0].Country)
	assert.Nil(t, visits[0].Latitude)
	assert.Nil(t, visits[0].VideoID)
	assert.Equal(t, fingerprint.Unknown, visits[0].Browser)
}

func TestTrackerSubstitutesLoopback(t *testing.T) {
	provider := &fakeProvider{}
	ledger := repo.NewMemoryVisitLedger(10)
	tr := newTracker(t, Config{}, provider, ledger, nil)

	require.NoError(t, tr.Submit(Job{Header: header(), RemoteAddr: "[::1]:8080"}))
	require.NoError(t, tr.Close(context.Background()))

	assert.Equal(t, []string{"8.8.8.8"}, provider.lookups)
	visits, err := ledger.List(context.Background())
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, "8.8.8.8", visits[0].IP)
}

func TestTrackerReportsLedgerErrors(t *testing.T) {
	tr := newTracker(t, Config{Workers: 1}, &fakeProvider{}, failingLedger{}, nil)

	require.NoError(t, tr.Submit(Job{Header: header(), RemoteAddr: "1.2.3.4:1"}))

	select {
	case err := <-tr.Errors():
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	case <-time.After(2 * time.Second):
		t.Fatal("expected a tracking error")
	}
	require.NoError(t, tr.Close(context.Background()))

	_, open := <-tr.Errors()
	assert.False(t, open)
}

func TestTrackerDropsWhenQueueFull(t *testing.T) {
	provider := &fakeProvider{started: make(chan struct{}, 1), release: make(chan struct{})}
	tr := newTracker(t, Config{Workers: 1, QueueSize: 1}, provider, repo.NewMemoryVisitLedger(10), nil)

	require.NoError(t, tr.Submit(Job{Header: header(), RemoteAddr: "1.1.1.1:1"}))
	<-provider.started

	require.NoError(t, tr.Submit(Job{Header: header(), RemoteAddr: "2.2.2.2:1"}))
	assert.ErrorIs(t, tr.Submit(Job{Header: header(), RemoteAddr: "3.3.3.3:1"}), ErrQueueFull)

	close(provider.release)
	<-provider.started
	require.NoError(t, tr.Close(context.Background()))
}

func TestTrackerRejectsAfterClose(t *testing.T) {
	tr := newTracker(t, Config{}, &fakeProvider{}, repo.NewMemoryVisitLedger(10), nil)
	require.NoError(t, tr.Close(context.Background()))
	require.NoError(t, tr.Close(context.Background()))

	assert.ErrorIs(t, tr.Submit(Job{Header: header()}), ErrClosed)
}

func TestTrackerCloseHonorsContext(t *testing.T) {
	provider := &fakeProvider{started: make(chan struct{}, 1), release: make(chan struct{})}
	tr := newTracker(t, Config{Workers: 1}, provider, repo.NewMemoryVisitLedger(10), nil)

	require.NoError(t, tr.Submit(Job{Header: header(), RemoteAddr: "1.1.1.1:1"}))
	<-provider.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tr.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(provider.release)
}
