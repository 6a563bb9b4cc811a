package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tracklink/internal/events"
	"tracklink/internal/fingerprint"
	"tracklink/internal/geo"
	"tracklink/internal/metrics"
	"tracklink/internal/repo"
)

const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultTaskTimeout = 10 * time.Second
)

var (
	ErrQueueFull = errors.New("tracking queue is full")
	ErrClosed    = errors.New("tracker is closed")
)

// Job is everything a worker needs from the request, copied before the
// handler returns.
type Job struct {
	Header     http.Header
	RemoteAddr string
	VideoID    string
	ShortID    string
	ReceivedAt time.Time
}

type Config struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	return c
}

// Tracker records visits off the request path with a fixed worker pool.
type Tracker struct {
	cfg       Config
	extractor fingerprint.Extractor
	geo       geo.Provider
	ledger    repo.VisitLedger
	publisher events.Publisher
	log       *zerolog.Logger

	jobs chan Job
	errs chan error
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func New(cfg Config, extractor fingerprint.Extractor, provider geo.Provider, ledger repo.VisitLedger,
	publisher events.Publisher, log *zerolog.Logger) *Tracker {
	cfg = cfg.withDefaults()
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	t := &Tracker{
		cfg:       cfg,
		extractor: extractor,
		geo:       provider,
		ledger:    ledger,
		publisher: publisher,
		log:       log,
		jobs:      make(chan Job, cfg.QueueSize),
		errs:      make(chan error, cfg.QueueSize),
	}

	for i := 0; i < cfg.Workers; i++ {
		t.wg.Add(1)
		go t.worker()
	}
	return t
}

// Submit queues a job without blocking. A full queue drops the job.
func (t *Tracker) Submit(job Job) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrClosed
	}
	if job.ReceivedAt.IsZero() {
		job.ReceivedAt = time.Now()
	}

	select {
	case t.jobs <- job:
		return nil
	default:
		metrics.TrackingDropped.Inc()
		return ErrQueueFull
	}
}

// Errors delivers pipeline failures. It is closed once Close has drained
// the workers. Errors are dropped when nobody reads them.
func (t *Tracker) Errors() <-chan error {
	return t.errs
}

// Close stops intake and waits for queued jobs to finish or ctx to end.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.jobs)
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(t.errs)
		close(done)
	}()

	select {
	case <-done:
		if err := t.publisher.Close(); err != nil {
			return fmt.Errorf("failed to close publisher: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tracker drain interrupted: %w", ctx.Err())
	}
}

func (t *Tracker) worker() {
	defer t.wg.Done()
	for job := range t.jobs {
		t.process(job)
	}
}

func (t *Tracker) process(job Job) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TrackingErrors.WithLabelValues("panic").Inc()
			t.report(fmt.Errorf("panic while tracking visit: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.TaskTimeout)
	defer cancel()

	visit := t.buildVisit(ctx, job)

	if err := t.ledger.Append(ctx, visit); err != nil {
		metrics.TrackingErrors.WithLabelValues("ledger").Inc()
		t.report(fmt.Errorf("failed to record visit from %s: %w", visit.IP, err))
		return
	}
	metrics.VisitsRecorded.Inc()
	t.log.Info().Msgf("Visit from %s recorded", visit.IP)

	if err := t.publisher.Publish(ctx, visit); err != nil {
		metrics.TrackingErrors.WithLabelValues("publish").Inc()
		t.report(err)
	}
}

// buildVisit always yields a record; a failed lookup leaves location empty.
func (t *Tracker) buildVisit(ctx context.Context, job Job) repo.VisitEntity {
	ip, substituted := t.extractor.Address(job.Header, job.RemoteAddr)
	if substituted {
		t.log.Warn().Msgf("loopback client address replaced with %s for geolocation", ip)
	}

	device := fingerprint.ParseUserAgent(job.Header.Get("User-Agent"))

	visit := repo.VisitEntity{
		IP:             ip,
		Browser:        device.BrowserFamily,
		BrowserVersion: device.BrowserVersion,
		OS:             device.OS,
		Device:         device.DeviceFamily,
		IsMobile:       device.IsMobile,
		IsBot:          device.IsBot,
		CreatedAt:      job.ReceivedAt,
	}
	if job.VideoID != "" {
		visit.VideoID = stringPtr(job.VideoID)
	}
	if job.ShortID != "" {
		visit.ShortID = stringPtr(job.ShortID)
	}

	loc, err := t.geo.Lookup(ctx, ip)
	metrics.GeoLookups.WithLabelValues(geo.Outcome(err)).Inc()
	if err != nil {
		t.log.Warn().Msgf("geolocation for %s failed: %v", ip, err)
		return visit
	}

	t.log.Info().Msgf("Location found for %s: %s, %s", ip, loc.City, loc.Country)
	visit.Country = stringPtr(loc.Country)
	visit.City = stringPtr(loc.City)
	visit.Latitude = &loc.Latitude
	visit.Longitude = &loc.Longitude
	visit.Timezone = stringPtr(loc.Timezone)
	visit.ISP = stringPtr(loc.ISP)
	visit.Org = stringPtr(loc.Org)
	visit.AS = stringPtr(loc.AS)
	return visit
}

func (t *Tracker) report(err error) {
	select {
	case t.errs <- err:
	default:
		t.log.Error().Msgf("tracking error dropped: %v", err)
	}
}

func stringPtr(s string) *string {
	return &s
}
