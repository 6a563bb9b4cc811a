package repo

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultLinkCapacity  = 1000
	DefaultLinkTTL       = 24 * time.Hour
	DefaultVisitCapacity = 100

	maxIDAttempts = 16
)

var (
	ErrLinkNotFound      = errors.New("link not found")
	ErrInvalidVideoURL   = errors.New("url has no video id")
	ErrIDSpaceExhausted  = errors.New("could not generate a free short id")
	ErrLedgerNotMigrated = errors.New("visit ledger schema is missing")
	ErrUnsupportedField  = errors.New("unsupported field for aggregation")
)

// AnalyticsFields are the visit attributes CountByField groups on.
var AnalyticsFields = []string{"browser", "os", "device", "country"}

// LinkTable maps short ids to video ids. Entries idle for longer than the
// TTL are gone; when the table is full the least recently touched entry is
// evicted.
type LinkTable interface {
	// Create stores a new mapping under a fresh short id.
	Create(ctx context.Context, videoID string) (*LinkEntity, error)
	// Resolve counts a visit and refreshes the entry's TTL.
	Resolve(ctx context.Context, shortID string) (*LinkEntity, error)
	// Get reads an entry without touching it.
	Get(ctx context.Context, shortID string) (*LinkEntity, error)
}

// VisitLedger keeps the most recent visits, bounded by its capacity.
type VisitLedger interface {
	Append(ctx context.Context, visit VisitEntity) error
	// List returns visits newest first.
	List(ctx context.Context) ([]VisitEntity, error)
	// CountByField groups the stored visits by one of AnalyticsFields,
	// most frequent value first.
	CountByField(ctx context.Context, field string) ([]FieldStat, error)
}

func supportedField(field string) bool {
	for _, f := range AnalyticsFields {
		if f == field {
			return true
		}
	}
	return false
}

// LinkOptions tunes a LinkTable. Zero values take the package defaults.
type LinkOptions struct {
	Capacity int
	TTL      time.Duration
	Now      func() time.Time
	NewID    func() (string, error)
}

func (o LinkOptions) withDefaults() LinkOptions {
	if o.Capacity <= 0 {
		o.Capacity = DefaultLinkCapacity
	}
	if o.TTL <= 0 {
		o.TTL = DefaultLinkTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = NewShortID
	}
	return o
}

func (o LinkOptions) expired(lastAccess, now time.Time) bool {
	return now.Sub(lastAccess) > o.TTL
}
