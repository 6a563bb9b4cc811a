package geo

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker/v2"
)

// Location is a successful geolocation answer.
type Location struct {
	Country   string
	City      string
	Latitude  float64
	Longitude float64
	Timezone  string
	ISP       string
	Org       string
	AS        string
}

// Provider resolves a network address to a Location. Any failure, whether
// the provider declined the address or the call did not complete, is an error.
type Provider interface {
	Lookup(ctx context.Context, ip string) (*Location, error)
	Name() string
}

// LookupError means the provider answered but refused the address
// (private range, reserved, quota, ...).
type LookupError struct {
	Provider string
	Reason   string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s lookup failed: %s", e.Provider, e.Reason)
}

// Outcome labels a lookup result for metrics and logs.
func Outcome(err error) string {
	var lookupErr *LookupError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &lookupErr):
		return "fail"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	default:
		return "error"
	}
}
