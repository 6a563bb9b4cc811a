package geo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	DefaultIPAPIURL = "http://ip-api.com/json"
	DefaultTimeout  = 3 * time.Second

	ipAPIFields = "status,message,country,city,lat,lon,timezone,isp,org,as,query"
)

// IPAPIProvider queries the free ip-api.com endpoint (no key, rate limited upstream).
type IPAPIProvider struct {
	client  *http.Client
	baseURL string
}

type ipAPIResponse struct {
	Status   string  `json:"status"`
	Message  string  `json:"message"`
	Country  string  `json:"country"`
	City     string  `json:"city"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Timezone string  `json:"timezone"`
	ISP      string  `json:"isp"`
	Org      string  `json:"org"`
	AS       string  `json:"as"`
	Query    string  `json:"query"`
}

// NewIPAPIProvider builds a provider. Every call is bounded by timeout so a
// slow upstream cannot hold a tracking worker.
func NewIPAPIProvider(baseURL string, timeout time.Duration) *IPAPIProvider {
	if baseURL == "" {
		baseURL = DefaultIPAPIURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &IPAPIProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (p *IPAPIProvider) Name() string {
	return "ip-api.com"
}

func (p *IPAPIProvider) Lookup(ctx context.Context, ip string) (*Location, error) {
	if ip == "" {
		return nil, &LookupError{Provider: p.Name(), Reason: "empty address"}
	}

	endpoint := fmt.Sprintf("%s/%s?fields=%s", p.baseURL, url.PathEscape(ip), ipAPIFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", p.Name(), resp.StatusCode)
	}

	var result ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", p.Name(), err)
	}

	if result.Status != "success" {
		return nil, &LookupError{Provider: p.Name(), Reason: result.Message}
	}

	return &Location{
		Country:   result.Country,
		City:      result.City,
		Latitude:  result.Lat,
		Longitude: result.Lon,
		Timezone:  result.Timezone,
		ISP:       result.ISP,
		Org:       result.Org,
		AS:        result.AS,
	}, nil
}
