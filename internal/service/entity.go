package service

import (
	"time"

	"tracklink/internal/repo"
)

// Visit is the API form of a recorded visit. Location fields are omitted
// when geolocation failed.
type Visit struct {
	IP             string    `json:"ip"`
	Country        *string   `json:"country,omitempty"`
	City           *string   `json:"city,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	Timezone       *string   `json:"timezone,omitempty"`
	ISP            *string   `json:"isp,omitempty"`
	Org            *string   `json:"org,omitempty"`
	AS             *string   `json:"as,omitempty"`
	Browser        string    `json:"browser"`
	BrowserVersion string    `json:"browserVersion,omitempty"`
	OS             string    `json:"os"`
	Device         string    `json:"device"`
	IsMobile       bool      `json:"isMobile"`
	IsBot          bool      `json:"isBot"`
	VideoID        *string   `json:"videoId,omitempty"`
	ShortID        *string   `json:"shortId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type Link struct {
	ShortID    string    `json:"shortId"`
	VideoID    string    `json:"videoId"`
	Visits     int64     `json:"visits"`
	CreatedAt  time.Time `json:"createdAt"`
	LastAccess time.Time `json:"lastAccess"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type FieldAnalytics struct {
	Field string           `json:"field"`
	Total int64            `json:"total"`
	Stats []repo.FieldStat `json:"stats"`
}

func toServiceVisit(e repo.VisitEntity) Visit {
	return Visit{
		IP:             e.IP,
		Country:        e.Country,
		City:           e.City,
		Latitude:       e.Latitude,
		Longitude:      e.Longitude,
		Timezone:       e.Timezone,
		ISP:            e.ISP,
		Org:            e.Org,
		AS:             e.AS,
		Browser:        e.Browser,
		BrowserVersion: e.BrowserVersion,
		OS:             e.OS,
		Device:         e.Device,
		IsMobile:       e.IsMobile,
		IsBot:          e.IsBot,
		VideoID:        e.VideoID,
		ShortID:        e.ShortID,
		Timestamp:      e.CreatedAt.UTC(),
	}
}

func toServiceLink(e repo.LinkEntity, ttl time.Duration) Link {
	return Link{
		ShortID:    e.ShortID,
		VideoID:    e.VideoID,
		Visits:     e.Visits,
		CreatedAt:  e.CreatedAt.UTC(),
		LastAccess: e.LastAccess.UTC(),
		ExpiresAt:  e.LastAccess.Add(ttl).UTC(),
	}
}
