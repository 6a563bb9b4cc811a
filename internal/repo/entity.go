package repo

import "time"

type LinkEntity struct {
	ShortID    string    `db:"short_id"`
	VideoID    string    `db:"video_id"`
	CreatedAt  time.Time `db:"created_at"`
	LastAccess time.Time `db:"last_access"`
	Visits     int64     `db:"visits"`
}

// VisitEntity is one recorded visit. Location fields are nil when the
// geolocation lookup failed. Never mutated after Append.
type VisitEntity struct {
	ID             int64     `db:"id"`
	IP             string    `db:"ip"`
	Country        *string   `db:"country"`
	City           *string   `db:"city"`
	Latitude       *float64  `db:"latitude"`
	Longitude      *float64  `db:"longitude"`
	Timezone       *string   `db:"timezone"`
	ISP            *string   `db:"isp"`
	Org            *string   `db:"org"`
	AS             *string   `db:"as_id"`
	Browser        string    `db:"browser"`
	BrowserVersion string    `db:"browser_version"`
	OS             string    `db:"os"`
	Device         string    `db:"device"`
	IsMobile       bool      `db:"is_mobile"`
	IsBot          bool      `db:"is_bot"`
	VideoID        *string   `db:"video_id"`
	ShortID        *string   `db:"short_id"`
	CreatedAt      time.Time `db:"created_at"`
}

type FieldStat struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}
