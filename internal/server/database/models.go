package database

import "time"

// UploadHash marks a transfer log that has already been ingested.
type UploadHash struct {
	ReceivedAt  time.Time
	SHA1        string
	SubmittedBy string // empty when uploads are unauthenticated
}

// Site maps a site name to the addresses its transfers are attributed by.
type Site struct {
	Name  string
	Hosts []string
}

// DateRange is the reporting window, rendered as YYYY-MM-DD HH:MM:SS.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ResultSet is one aggregate of a report, with rows ordered by site name.
type ResultSet[T any] struct {
	Description string `json:"description"`
	Results     []T    `json:"results"`
}

type SiteTransfers struct {
	Site      string `json:"site" db:"site"`
	Transfers int64  `json:"transfers" db:"transfers"`
}

type SiteVolume struct {
	Site          string  `json:"site" db:"site"`
	TBTransferred float64 `json:"tb_transferred" db:"tb_transferred"`
}

type SiteThroughput struct {
	Site           string  `json:"site" db:"site"`
	AvgMBytePerSec float64 `json:"avg_mbyte_sec" db:"avg_mbyte_sec"`
}

// QuarterlyReport holds the per-site statistics for one calendar quarter.
// Result sets are keyed "0" to "3" in JSON to keep the document shape
// existing report consumers parse.
type QuarterlyReport struct {
	Description     string                    `json:"description"`
	DateRange       DateRange                 `json:"date_range"`
	Transfers       ResultSet[SiteTransfers]  `json:"0"`
	Volume          ResultSet[SiteVolume]     `json:"1"`
	Throughput      ResultSet[SiteThroughput] `json:"2"`
	LargeThroughput ResultSet[SiteThroughput] `json:"3"`
}
