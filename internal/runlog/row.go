// Package runlog buffers one row per warmed URL and delivers the whole run to
// a sink in a single write.
package runlog

import (
	"time"

	"github.com/JakeFAU/edge-cache-warmer/internal/warmer"
)

// DefaultMode is recorded in the mode column of every row.
const DefaultMode = "DESKTOP"

// Columns names the row fields in sink order.
var Columns = []string{
	"run_id",
	"started_at",
	"finished_at",
	"country",
	"mode",
	"url",
	"status",
	"cf_cache",
	"litespeed_cache",
	"cf_ray",
	"response_ms",
	"error",
	"message",
}

// Row is one log entry. FinishedAt stays zero until the logger is finalized.
type Row struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Country     string    `json:"country"`
	Mode        string    `json:"mode"`
	URL         string    `json:"url"`
	Status      int       `json:"status,omitempty"`
	EdgeCache   string    `json:"cf_cache,omitempty"`
	OriginCache string    `json:"litespeed_cache,omitempty"`
	EdgeRay     string    `json:"cf_ray,omitempty"`
	ResponseMS  *int64    `json:"response_ms,omitempty"`
	Errored     bool      `json:"error"`
	Message     string    `json:"message,omitempty"`
}

// RowFromResult converts a WarmResult into a row.
func RowFromResult(result warmer.WarmResult) Row {
	ms := result.Latency.Milliseconds()
	return Row{
		Country:     result.Country,
		Mode:        DefaultMode,
		URL:         result.URL,
		Status:      result.HTTPStatus,
		EdgeCache:   result.EdgeCacheStatus,
		OriginCache: result.OriginCache,
		EdgeRay:     result.EdgeRayID,
		ResponseMS:  &ms,
		Errored:     result.Errored,
		Message:     result.ErrorMessage,
	}
}

// Values renders the row as spreadsheet cells in Columns order.
func (r Row) Values() []any {
	var finished any
	if !r.FinishedAt.IsZero() {
		finished = r.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	var status any = ""
	if r.Status != 0 {
		status = r.Status
	}
	var ms any = ""
	if r.ResponseMS != nil {
		ms = *r.ResponseMS
	}
	errFlag := 0
	if r.Errored {
		errFlag = 1
	}
	return []any{
		r.RunID,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		finished,
		r.Country,
		r.Mode,
		r.URL,
		status,
		r.EdgeCache,
		r.OriginCache,
		r.EdgeRay,
		ms,
		errFlag,
		r.Message,
	}
}

// Batch is handed to a Sink on flush.
type Batch struct {
	RunID      string
	Label      string
	StartedAt  time.Time
	FinishedAt time.Time
	Rows       []Row
}
