package audit

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Event records one privileged control action.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Action      string    `json:"action"`
	Limit       int       `json:"limit"`
	Concurrency int       `json:"concurrency,omitempty"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

var auditLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Log writes an audit line for a dispatch. It never fails; audit output
// is advisory and must not affect the dispatch result.
func Log(service, action string, limit, concurrency int, success bool, err error) {
	event := auditLogger.Log().
		Str("audit", "service_control").
		Str("service", service).
		Str("action", action).
		Int("limit", limit).
		Bool("success", success).
		Time("at", time.Now().UTC())
	if concurrency > 0 {
		event = event.Int("concurrency", concurrency)
	}
	if err != nil {
		event = event.Str("error", err.Error())
	}
	event.Send()
}
