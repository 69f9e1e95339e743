package api

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fractal-lba/bouncer/internal/monitor"
)

const (
	// MaxIDLength bounds client supplied transition ids.
	MaxIDLength = 128
	// MaxSourceLength bounds source names.
	MaxSourceLength = 64
)

var (
	ErrNoObservations = errors.New("observations are required")
	ErrIDTooLong      = errors.New("id too long")
	ErrSourceTooLong  = errors.New("source too long")
)

// TransitionRequest is the body of POST /v1/transitions.
type TransitionRequest struct {
	// ID is optional; the server derives one from the content when empty.
	ID           string                         `json:"id,omitempty"`
	Source       string                         `json:"source,omitempty"`
	Observations map[string]monitor.Observation `json:"observations"`
}

// Validate performs basic structural validation. Whether the observations
// cover the monitored signals is decided by the monitor.
func (r *TransitionRequest) Validate() error {
	if len(r.Observations) == 0 {
		return ErrNoObservations
	}
	if len(r.ID) > MaxIDLength {
		return fmt.Errorf("%w: %d > %d", ErrIDTooLong, len(r.ID), MaxIDLength)
	}
	if len(r.Source) > MaxSourceLength {
		return fmt.Errorf("%w: %d > %d", ErrSourceTooLong, len(r.Source), MaxSourceLength)
	}
	for name, o := range r.Observations {
		if name == "" {
			return fmt.Errorf("observation with empty signal name")
		}
		if !finite(o.Before) || !finite(o.After) {
			return fmt.Errorf("signal %q: %w", name, monitor.ErrInvalidObservation)
		}
	}
	return nil
}

// Transition returns the observations in the form the monitor evaluates.
func (r *TransitionRequest) Transition() monitor.Transition {
	return monitor.Transition(r.Observations)
}

// VerdictRecord is the stored and returned outcome of one transition.
type VerdictRecord struct {
	ID     string `json:"id"`
	Source string `json:"source,omitempty"`
	// Digest is the canonical content hash of the observations.
	Digest    string    `json:"digest"`
	Inlier    bool      `json:"inlier"`
	World     int       `json:"world"`
	Outcomes  []string  `json:"outcomes,omitempty"`
	LatencyMs float64   `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
	// Cached is set on responses served from the verdict cache or store.
	Cached bool `json:"cached,omitempty"`
}

// Verdict returns the verdict label used in logs and traces.
func (v *VerdictRecord) Verdict() string {
	if v.Inlier {
		return "inlier"
	}
	return "outlier"
}

// NewVerdictRecord builds the record for a fresh evaluation.
func NewVerdictRecord(id, source, digest string, v *monitor.Verdict, now time.Time) *VerdictRecord {
	rec := &VerdictRecord{
		ID:        id,
		Source:    source,
		Digest:    digest,
		Inlier:    v.Inlier,
		World:     v.World,
		LatencyMs: float64(v.Duration.Microseconds()) / 1000,
		CreatedAt: now.UTC(),
	}
	if len(v.Outcomes) > 0 {
		rec.Outcomes = make([]string, len(v.Outcomes))
		for i, o := range v.Outcomes {
			rec.Outcomes[i] = o.String()
		}
	}
	return rec
}

// MonitorInfo is the body of GET /v1/monitor.
type MonitorInfo struct {
	Delta            float64  `json:"delta"`
	Worlds           int      `json:"worlds"`
	Variables        int      `json:"variables"`
	BoundConstraints int      `json:"bound_constraints"`
	PathConstraints  int      `json:"path_constraints"`
	Continuous       []string `json:"continuous"`
	Discrete         []string `json:"discrete"`
	Parallelism      int      `json:"parallelism"`
	StoreBackend     string   `json:"store_backend"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
