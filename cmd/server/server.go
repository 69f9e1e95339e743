package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/fractal-lba/bouncer/internal/api"
	"github.com/fractal-lba/bouncer/internal/cache"
	"github.com/fractal-lba/bouncer/internal/metrics"
	"github.com/fractal-lba/bouncer/internal/monitor"
	"github.com/fractal-lba/bouncer/internal/source"
	"github.com/fractal-lba/bouncer/internal/verdict"
	"github.com/fractal-lba/bouncer/internal/wal"
	"github.com/fractal-lba/bouncer/pkg/canonical"
	botel "github.com/fractal-lba/bouncer/pkg/otel"
)

const (
	tracerName      = "bouncer/server"
	signatureHeader = "X-Bouncer-Signature"
	requestIDHeader = "X-Request-ID"
)

type Server struct {
	monitor    *monitor.Monitor
	store      verdict.Store
	backend    string
	cache      *cache.VerdictCache
	inboxWAL   *wal.InboxWAL
	sources    *source.Manager
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	limiter    *rate.Limiter
	verdictTTL time.Duration
	maxBody    int64
	hmacKey    []byte
	now        func() time.Time

	metricsAuth struct {
		enabled  bool
		user     string
		password string
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/transitions", s.handleSubmit)
	mux.HandleFunc("GET /v1/verdicts/{id}", s.handleVerdict)
	mux.HandleFunc("GET /v1/monitor", s.handleMonitor)
	mux.Handle("GET /metrics", s.metricsHandler())
	mux.HandleFunc("GET /health", handleHealth)
	return mux
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set(requestIDHeader, requestID)

	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "10")
		respondError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	s.metrics.TransitionsTotal.Inc()

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if int64(len(body)) > s.maxBody {
		respondError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	// Append to WAL before parsing so malformed submissions are kept too
	if err := s.inboxWAL.Append(body); err != nil {
		log.Printf("WAL append error: %v", err)
		s.metrics.WALErrors.Inc()
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	var req api.TransitionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.sources.Allow(req.Source); err != nil {
		s.rejectSource(w, req.Source, err)
		return
	}
	s.metrics.TransitionsBySource.WithLabelValues(sourceLabel(req.Source)).Inc()

	if len(s.hmacKey) > 0 {
		payload, err := canonical.TransitionBytes(req.Source, req.Observations)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := canonical.VerifyHMAC(payload, r.Header.Get(signatureHeader), s.hmacKey); err != nil {
			log.Printf("Signature verification failed for request %s: %v", requestID, err)
			respondError(w, http.StatusUnauthorized, "signature verification failed")
			return
		}
	}
	digest, err := canonical.TransitionID(s.monitor.Fingerprint(), req.Source, req.Observations)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := req.ID
	if id == "" {
		id = digest
	}

	ctx, span := botel.StartSpan(r.Context(), tracerName, "transition.submit",
		append(botel.TransitionAttributes(id, req.Source, len(req.Observations)),
			botel.AttrRequestID.String(requestID))...)
	defer span.End()

	// Idempotent store check
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		log.Printf("Verdict store error: %v", err)
		s.metrics.StoreErrors.Inc()
		botel.RecordError(span, err, "store lookup")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if existing != nil {
		if existing.Digest != digest {
			// the id was first used for other observations or another model
			respondError(w, http.StatusConflict, "id already holds a verdict for different content")
			return
		}
		s.metrics.StoreHits.Inc()
		botel.AddEvent(span, botel.EventStoreHit, botel.AttrTransitionID.String(id))
		existing.Cached = true
		span.SetAttributes(botel.PerformanceAttributes(true, existing.LatencyMs)...)
		respondWithVerdict(w, existing)
		return
	}

	rec, cached := s.cachedVerdict(id, req.Source, digest)
	if cached {
		botel.AddEvent(span, botel.EventCacheHit, botel.AttrDigest.String(digest))
	} else {
		v, err := s.monitor.EvaluateDetailed(ctx, req.Transition())
		if err != nil {
			s.rejectEvaluation(w, err)
			botel.RecordError(span, err, "evaluate")
			return
		}
		rec = api.NewVerdictRecord(id, req.Source, digest, v, s.now())
		s.cache.Add(*rec)
	}

	if err := s.store.Set(ctx, rec, s.verdictTTL); err != nil {
		// the verdict is still valid; only idempotency is lost
		log.Printf("Failed to store verdict %s: %v", id, err)
		s.metrics.StoreErrors.Inc()
	}

	if rec.Inlier {
		s.metrics.Inliers.Inc()
	} else {
		s.metrics.Outliers.Inc()
		s.metrics.OutliersBySource.WithLabelValues(sourceLabel(req.Source)).Inc()
	}
	span.SetAttributes(botel.VerdictAttributes(rec.Inlier, rec.World)...)
	span.SetAttributes(botel.PerformanceAttributes(cached, rec.LatencyMs)...)

	rec.Cached = cached
	respondWithVerdict(w, rec)
}

// cachedVerdict returns the verdict of an earlier transition with the same
// canonical content, re-labelled for this submission.
func (s *Server) cachedVerdict(id, src, digest string) (*api.VerdictRecord, bool) {
	hit, ok := s.cache.Get(digest)
	if !ok {
		return nil, false
	}
	s.metrics.CacheHits.Inc()
	hit.ID = id
	hit.Source = src
	hit.CreatedAt = s.now().UTC()
	return &hit, true
}

func (s *Server) rejectSource(w http.ResponseWriter, src string, err error) {
	switch {
	case errors.Is(err, source.ErrRateLimited), errors.Is(err, source.ErrQuotaExceeded):
		s.metrics.RateLimitedBySource.WithLabelValues(sourceLabel(src)).Inc()
		w.Header().Set("Retry-After", "10")
		respondError(w, http.StatusTooManyRequests, err.Error())
	default:
		respondError(w, http.StatusForbidden, err.Error())
	}
}

func (s *Server) rejectEvaluation(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, monitor.ErrMissingSignal), errors.Is(err, monitor.ErrInvalidObservation):
		s.metrics.UsageErrors.Inc()
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "evaluation aborted")
	default:
		log.Printf("Evaluation error: %v", err)
		respondError(w, http.StatusInternalServerError, "evaluation failed")
	}
}

func (s *Server) handleVerdict(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		log.Printf("Verdict store error: %v", err)
		s.metrics.StoreErrors.Inc()
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "verdict not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, api.MonitorInfo{
		Delta:            s.monitor.Delta(),
		Worlds:           s.monitor.NumWorlds(),
		Variables:        s.monitor.NumVariables(),
		BoundConstraints: s.monitor.NumBoundConstraints(),
		PathConstraints:  s.monitor.NumPathConstraints(),
		Continuous:       s.monitor.MonitoredContinuous(),
		Discrete:         s.monitor.MonitoredDiscrete(),
		Parallelism:      s.monitor.Parallelism(),
		StoreBackend:     s.backend,
	})
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})

	if !s.metricsAuth.enabled {
		return handler
	}

	// Wrap with Basic Auth
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.metricsAuth.user || pass != s.metricsAuth.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

// maintain runs housekeeping every interval until ctx ends.
func (s *Server) maintain(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.housekeep(ctx)
		}
	}
}

// housekeep drops expired cached and stored verdicts and rotates the WAL
// when the day changes.
func (s *Server) housekeep(ctx context.Context) {
	if n := s.cache.CleanupExpired(); n > 0 {
		log.Printf("Dropped %d expired cached verdicts", n)
	}

	if c, ok := s.store.(verdict.Cleaner); ok {
		n, err := c.CleanupExpired(ctx)
		if err != nil {
			log.Printf("Verdict store cleanup error: %v", err)
			s.metrics.StoreErrors.Inc()
		} else if n > 0 {
			log.Printf("Deleted %d expired stored verdicts", n)
		}
	}

	old, err := s.inboxWAL.Rotate()
	if err != nil {
		log.Printf("WAL rotation error: %v", err)
		s.metrics.WALErrors.Inc()
	} else if old != "" {
		log.Printf("Rotated WAL %s -> %s", old, s.inboxWAL.Path())
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// respondWithVerdict answers 200 for inliers and 202 for outliers.
func respondWithVerdict(w http.ResponseWriter, rec *api.VerdictRecord) {
	status := http.StatusOK
	if !rec.Inlier {
		status = http.StatusAccepted
	}
	respondJSON(w, status, rec)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, api.ErrorResponse{Error: msg})
}

func sourceLabel(src string) string {
	if src == "" {
		return source.DefaultID
	}
	return src
}
