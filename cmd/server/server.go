package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/dataquality/internal/logger"
	"github.com/liamcoop/dataquality/quality"
	"github.com/liamcoop/dataquality/ruleconfig"
	"github.com/liamcoop/dataquality/rules"
)

const maxRequestBytes = 10 << 20

// engineSource provides the live engine and reloads it
type engineSource interface {
	Engine() (*quality.Engine, error)
	Reload() (*ruleconfig.Snapshot, error)
	Current() *ruleconfig.Snapshot
}

type reportReader interface {
	LatestForCompany(ctx context.Context, companyID int) ([]quality.QualityReport, error)
}

type historyWriter interface {
	Record(ctx context.Context, table string, companyID, period int, values map[string]float64) error
}

type pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	db      pinger
	manager engineSource
	reports reportReader
	history historyWriter
	cache   *quality.CachedHistory
	log     *slog.Logger
	router  *chi.Mux
}

// NewServer wires the HTTP routes. history and cache may be nil.
func NewServer(db pinger, manager engineSource, reports reportReader, history historyWriter, cache *quality.CachedHistory) *Server {
	s := &Server{
		db:      db,
		manager: manager,
		reports: reports,
		history: history,
		cache:   cache,
		log:     logger.New("http"),
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/api/v1/validate", s.handleValidate)
	r.Get("/api/v1/companies/{companyId}/quality", s.handleCompanyQuality)
	r.Post("/api/v1/rules/reload", s.handleReload)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs each request and counts client and server errors
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		}

		switch {
		case status >= 500:
			logger.ErrorHttp5xx()
			s.log.Error("request failed", attrs...)
		case status >= 400:
			logger.WarnHttp4xx()
			s.log.Warn("request rejected", attrs...)
		default:
			s.log.Debug("request served", attrs...)
		}
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	if snap := s.manager.Current(); snap != nil {
		resp.RulesVersion = snap.Version
	}

	if err := s.db.PingContext(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Error = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Validation handler
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Table == "" {
		respondError(w, http.StatusBadRequest, "table is required", nil)
		return
	}

	if req.Records == nil {
		respondError(w, http.StatusBadRequest, "records are required", nil)
		return
	}

	engine, err := s.manager.Engine()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "rules not loaded", err)
		return
	}

	startTime := time.Now()

	result, err := engine.Validate(r.Context(), quality.RecordBatch{
		Table:     req.Table,
		CompanyID: req.CompanyID,
		Records:   req.Records,
	})
	if result == nil {
		respondError(w, http.StatusInternalServerError, "validation failed", err)
		return
	}

	resp := ValidateResponse{
		Findings:       result.Findings,
		Report:         result.Report,
		Persisted:      err == nil,
		EvaluationTime: time.Since(startTime).String(),
	}
	if err != nil {
		resp.PersistError = err.Error()
	}

	if req.RecordHistory && s.history != nil {
		n, err := s.recordHistory(r.Context(), engine, req, result.Findings)
		if err != nil {
			s.log.Error("failed to record history", "table", req.Table, "company_id", req.CompanyID, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to record history", err)
			return
		}
		resp.HistoryRecords = n
	}

	respondJSON(w, http.StatusOK, resp)
}

// recordHistory stores the numeric values of every record without Error
// findings, keyed by its reporting period
func (s *Server) recordHistory(ctx context.Context, engine *quality.Engine, req ValidateRequest, findings []rules.Finding) (int, error) {
	failed := make(map[int]bool)
	for _, f := range findings {
		if f.Severity == rules.SeverityError {
			failed[f.RecordIndex] = true
		}
	}

	periodField := engine.PeriodField(req.Table)
	recorded := 0
	for i, rec := range req.Records {
		if failed[i] {
			continue
		}
		p, ok := rules.ToFloat(rec[periodField])
		if !ok || p != float64(int(p)) {
			continue
		}

		values := make(map[string]float64)
		for field, v := range rec {
			if field == periodField {
				continue
			}
			if f, ok := numericValue(v); ok {
				values[field] = f
			}
		}
		if len(values) == 0 {
			continue
		}

		if err := s.history.Record(ctx, req.Table, req.CompanyID, int(p), values); err != nil {
			return recorded, err
		}
		if s.cache != nil {
			for field := range values {
				s.cache.Invalidate(req.CompanyID, field)
			}
		}
		recorded++
	}
	return recorded, nil
}

// numericValue accepts JSON numbers only, not numeric strings
func numericValue(v any) (float64, bool) {
	switch v.(type) {
	case float64, float32, int, int64, int32, json.Number:
		return rules.ToFloat(v)
	}
	return 0, false
}

// Company quality handler
func (s *Server) handleCompanyQuality(w http.ResponseWriter, r *http.Request) {
	companyID, err := strconv.Atoi(chi.URLParam(r, "companyId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid company id", err)
		return
	}

	reports, err := s.reports.LatestForCompany(r.Context(), companyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load quality reports", err)
		return
	}

	rollup := quality.Rollup(companyID, reports)
	respondJSON(w, http.StatusOK, CompanyQualityResponse{
		CompanyID: rollup.CompanyID,
		Score:     rollup.Score,
		Grade:     rollup.Grade,
		Tables:    reports,
	})
}

// Rule reload handler
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.Reload()
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "failed to reload rules", err)
		return
	}

	if s.cache != nil {
		s.cache.InvalidateAll()
	}

	respondJSON(w, http.StatusOK, ReloadResponse{
		Version:  snap.Version,
		Source:   snap.Source,
		LoadedAt: snap.LoadedAt,
		Tables:   snap.Engine.Tables(),
		Rules:    snap.Engine.Registry().Len(),
	})
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}
