package main

import (
	"time"

	"github.com/liamcoop/dataquality/quality"
	"github.com/liamcoop/dataquality/rules"
)

// API request and response models

// ValidateRequest is the body of POST /api/v1/validate
type ValidateRequest struct {
	Table     string           `json:"table"`
	CompanyID int              `json:"company_id"`
	Records   []map[string]any `json:"records"`
	// RecordHistory stores the numeric values of records without errors as
	// history for later trend checks
	RecordHistory bool `json:"record_history,omitempty"`
}

// ValidateResponse is the result of a validation run
type ValidateResponse struct {
	Findings       []rules.Finding       `json:"findings"`
	Report         quality.QualityReport `json:"report"`
	Persisted      bool                  `json:"persisted"`
	PersistError   string                `json:"persist_error,omitempty"`
	HistoryRecords int                   `json:"history_records,omitempty"`
	EvaluationTime string                `json:"evaluation_time"`
}

// CompanyQualityResponse is the company-wide rollup of the latest report per table
type CompanyQualityResponse struct {
	CompanyID int                     `json:"company_id"`
	Score     float64                 `json:"score"`
	Grade     quality.Grade           `json:"grade"`
	Tables    []quality.QualityReport `json:"tables"`
}

// ReloadResponse describes the rule config generation now live
type ReloadResponse struct {
	Version  int       `json:"version"`
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loaded_at"`
	Tables   []string  `json:"tables"`
	Rules    int       `json:"rules"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	RulesVersion int    `json:"rules_version"`
}
