package models

import (
	"time"
)

// ProductRecord is one product cell as read from a store listing. Each field
// is independently nil when the cell lacked the markup for it.
type ProductRecord struct {
	Name        *string `json:"name"`
	Price       *string `json:"price"`
	ImageURL    *string `json:"imageUrl"`
	ProductURL  *string `json:"productUrl"`
	SourceStore string  `json:"sourceStore"`
}

// IsEmpty reports whether no field could be extracted, which usually means
// the store's selectors no longer match its markup.
func (p *ProductRecord) IsEmpty() bool {
	return p.Name == nil && p.Price == nil && p.ImageURL == nil && p.ProductURL == nil
}

type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

// StoreOutcome is the result of crawling one store.
type StoreOutcome struct {
	Store    string          `json:"store"`
	Status   OutcomeStatus   `json:"status"`
	Records  []ProductRecord `json:"records,omitempty"`
	Count    int             `json:"count"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`

	// Err keeps the original failure for callers in the same process.
	Err error `json:"-"`
}

func (o StoreOutcome) Succeeded() bool {
	return o.Status == OutcomeSucceeded
}

func NewSuccess(store string, records []ProductRecord, took time.Duration) StoreOutcome {
	if records == nil {
		records = []ProductRecord{}
	}
	return StoreOutcome{
		Store:    store,
		Status:   OutcomeSucceeded,
		Records:  records,
		Count:    len(records),
		Duration: took,
	}
}

func NewFailure(store string, err error, took time.Duration) StoreOutcome {
	return StoreOutcome{
		Store:    store,
		Status:   OutcomeFailed,
		Error:    err.Error(),
		Err:      err,
		Duration: took,
	}
}

// RunResult aggregates every store's outcome for one orchestrator run,
// keyed by store identifier.
type RunResult struct {
	ID          string                  `json:"id,omitempty"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt time.Time               `json:"completed_at"`
	Outcomes    map[string]StoreOutcome `json:"outcomes"`
}

func NewRunResult() *RunResult {
	return &RunResult{
		StartedAt: time.Now(),
		Outcomes:  make(map[string]StoreOutcome),
	}
}

// Succeeded returns the stores that produced records, in no particular order.
func (r *RunResult) Succeeded() []string {
	var stores []string
	for store, outcome := range r.Outcomes {
		if outcome.Succeeded() {
			stores = append(stores, store)
		}
	}
	return stores
}

func (r *RunResult) Failed() []string {
	var stores []string
	for store, outcome := range r.Outcomes {
		if !outcome.Succeeded() {
			stores = append(stores, store)
		}
	}
	return stores
}

// Records flattens all successful outcomes into store -> records.
func (r *RunResult) Records() map[string][]ProductRecord {
	out := make(map[string][]ProductRecord)
	for store, outcome := range r.Outcomes {
		if outcome.Succeeded() {
			out[store] = outcome.Records
		}
	}
	return out
}

// Summary is the outcome without records, suitable for storing per run.
func (r *RunResult) Summary() map[string]StoreOutcome {
	out := make(map[string]StoreOutcome, len(r.Outcomes))
	for store, outcome := range r.Outcomes {
		outcome.Records = nil
		out[store] = outcome
	}
	return out
}
