package domain

import "time"

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Address represents the postal address snapshot stored with an order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Name      string
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	Checks      []SystemHealthCheck
	GeneratedAt time.Time
}

const (
	// HealthStatusOK marks a dependency or report as healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded marks a report with at least one failing dependency.
	HealthStatusDegraded = "degraded"
	// HealthStatusError marks a failing dependency.
	HealthStatusError = "error"
)
