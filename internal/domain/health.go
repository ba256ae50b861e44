package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// FeedMetrics is returned by GET /v1/metrics/feed.
type FeedMetrics struct {
	Refreshes       int64   `json:"refreshes"`
	FailedRefreshes int64   `json:"failedRefreshes"`
	DiscardedStale  int64   `json:"discardedStale"`
	CacheHitRate    float64 `json:"cacheHitRate"`
	Listeners       int     `json:"listeners"`
	Studies         int     `json:"studies"`
}

// ============================================================
// Generic API Response wrappers
// ============================================================

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
