package http

import "time"

// PurchaseInfo is the purchase fragment of a successful buy response.
type PurchaseInfo struct {
	ID          int64     `json:"id"`
	PurchasedAt time.Time `json:"purchasedAt"`
}

// BuyResponse is returned with 200 on a successful purchase.
type BuyResponse struct {
	Success  bool         `json:"success"`
	Message  string       `json:"message"`
	Purchase PurchaseInfo `json:"purchase"`
}

// RateLimitResponse is returned with 429 when the purchase window has
// not elapsed. RetryAfter is whole seconds, always >= 1.
type RateLimitResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// StatsResponse is the per-client purchase statistics payload.
type StatsResponse struct {
	ClientID       string     `json:"clientId"`
	TotalPurchases int64      `json:"totalPurchases"`
	LastPurchase   *time.Time `json:"lastPurchase"`
}

// HealthResponse is the liveness probe payload.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Database  string                 `json:"database"`
	Pool      map[string]interface{} `json:"pool,omitempty"`
}

// ErrorResponse is the standard error payload. Only stable error codes
// and human-readable messages; no internal detail leaks to callers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
