package models

import "time"

// SystemMetrics is a lightweight snapshot of process metrics.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	StoreCallCount           uint64    `json:"storeCallCount"`
	AverageStoreCallMs       float64   `json:"averageStoreCallMs"`
	Transitions              uint64    `json:"transitions"`
	SubmissionsAccepted      uint64    `json:"submissionsAccepted"`
	SubmissionsRejected      uint64    `json:"submissionsRejected"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}
