package usecase

import "context"

// MetricsSummary is the payload of GET /api/metrics.
type MetricsSummary struct {
	TotalJobs                  int64   `json:"total_jobs"`
	SuccessfulJobs             int64   `json:"successful_jobs"`
	SuccessRate                float64 `json:"success_rate"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
	PendingJobs                int     `json:"pending_jobs"`
	// FailuresByReason counts failed jobs by taxonomy: fetch, decode,
	// inference or unknown.
	FailuresByReason map[string]int64 `json:"failures_by_reason"`
}

// GetMetricsSummary combines the audit aggregate with the live queue depth.
// Without a repository it returns ErrMetricsUnavailable.
func (uc *ClassificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalJobs:                  aggregation.TotalCount,
		SuccessfulJobs:             aggregation.SuccessCount,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
		FailuresByReason:           aggregation.FailuresByReason,
	}
	if summary.FailuresByReason == nil {
		summary.FailuresByReason = map[string]int64{}
	}
	if p, ok := uc.scheduler.(interface{ Pending() int }); ok {
		summary.PendingJobs = p.Pending()
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
