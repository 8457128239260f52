package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the metrics summary endpoint.
type Summary struct {
	HTTP      httpSummary   `json:"http"`
	Trials    trialInfo     `json:"trials"`
	Grants    grantInfo     `json:"grants"`
	Reconcile reconcileInfo `json:"reconcile"`
	Bot       botInfo       `json:"bot"`
	Auth      authInfo      `json:"auth"`
	DB        dbInfo        `json:"db"`
	Server    serverInfo    `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
}

type trialInfo struct {
	Started     float64 `json:"started"`
	Revocations float64 `json:"revocations"`
}

type grantInfo struct {
	Issued       float64 `json:"issued"`
	SweepRemoved float64 `json:"sweepRemoved"`
	SweepDeleted float64 `json:"sweepDeleted"`
	SweepFailed  float64 `json:"sweepFailed"`
}

type reconcileInfo struct {
	Runs        float64 `json:"runs"`
	Skipped     float64 `json:"skipped"`
	P50Duration float64 `json:"p50Duration"`
	P95Duration float64 `json:"p95Duration"`
}

type botInfo struct {
	Commands           float64 `json:"commands"`
	CooldownRejections float64 `json:"cooldownRejections"`
}

type authInfo struct {
	Failures float64 `json:"failures"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// SummaryHandler returns an http.HandlerFunc that serves a JSON summary
// computed from the live registry.
func (m *Metrics) SummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.handleSummary(w)
	}
}

func (m *Metrics) handleSummary(w http.ResponseWriter) {
	families, err := m.registry.Gather()
	if err != nil {
		http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
		return
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	startTime := gaugeValue(fam["rolewarden_server_start_time_seconds"])

	summary := Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["rolewarden_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["rolewarden_http_requests_total"]),
			P50Latency:    histogramPercentile(fam["rolewarden_http_request_duration_seconds"], 0.50),
			P95Latency:    histogramPercentile(fam["rolewarden_http_request_duration_seconds"], 0.95),
		},
		Trials: trialInfo{
			Started:     counterValue(fam["rolewarden_trials_started_total"]),
			Revocations: sumCounter(fam["rolewarden_trial_revocations_total"]),
		},
		Grants: grantInfo{
			Issued:       counterValue(fam["rolewarden_grants_issued_total"]),
			SweepRemoved: counterWithLabel(fam["rolewarden_grant_sweep_total"], "outcome", "removed"),
			SweepDeleted: counterWithLabel(fam["rolewarden_grant_sweep_total"], "outcome", "deleted_role_missing") +
				counterWithLabel(fam["rolewarden_grant_sweep_total"], "outcome", "deleted_member_left") +
				counterWithLabel(fam["rolewarden_grant_sweep_total"], "outcome", "deleted_converged"),
			SweepFailed: counterWithLabel(fam["rolewarden_grant_sweep_total"], "outcome", "failed"),
		},
		Reconcile: reconcileInfo{
			Runs:        counterWithLabel(fam["rolewarden_reconcile_runs_total"], "result", "completed"),
			Skipped:     counterWithLabel(fam["rolewarden_reconcile_runs_total"], "result", "skipped"),
			P50Duration: histogramPercentile(fam["rolewarden_reconcile_duration_seconds"], 0.50),
			P95Duration: histogramPercentile(fam["rolewarden_reconcile_duration_seconds"], 0.95),
		},
		Bot: botInfo{
			Commands:           sumCounter(fam["rolewarden_commands_total"]),
			CooldownRejections: counterValue(fam["rolewarden_cooldown_rejections_total"]),
		},
		Auth: authInfo{
			Failures: counterValue(fam["rolewarden_auth_failures_total"]),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["rolewarden_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["rolewarden_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["rolewarden_db_pool_acquired_conns"]),
		},
		Server: serverInfo{
			StartTime:     startTime,
			UptimeSeconds: float64(time.Now().Unix()) - startTime,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	_ = json.NewEncoder(w).Encode(summary)
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func counterValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 || ms[0].GetCounter() == nil {
		return 0
	}
	return ms[0].GetCounter().GetValue()
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 || ms[0].GetGauge() == nil {
		return 0
	}
	return ms[0].GetGauge().GetValue()
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func counterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if hasLabel(m, labelName, labelValue) && m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// computeErrorRate treats status_code labels >= 400 as errors.
func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '4' {
					errors += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

// histogramPercentile computes a percentile from aggregated histogram
// buckets using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			// Linear interpolation within this bucket.
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	// If we didn't find it, return the last finite bucket upper bound.
	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
