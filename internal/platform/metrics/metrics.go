package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	CommunicationsIngested *prometheus.CounterVec
	IngestDuplicates       prometheus.Counter
	DedupCacheHits         prometheus.Counter
	ContactsCreated        prometheus.Counter
	UnresolvedSenders      prometheus.Counter
	ThreadsMinted          prometheus.Counter
	Deletions              *prometheus.CounterVec
	Restorations           prometheus.Counter
	PendingApprovals       prometheus.Gauge
	HardDeleteEligible     prometheus.Gauge
	ProcessingStepsFailed  *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		CommunicationsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "commhub_communications_ingested_total",
			Help: "Total number of communications persisted, by platform",
		}, []string{"platform"}),
		IngestDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "commhub_ingest_duplicates_total",
			Help: "Total number of ingestions deduplicated against an existing communication",
		}),
		DedupCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "commhub_dedup_cache_hits_total",
			Help: "Total number of duplicate ingestions answered from the Redis fast path",
		}),
		ContactsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "commhub_contacts_created_total",
			Help: "Total number of contacts auto-created by identity resolution",
		}),
		UnresolvedSenders: promauto.NewCounter(prometheus.CounterOpts{
			Name: "commhub_unresolved_senders_total",
			Help: "Total number of communications persisted with an unresolvable sender identifier",
		}),
		ThreadsMinted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "commhub_threads_minted_total",
			Help: "Total number of new conversation threads minted",
		}),
		Deletions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "commhub_deletions_total",
			Help: "Total number of governed deletion actions, by type",
		}, []string{"type"}),
		Restorations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "commhub_restorations_total",
			Help: "Total number of soft-deleted records restored",
		}),
		PendingApprovals: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "commhub_pending_deletion_approvals",
			Help: "Current number of deletion requests awaiting approval",
		}),
		HardDeleteEligible: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "commhub_hard_delete_eligible_records",
			Help: "Soft-deleted records whose retention window has elapsed, flagged by the sweep",
		}),
		ProcessingStepsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "commhub_processing_steps_failed_total",
			Help: "Total number of pipeline steps recorded with a failed status",
		}, []string{"step"}),
	}
}
