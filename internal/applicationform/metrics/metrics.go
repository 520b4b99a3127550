package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the application-form module.
// Tracks write outcomes, reconcile mutation volume and critical path durations.
type Metrics struct {
	FormsCreated      prometheus.Counter
	FormsReconciled   prometheus.Counter
	ReconcileRejected *prometheus.CounterVec
	SectionMutations  *prometheus.CounterVec
	QuestionMutations *prometheus.CounterVec
	CacheLookups      *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
	CreateDuration    prometheus.Histogram
	RetrieveDuration  prometheus.Histogram
}

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// New creates a new Metrics instance with all form module metrics registered.
func New() *Metrics {
	return &Metrics{
		FormsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "baobab_application_forms_created_total",
			Help: "Total number of application forms created",
		}),
		FormsReconciled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "baobab_application_forms_reconciled_total",
			Help: "Total number of successful form reconciliations",
		}),
		ReconcileRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "baobab_application_form_writes_rejected_total",
			Help: "Create/reconcile calls rejected before commit, by reason",
		}, []string{"reason"}),
		SectionMutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "baobab_form_section_mutations_total",
			Help: "Sections inserted, updated or deleted by committed writes",
		}, []string{"op"}),
		QuestionMutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "baobab_form_question_mutations_total",
			Help: "Questions inserted or updated by committed writes",
		}, []string{"op"}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "baobab_form_cache_lookups_total",
			Help: "Aggregate cache lookups on the read path, by result",
		}, []string{"result"}),
		ReconcileDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "baobab_form_reconcile_duration_seconds",
			Help:    "Duration of Reconcile operations including the transaction",
			Buckets: durationBuckets,
		}),
		CreateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "baobab_form_create_duration_seconds",
			Help:    "Duration of Create operations including the transaction",
			Buckets: durationBuckets,
		}),
		RetrieveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "baobab_form_retrieve_duration_seconds",
			Help:    "Duration of public Retrieve operations",
			Buckets: durationBuckets,
		}),
	}
}

func (m *Metrics) IncrementCreated() {
	m.FormsCreated.Inc()
}

func (m *Metrics) IncrementReconciled() {
	m.FormsReconciled.Inc()
}

// IncrementRejected records a write that failed before commit.
func (m *Metrics) IncrementRejected(reason string) {
	if reason == "" {
		reason = "other"
	}
	m.ReconcileRejected.WithLabelValues(reason).Inc()
}

// AddSections records committed section mutations.
func (m *Metrics) AddSections(inserted, updated, deleted int) {
	m.SectionMutations.WithLabelValues("insert").Add(float64(inserted))
	m.SectionMutations.WithLabelValues("update").Add(float64(updated))
	m.SectionMutations.WithLabelValues("delete").Add(float64(deleted))
}

// AddQuestions records committed question mutations.
func (m *Metrics) AddQuestions(inserted, updated int) {
	m.QuestionMutations.WithLabelValues("insert").Add(float64(inserted))
	m.QuestionMutations.WithLabelValues("update").Add(float64(updated))
}

// ObserveCacheLookup records "hit", "miss", "bypass" or "error".
func (m *Metrics) ObserveCacheLookup(result string) {
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveReconcile records the duration of a Reconcile operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveReconcile(start time.Time) {
	m.ReconcileDuration.Observe(time.Since(start).Seconds())
}

// ObserveCreate records the duration of a Create operation.
func (m *Metrics) ObserveCreate(start time.Time) {
	m.CreateDuration.Observe(time.Since(start).Seconds())
}

// ObserveRetrieve records the duration of a Retrieve operation.
func (m *Metrics) ObserveRetrieve(start time.Time) {
	m.RetrieveDuration.Observe(time.Since(start).Seconds())
}
