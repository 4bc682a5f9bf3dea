package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pilah-ai/ecoscan/internal/classify"
)

// Ledger records ledger and classifier activity. A nil *Ledger is valid and
// records nothing.
type Ledger struct {
	gatherer          prometheus.Gatherer
	scans             *prometheus.CounterVec
	pointsEarned      prometheus.Counter
	redemptions       prometheus.Counter
	pointsRedeemed    prometheus.Counter
	balance           prometheus.Gauge
	classifyFailures  *prometheus.CounterVec
	classifyDurations *prometheus.HistogramVec
}

// NewLedger registers the ledger metrics on reg
func NewLedger(reg *prometheus.Registry) *Ledger {
	if reg == nil {
		return nil
	}
	m := &Ledger{
		gatherer: reg,
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecoscan_scans_total",
			Help: "Scans recorded, by waste label.",
		}, []string{"label"}),
		pointsEarned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecoscan_points_earned_total",
			Help: "Points credited by scans.",
		}),
		redemptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecoscan_redemptions_total",
			Help: "Successful redemptions.",
		}),
		pointsRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecoscan_points_redeemed_total",
			Help: "Points debited by redemptions.",
		}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ecoscan_points_balance",
			Help: "Current redeemable point balance.",
		}),
		classifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecoscan_classify_failures_total",
			Help: "Failed classification calls, by classifier.",
		}, []string{"classifier"}),
		classifyDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ecoscan_classify_duration_seconds",
			Help:    "Classification latency in seconds, by classifier.",
			Buckets: prometheus.DefBuckets,
		}, []string{"classifier"}),
	}
	reg.MustRegister(m.scans, m.pointsEarned, m.redemptions, m.pointsRedeemed, m.balance, m.classifyFailures, m.classifyDurations)
	return m
}

// ObserveScan counts one recorded scan. Labels outside the catalog share the
// "other" series so client-supplied labels cannot grow the label set.
func (m *Ledger) ObserveScan(label string, points int) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(scanLabel(label)).Inc()
	m.pointsEarned.Add(float64(points))
}

// ObserveRedemption counts one successful redemption
func (m *Ledger) ObserveRedemption(points int) {
	if m == nil {
		return
	}
	m.redemptions.Inc()
	m.pointsRedeemed.Add(float64(points))
}

// SetBalance publishes the current balance
func (m *Ledger) SetBalance(balance int) {
	if m == nil {
		return
	}
	m.balance.Set(float64(balance))
}

// ObserveClassify records one classifier call
func (m *Ledger) ObserveClassify(classifier string, seconds float64, err error) {
	if m == nil {
		return
	}
	classifier = normalizeLabel(classifier)
	m.classifyDurations.WithLabelValues(classifier).Observe(seconds)
	if err != nil {
		m.classifyFailures.WithLabelValues(classifier).Inc()
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Ledger) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func scanLabel(label string) string {
	if classify.Known(label) {
		return label
	}
	return "other"
}
