// Package metrics exposes prometheus collectors for ledger writes, claim
// signing, token requests and channel scans. A nil *Collectors is valid and
// records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the SDK's prometheus metrics.
type Collectors struct {
	ledgerTx      *prometheus.CounterVec
	claimsSigned  *prometheus.CounterVec
	tokenRequests *prometheus.CounterVec
	scanQueries   *prometheus.CounterVec
	knownChannels prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves the
// collectors unregistered, which is useful in tests.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		ledgerTx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snet_ledger_transactions_total",
			Help: "Escrow ledger transactions by contract method and outcome",
		}, []string{"method", "outcome"}),
		claimsSigned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snet_payment_metadata_total",
			Help: "Payment metadata built per payment type",
		}, []string{"type"}),
		tokenRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snet_prepaid_token_requests_total",
			Help: "Prepaid token requests by result",
		}, []string{"result"}),
		scanQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snet_channel_scan_queries_total",
			Help: "ChannelOpen log queries by result",
		}, []string{"result"}),
		knownChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snet_known_channels",
			Help: "Channels held by the most recently updated channel store",
		}),
	}
	if reg == nil {
		return c, nil
	}
	for _, col := range []prometheus.Collector{c.ledgerTx, c.claimsSigned, c.tokenRequests, c.scanQueries, c.knownChannels} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LedgerTx counts one ledger write. Outcome is "ok" or an error tag.
func (c *Collectors) LedgerTx(method, outcome string) {
	if c == nil {
		return
	}
	c.ledgerTx.WithLabelValues(method, outcome).Inc()
}

// PaymentMetadata counts metadata built for a payment type.
func (c *Collectors) PaymentMetadata(paymentType string) {
	if c == nil {
		return
	}
	c.claimsSigned.WithLabelValues(paymentType).Inc()
}

// TokenRequest counts a prepaid token request.
func (c *Collectors) TokenRequest(result string) {
	if c == nil {
		return
	}
	c.tokenRequests.WithLabelValues(result).Inc()
}

// ScanQuery counts a ChannelOpen log query.
func (c *Collectors) ScanQuery(result string) {
	if c == nil {
		return
	}
	c.scanQueries.WithLabelValues(result).Inc()
}

// SetKnownChannels records the size of a channel store.
func (c *Collectors) SetKnownChannels(n int) {
	if c == nil {
		return
	}
	c.knownChannels.Set(float64(n))
}
