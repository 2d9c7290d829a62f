package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustledger_submissions_total",
		Help: "Transaction submissions, labeled by outcome",
	}, []string{"result"})

	blocksMined = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustledger_mining_requests_total",
		Help: "Mining requests, labeled by outcome",
	}, []string{"result"})

	miningDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trustledger_mining_duration_seconds",
		Help:    "Time spent in the nonce search for sealed blocks",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	miningAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustledger_mining_attempts_total",
		Help: "Block hashes computed by successful nonce searches",
	})

	pendingTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trustledger_pending_transactions",
		Help: "Transactions waiting to be mined",
	})

	integrityChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustledger_integrity_checks_total",
		Help: "Chain integrity verifications, labeled by result",
	}, []string{"result"})
)
