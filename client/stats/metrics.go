// Copyright (C) 2025 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package stats exposes the Prometheus metrics of a batchpost run.
package stats

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives the observations of the submission driver.
type Recorder interface {
	Submission(batch, result string, latency time.Duration)
	Relogin(batch string)
	Checkpoint(batch string, index int)
}

// Metrics is the Prometheus backed Recorder.
type Metrics struct {
	submissions *prometheus.CounterVec
	relogins    *prometheus.CounterVec
	checkpoint  *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
}

var _ Recorder = (*Metrics)(nil)

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchpost_submissions_total",
				Help: "Total submission attempts by batch and result",
			},
			[]string{"batch", "result"},
		),
		relogins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchpost_relogins_total",
				Help: "Total re-authentications after a silent session expiry",
			},
			[]string{"batch"},
		),
		checkpoint: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "batchpost_checkpoint_index",
				Help: "Number of records confirmed and checkpointed per batch",
			},
			[]string{"batch"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batchpost_submission_seconds",
				Help:    "Duration of one submission request",
				Buckets: prometheus.ExponentialBuckets(0.05, 1.8, 12),
			},
			[]string{"batch"},
		),
	}
}

func (m *Metrics) Submission(batch, result string, latency time.Duration) {
	m.submissions.WithLabelValues(batch, result).Inc()
	m.latency.WithLabelValues(batch).Observe(latency.Seconds())
}

func (m *Metrics) Relogin(batch string) {
	m.relogins.WithLabelValues(batch).Inc()
}

func (m *Metrics) Checkpoint(batch string, index int) {
	m.checkpoint.WithLabelValues(batch).Set(float64(index))
}

// NewServer serves the collectors of gatherer on /metrics and a liveness answer on /ping.
func NewServer(address string, gatherer prometheus.Gatherer) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{DisableCompression: true})))
	router.GET("/ping", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, "pong")
	})

	return &http.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
