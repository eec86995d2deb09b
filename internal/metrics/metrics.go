// Copyright 2023 Blink Labs, LLC.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blinklabs-io/goldnonce/internal/config"
)

var (
	HashesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goldnonce_hashes_processed_total",
		Help: "The total number of hashes processed",
	})
	SearchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goldnonce_searches_total",
		Help: "Coordinator searches by outcome",
	}, []string{"outcome"})
	InstancesProvisioned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goldnonce_instances_provisioned_total",
		Help: "Worker instances provisioned",
	})
	InstancesTerminated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goldnonce_instances_terminated_total",
		Help: "Worker instance terminations by result",
	}, []string{"result"})
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goldnonce_messages_received_total",
		Help: "Messages received by the coordinator by disposition",
	}, []string{"disposition"})
	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "goldnonce_search_duration_seconds",
		Help:    "Time from search start to accepted result",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

const readHeaderTimeout = 10 * time.Second

// Start serves the prometheus handler when a listen port is configured
func Start(cfg *config.Config) error {
	if cfg.Metrics.ListenPort == 0 {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", cfg.Metrics.ListenAddress, cfg.Metrics.ListenPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(
				fmt.Sprintf("metrics listener failed: %s", err),
			)
		}
	}()
	slog.Info(
		fmt.Sprintf("serving metrics on %s", addr),
	)
	return nil
}
