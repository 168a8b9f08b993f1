/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package monitor

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter periodically scrapes a glovesim session's JSON counters
// endpoint and republishes them as Prometheus gauges, mirroring facebook/time's
// sptp Prometheus exporter.
type PrometheusExporter struct {
	registry   *prometheus.Registry
	listenPort int
	simURL     string
	interval   time.Duration
}

// NewPrometheusExporter builds an exporter that polls simURL (a glovesim
// monitoring endpoint) every scrapeInterval and serves the result on
// listenPort.
func NewPrometheusExporter(listenPort int, simURL string, scrapeInterval time.Duration) *PrometheusExporter {
	return &PrometheusExporter{registry: prometheus.NewRegistry(), simURL: simURL, interval: scrapeInterval, listenPort: listenPort}
}

// Start scrapes every interval in the background and serves /metrics forever.
func (e *PrometheusExporter) Start() {
	go func() {
		for {
			e.scrapeMetrics()
			time.Sleep(e.interval)
		}
	}()

	http.Handle("/metrics", promhttp.HandlerFor(
		e.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", e.listenPort), nil))
}

func (e *PrometheusExporter) scrapeMetrics() {
	counters, err := FetchCounters(e.simURL)
	if err != nil {
		log.Errorf("monitor: failed to fetch glovesim counters: %v", err)
		return
	}
	for mkey, mval := range counters {
		promCollector := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: flattenKey(mkey),
			Help: mkey,
		})
		if err := e.registry.Register(promCollector); err != nil {
			are := &prometheus.AlreadyRegisteredError{}
			if errors.As(err, are) {
				promCollector = are.ExistingCollector.(prometheus.Gauge)
			} else {
				log.Errorf("monitor: failed to register metric %s: %v", mkey, err)
				continue
			}
		}
		promCollector.Set(float64(mval))
	}
}

// flattenKey maps every character Prometheus metric names disallow to an
// underscore in a single pass, rather than one ReplaceAll per character.
func flattenKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '-', '=', '/':
			return '_'
		default:
			return r
		}
	}, key)
}
