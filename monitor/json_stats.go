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

/*
Package monitor exposes a glovestats.Registry over HTTP as JSON, and fetches
and republishes it as Prometheus gauges. It is bench tooling only: the core
firmware package never imports it.
*/
package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/glovestats"
)

// JSONStats serves a registry's counter snapshot at /counters.
type JSONStats struct {
	registry *glovestats.Registry
}

// NewJSONStats wraps a registry for HTTP serving.
func NewJSONStats(registry *glovestats.Registry) *JSONStats {
	return &JSONStats{registry: registry}
}

// Start runs the HTTP server; it blocks and never returns on success.
func (s *JSONStats) Start(monitoringPort int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/counters", s.handleCounters)
	addr := fmt.Sprintf(":%d", monitoringPort)
	log.Infof("monitor: starting JSON counters server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("monitor: failed to start listener: %v", err)
	}
}

func (s *JSONStats) handleCounters(w http.ResponseWriter, _ *http.Request) {
	js, err := json.Marshal(s.registry.Snapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(js); err != nil {
		log.Errorf("monitor: failed to reply: %v", err)
	}
}
