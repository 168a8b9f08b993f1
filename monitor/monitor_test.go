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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/glovestats"
)

func TestFetchCountersRoundTripsJSONStats(t *testing.T) {
	registry := glovestats.NewRegistry()
	registry.Sync.UnknownPong.Add(3)
	registry.Scheduler.ActivationsFired.Add(12)

	mux := http.NewServeMux()
	stats := NewJSONStats(registry)
	mux.HandleFunc("/counters", func(w http.ResponseWriter, r *http.Request) {
		stats.handleCounters(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	counters, err := FetchCounters(server.URL)
	require.NoError(t, err)
	require.EqualValues(t, 3, counters["sync.unknown_pong"])
	require.EqualValues(t, 12, counters["scheduler.activations_fired"])
}

func TestFlattenKeyReplacesSeparators(t *testing.T) {
	require.Equal(t, "sync_unknown_pong", flattenKey("sync.unknown_pong"))
	require.Equal(t, "a_b_c_d_e", flattenKey("a.b-c=d/e"))
}
