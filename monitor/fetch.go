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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Counters is a flat counter-name to value snapshot, as served by JSONStats.
type Counters map[string]int64

var fetchClient = &http.Client{Timeout: 2 * time.Second}

// FetchCounters fetches a JSONStats counter snapshot over HTTP. base is the
// instance's root URL (e.g. "http://localhost:8080"); the /counters path is
// appended here so callers never hardcode it.
func FetchCounters(base string) (Counters, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, fmt.Sprintf("%s/counters", base), nil)
	if err != nil {
		return nil, errors.Wrap(err, "monitor: building counters request")
	}

	resp, err := fetchClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "monitor: fetching counters")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("monitor: counters endpoint %s returned status %d", base, resp.StatusCode)
	}

	counters := make(Counters)
	if err := json.NewDecoder(resp.Body).Decode(&counters); err != nil {
		return nil, errors.Wrap(err, "monitor: decoding counters response")
	}
	return counters, nil
}
