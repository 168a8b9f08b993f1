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

package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/monitor"
)

var statusTarget string

func init() {
	RootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusTarget, "target", "T", "http://localhost:8080", "base URL of a running glovesim --monitoring-port instance")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Fetch and render a running glovesim instance's counters",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()

		counters, err := monitor.FetchCounters(statusTarget)
		if err != nil {
			log.Fatalf("glovesim status: failed to fetch counters from %s: %v", statusTarget, err)
		}

		names := make([]string, 0, len(counters))
		for name := range counters {
			names = append(names, name)
		}
		sort.Strings(names)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"counter", "value"})
		for _, name := range names {
			table.Append([]string{name, strconv.FormatInt(counters[name], 10)})
		}
		if len(names) == 0 {
			fmt.Fprintf(os.Stderr, "glovesim status: %s reported no counters\n", statusTarget)
		}
		table.Render()
	},
}
