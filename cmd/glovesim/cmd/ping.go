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
	"math/rand"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/cmd/glovesim/sim"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/session"
	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/wire"
)

var (
	pingCount        int
	pingInterval     time.Duration
	pingDriftPPM     float64
	pingMinLatencyMS int
	pingMaxLatencyMS int
)

func init() {
	RootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 5, "number of probes to send")
	pingCmd.Flags().DurationVarP(&pingInterval, "interval", "t", 200*time.Millisecond, "time between probes")
	pingCmd.Flags().Float64Var(&pingDriftPPM, "secondary-drift-ppm", 25, "SECONDARY clock drift relative to PRIMARY, in ppm")
	pingCmd.Flags().IntVar(&pingMinLatencyMS, "min-latency-ms", 10, "simulated one-way transport latency floor")
	pingCmd.Flags().IntVar(&pingMaxLatencyMS, "max-latency-ms", 50, "simulated one-way transport latency ceiling")
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Exchange PTP-style probes between an in-memory PRIMARY and SECONDARY, with no macrocycle involved",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()

		seed := int64(pingCount)*1_000_003 + int64(pingMinLatencyMS)
		primaryRNG := rand.New(rand.NewSource(seed))
		secondaryRNG := rand.New(rand.NewSource(seed + 1))

		minLatency := time.Duration(pingMinLatencyMS) * time.Millisecond
		maxLatency := time.Duration(pingMaxLatencyMS) * time.Millisecond
		tA, tB := sim.NewMemTransportPair(seed, minLatency, maxLatency, 0)

		sessCfg := session.DefaultConfig()
		primary := session.New(sessCfg, session.RolePrimary, sim.NewVirtualClock(0), tA, sim.NewLoggingMotor("PRIMARY", 1), &sim.WallTimer{}, primaryRNG)
		secondary := session.New(sessCfg, session.RoleSecondary, sim.NewVirtualClock(pingDriftPPM), tB, sim.NewLoggingMotor("SECONDARY", 1), &sim.WallTimer{}, secondaryRNG)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"probe", "valid", "offset(us)", "latency(us)"})

		for i := 1; i <= pingCount; i++ {
			ping := secondary.InitiatePing()
			if err := tB.Send(wire.Frame(wire.EncodePing(ping))); err != nil {
				log.Debugf("glovesim ping: probe %d dropped: %v", i, err)
			}

			deadline := time.Now().Add(pingInterval)
			for time.Now().Before(deadline) {
				if err := primary.Poll(); err != nil {
					log.Fatalf("glovesim ping: PRIMARY clock unreadable: %v", err)
				}
				if err := secondary.Poll(); err != nil {
					log.Fatalf("glovesim ping: SECONDARY clock unreadable: %v", err)
				}
				time.Sleep(time.Millisecond)
			}

			offsetUS, latencyUS, valid := secondary.SyncStats()
			table.Append([]string{
				fmt.Sprintf("%d", i),
				fmt.Sprintf("%v", valid),
				fmt.Sprintf("%d", offsetUS),
				fmt.Sprintf("%.1f", latencyUS),
			})
		}
		table.Render()
	},
}
