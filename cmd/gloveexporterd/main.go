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

package main

import (
	"flag"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BlueBuzzah/BlueBuzzah2-Firmware-sub003/monitor"
)

func main() {
	var (
		verboseFlag      bool
		exporterPortFlag int
		simHostFlag      string
		simPortFlag      int
		intervalFlag     time.Duration
	)

	flag.BoolVar(&verboseFlag, "verbose", false, "verbose output")
	flag.StringVar(&simHostFlag, "simhost", "localhost", "host running glovesim run --monitoring-port")
	flag.IntVar(&simPortFlag, "simport", 4269, "port glovesim's JSON counters server is listening on")
	flag.IntVar(&exporterPortFlag, "exporterport", 6942, "port the prometheus metrics exporter listens on")
	flag.DurationVar(&intervalFlag, "interval", time.Second, "how often to fetch counters from glovesim")
	flag.Parse()

	log.SetLevel(log.InfoLevel)
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	simURL := fmt.Sprintf("http://%s:%d", simHostFlag, simPortFlag)
	exporter := monitor.NewPrometheusExporter(exporterPortFlag, simURL, intervalFlag)
	exporter.Start()
}
