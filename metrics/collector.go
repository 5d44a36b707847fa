// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StateSource reports the number of local objects per label value.
type StateSource func() map[string]int

// Collector exports the regions and migration tasks of the node, sources are
// read on every scrape.
type Collector struct {
	regions StateSource
	tasks   StateSource

	regionsDesc *prometheus.Desc
	tasksDesc   *prometheus.Desc
}

func NewCollector(regions, tasks StateSource) *Collector {
	return &Collector{
		regions: regions,
		tasks:   tasks,
		regionsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "region", "count"),
			"local regions per consensus group type", []string{"type"}, nil),
		tasksDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "migration", "tasks"),
			"known migration tasks per state", []string{"state"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.regionsDesc
	ch <- c.tasksDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for typ, n := range c.regions() {
		ch <- prometheus.MustNewConstMetric(c.regionsDesc, prometheus.GaugeValue, float64(n), typ)
	}
	for state, n := range c.tasks() {
		ch <- prometheus.MustNewConstMetric(c.tasksDesc, prometheus.GaugeValue, float64(n), state)
	}
}
