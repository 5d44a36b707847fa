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
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

const processCPUMetric = "process_cpu_seconds_total"

// LoadSampler samples the cpu and memory usage of the process in percent.
// Cpu usage is the average since the previous sample.
type LoadSampler struct {
	gatherer prometheus.Gatherer
	numCPU   float64

	lock     sync.Mutex
	lastCPU  float64
	lastTime time.Time
}

func NewLoadSampler() *LoadSampler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s := &LoadSampler{gatherer: reg, numCPU: float64(runtime.NumCPU())}
	s.lastCPU, _ = s.cpuSeconds()
	s.lastTime = time.Now()
	return s
}

func (s *LoadSampler) cpuSeconds() (float64, bool) {
	mfs, err := s.gatherer.Gather()
	if err != nil {
		return 0, false
	}
	return cpuSecondsOf(mfs)
}

func cpuSecondsOf(mfs []*dto.MetricFamily) (float64, bool) {
	for _, mf := range mfs {
		if mf.GetName() != processCPUMetric || len(mf.GetMetric()) == 0 {
			continue
		}
		return mf.GetMetric()[0].GetCounter().GetValue(), true
	}
	return 0, false
}

// Sample returns cpu and memory usage, cpu is 0 on platforms without process metrics.
func (s *LoadSampler) Sample() (cpu int32, memory int32) {
	now := time.Now()
	seconds, ok := s.cpuSeconds()

	s.lock.Lock()
	if ok {
		elapsed := now.Sub(s.lastTime).Seconds()
		if elapsed > 0 && seconds >= s.lastCPU {
			cpu = percent((seconds - s.lastCPU) / (elapsed * s.numCPU))
		}
		s.lastCPU = seconds
		s.lastTime = now
	}
	s.lock.Unlock()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.Sys > 0 {
		memory = percent(float64(ms.HeapInuse) / float64(ms.Sys))
	}
	return
}

func percent(ratio float64) int32 {
	p := int32(ratio * 100)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
