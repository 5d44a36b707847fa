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

package server

import (
	"os"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/rpc/auditlog"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"gopkg.in/yaml.v3"

	"github.com/cubefs/datanode/client"
	"github.com/cubefs/datanode/common/kvstore"
	"github.com/cubefs/datanode/consensus"
	"github.com/cubefs/datanode/migration"
	"github.com/cubefs/datanode/proto"
	"github.com/cubefs/datanode/raft"
	"github.com/cubefs/datanode/scatter"
	"github.com/cubefs/datanode/util"
)

const (
	defaultStopGraceMs = 5000
	defaultHttpAddr    = ":9090"
	lockFileName       = "LOCK"
)

type Config struct {
	NodeID proto.NodeID `json:"node_id"`
	// Host is the address peers reach this node at
	Host                      string `json:"host"`
	InternalPort              uint32 `json:"internal_port"`
	DataRegionConsensusPort   uint32 `json:"data_region_consensus_port"`
	SchemaRegionConsensusPort uint32 `json:"schema_region_consensus_port"`
	HttpAddr                  string `json:"http_addr"`

	DataDir string `json:"data_dir"`
	// RegionBacking is one of memory, bolt and pebble
	RegionBacking   string `json:"region_backing"`
	SchemaConsensus string `json:"schema_consensus"`
	DataConsensus   string `json:"data_consensus"`
	// Parallelism bounds regions flushed or merged together
	Parallelism   int    `json:"parallelism"`
	HotConfigPath string `json:"hot_config_path"`
	StopGraceMs   int    `json:"stop_grace_ms"`

	RaftConfig      raft.Config            `json:"raft_config"`
	ScatterConfig   scatter.Config         `json:"scatter_config"`
	MigrationConfig migration.Config       `json:"migration_config"`
	TransportConfig client.TransportConfig `json:"transport_config"`
	AuditLog        auditlog.Config        `json:"auditlog"`
}

func initConfig(cfg *Config) error {
	if cfg.NodeID == 0 {
		return errors.New("node id must be set")
	}
	if cfg.Host == "" {
		host, err := util.GetLocalIP()
		if err != nil {
			return errors.Info(err, "can't get local ip address, please set the host of the node")
		}
		cfg.Host = host
	}
	if cfg.RegionBacking == "" {
		cfg.RegionBacking = string(kvstore.MemoryKVType)
	}
	if cfg.SchemaConsensus == "" {
		cfg.SchemaConsensus = consensus.KindSimple
	}
	if cfg.DataConsensus == "" {
		cfg.DataConsensus = consensus.KindSimple
	}
	if cfg.HttpAddr == "" {
		cfg.HttpAddr = defaultHttpAddr
	}
	if cfg.StopGraceMs <= 0 {
		cfg.StopGraceMs = defaultStopGraceMs
	}
	if cfg.RegionBacking != string(kvstore.MemoryKVType) && cfg.DataDir == "" {
		return errors.New("data dir must be set for region backing " + cfg.RegionBacking)
	}
	return nil
}

// HotConfig holds the parameters reloaded by LoadConfiguration.
type HotConfig struct {
	LogLevel    log.Level      `yaml:"log_level"`
	Broadcast   scatter.Config `yaml:"broadcast"`
	StopGraceMs int            `yaml:"stop_grace_ms"`
}

func loadHotConfig(path string) (*HotConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &HotConfig{LogLevel: log.Linfo}
	if err = yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Info(err, "parse hot config failed", path)
	}
	return cfg, nil
}

func (cfg *HotConfig) stopGrace(fallback int) time.Duration {
	if cfg.StopGraceMs > 0 {
		return time.Duration(cfg.StopGraceMs) * time.Millisecond
	}
	return time.Duration(fallback) * time.Millisecond
}
