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

// Package server assembles the data node: region directory, consensus
// planes, migration, broadcast and the rpc and http servers on top of them.
package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/rpc/auditlog"
	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/gofrs/flock"

	"github.com/cubefs/datanode/client"
	"github.com/cubefs/datanode/consensus"
	"github.com/cubefs/datanode/metrics"
	"github.com/cubefs/datanode/migration"
	"github.com/cubefs/datanode/proto"
	"github.com/cubefs/datanode/region"
	"github.com/cubefs/datanode/router"
	"github.com/cubefs/datanode/scatter"
)

type Server struct {
	cfg Config

	hotLock sync.RWMutex
	hot     *HotConfig

	dirLock   *flock.Flock
	local     proto.NodeLocation
	directory *region.Directory
	facade    *consensus.Facade
	peers     *client.PeerClient
	invoker   *scatter.Invoker
	migration *migration.Coordinator
	router    *router.Router
	collector *metrics.Collector

	auditHandler rpc.ProgressHandler
	auditLog     auditlog.LogCloser

	rpcServer  *RPCServer
	httpServer *HttpServer
	shutdown   *shutdownTimer
	closeOnce  sync.Once
}

func NewServer(cfg *Config) (s *Server, err error) {
	if err = initConfig(cfg); err != nil {
		return nil, err
	}
	s = &Server{cfg: *cfg, hot: &HotConfig{LogLevel: log.Linfo}, shutdown: newShutdownTimer()}
	defer func() {
		if err != nil {
			s.Close()
			s = nil
		}
	}()

	if err = s.lockDataDir(); err != nil {
		return
	}
	if cfg.HotConfigPath != "" {
		if s.hot, err = loadHotConfig(cfg.HotConfigPath); err != nil {
			return
		}
		log.SetOutputLevel(s.hot.LogLevel)
	}
	if cfg.AuditLog.LogDir != "" {
		if s.auditHandler, s.auditLog, err = auditlog.Open("DATANODE", &cfg.AuditLog); err != nil {
			err = errors.Info(err, "open audit log failed")
			return
		}
	}

	s.rpcServer = newRPCServer(s)
	if s.local, err = s.rpcServer.listen(); err != nil {
		return
	}

	var factory region.Factory
	if factory, err = region.NewFactory(cfg.RegionBacking, filepath.Join(cfg.DataDir, "regions")); err != nil {
		return
	}
	s.directory = region.NewDirectory(factory)
	s.peers = client.NewPeerClient(cfg.TransportConfig)

	raftCfg := cfg.RaftConfig
	raftCfg.Transport = s.peers
	var schemaPlane, dataPlane consensus.Consensus
	if schemaPlane, err = consensus.New(&consensus.Config{
		NodeID: cfg.NodeID, Kind: cfg.SchemaConsensus, Regions: s.directory, Raft: raftCfg,
	}); err != nil {
		return
	}
	if dataPlane, err = consensus.New(&consensus.Config{
		NodeID: cfg.NodeID, Kind: cfg.DataConsensus, Regions: s.directory, Raft: raftCfg,
	}); err != nil {
		schemaPlane.Close()
		return
	}
	s.facade = consensus.NewFacade(schemaPlane, dataPlane)

	scatterCfg := cfg.ScatterConfig
	if cfg.HotConfigPath != "" {
		scatterCfg = s.hot.Broadcast
	}
	s.invoker = scatter.NewInvoker(scatterCfg, s.peers)

	migrationCfg := cfg.MigrationConfig
	migrationCfg.Local = s.local
	migrationCfg.Regions = s.directory
	migrationCfg.Planes = s.facade
	migrationCfg.Client = s.peers
	s.migration = migration.NewCoordinator(migrationCfg)

	s.router = router.NewRouter(&router.Config{
		Local:       s.local,
		Parallelism: cfg.Parallelism,
		Regions:     s.directory,
		Consensus:   s.facade,
		Migration:   s.migration,
		Invoker:     s.invoker,
		Sampler:     metrics.NewLoadSampler(),
		Reload:      s.Reload,
		Stop:        s.scheduleStop,
	})

	s.collector = metrics.NewCollector(s.regionCounts, s.taskCounts)
	if err = metrics.Registry.Register(s.collector); err != nil {
		s.collector = nil
		return
	}
	s.rpcServer.register()
	s.httpServer = NewHttpServer(s)
	return s, nil
}

func (s *Server) lockDataDir() error {
	if s.cfg.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.cfg.DataDir, 0o755); err != nil {
		return err
	}
	s.dirLock = flock.New(filepath.Join(s.cfg.DataDir, lockFileName))
	locked, err := s.dirLock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		s.dirLock = nil
		return errors.New("data dir " + s.cfg.DataDir + " is locked by another process")
	}
	return nil
}

// Serve starts the rpc and http servers, it does not block.
func (s *Server) Serve() {
	s.rpcServer.Serve()
	s.httpServer.Serve(s.cfg.HttpAddr)
	log.Infof("data node %d serving at %s", s.cfg.NodeID, s.local.InternalEndpoint)
}

func (s *Server) Local() proto.NodeLocation {
	return s.local
}

func (s *Server) Router() *router.Router {
	return s.router
}

// Done is closed when the node should terminate.
func (s *Server) Done() <-chan struct{} {
	return s.shutdown.Done()
}

// Terminate skips the grace period.
func (s *Server) Terminate() {
	s.shutdown.Fire()
}

// Reload re-reads the hot config file and applies it.
func (s *Server) Reload(ctx context.Context) error {
	if s.cfg.HotConfigPath == "" {
		return nil
	}
	span := trace.SpanFromContextSafe(ctx)
	hot, err := loadHotConfig(s.cfg.HotConfigPath)
	if err != nil {
		return err
	}
	log.SetOutputLevel(hot.LogLevel)
	s.invoker.SetConfig(hot.Broadcast)

	s.hotLock.Lock()
	s.hot = hot
	s.hotLock.Unlock()
	span.Infof("hot config reloaded: %+v", *hot)
	return nil
}

func (s *Server) hotConfig() *HotConfig {
	s.hotLock.RLock()
	defer s.hotLock.RUnlock()
	return s.hot
}

// scheduleStop acknowledges a stop request, the node terminates after the grace period.
func (s *Server) scheduleStop(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)
	grace := s.hotConfig().stopGrace(s.cfg.StopGraceMs)
	if !s.shutdown.Schedule(grace) {
		span.Info("node stop already scheduled")
		return nil
	}
	span.Warnf("node stops in %s", grace)
	return nil
}

// CancelStop disarms a scheduled stop which has not fired yet.
func (s *Server) CancelStop() bool {
	return s.shutdown.Cancel()
}

func (s *Server) stopScheduled() bool {
	return s.shutdown.Scheduled()
}

func (s *Server) regionCounts() map[string]int {
	ret := make(map[string]int)
	for _, r := range s.directory.List() {
		ret[r.GroupID().Type.String()]++
	}
	return ret
}

func (s *Server) taskCounts() map[string]int {
	ret := make(map[string]int)
	for state, n := range s.migration.CountByState() {
		ret[state.String()] = n
	}
	return ret
}

// Close stops serving and releases every component, it may be called on a
// partially built server.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.httpServer != nil {
			s.httpServer.Stop()
		}
		if s.rpcServer != nil {
			s.rpcServer.Stop()
		}
		if s.migration != nil {
			s.migration.Close()
		}
		if s.facade != nil {
			s.facade.Close()
		}
		if s.directory != nil {
			s.directory.Close()
		}
		if s.peers != nil {
			s.peers.Close()
		}
		if s.collector != nil {
			metrics.Registry.Unregister(s.collector)
		}
		if s.auditLog != nil {
			s.auditLog.Close()
		}
		if s.dirLock != nil {
			s.dirLock.Unlock()
		}
	})
}

func endpointOf(host string, lis net.Listener) proto.Endpoint {
	port := lis.Addr().(*net.TCPAddr).Port
	if host == "" {
		host = lis.Addr().(*net.TCPAddr).IP.String()
	}
	return proto.Endpoint{IP: host, Port: uint32(port)}
}

func listenAddr(port uint32) string {
	return ":" + strconv.Itoa(int(port))
}
