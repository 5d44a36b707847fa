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
	"context"
	"net/http"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cubefs/datanode/metrics"
	"github.com/cubefs/datanode/proto"
	"github.com/cubefs/datanode/region"
	"github.com/cubefs/datanode/router"
)

const (
	defaultShutdownTimeoutS      = 30
	defaultReadRequestTimeoutS   = 30
	defaultWriteResponseTimeoutS = 30
)

type HttpServer struct {
	httpServer *http.Server

	*Server
}

type (
	StatsResponse struct {
		NodeID         proto.NodeID       `json:"node_id"`
		Status         string             `json:"status"`
		Location       proto.NodeLocation `json:"location"`
		Regions        map[string]int     `json:"regions"`
		MigrationTasks map[string]int     `json:"migration_tasks"`
		StopScheduled  bool               `json:"stop_scheduled"`
	}
	RegionsResponse struct {
		Regions []region.Stats `json:"regions"`
	}
	CancelStopResponse struct {
		Cancelled bool `json:"cancelled"`
	}
)

func NewHttpServer(server *Server) *HttpServer {
	return &HttpServer{Server: server}
}

func (h *HttpServer) Serve(addr string) {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      h.handler(profile.NewProfileHandler(addr)),
		ReadTimeout:  defaultReadRequestTimeoutS * time.Second,
		WriteTimeout: defaultWriteResponseTimeoutS * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server exits:", err)
		}
	}()
	h.httpServer = httpServer

	log.Info("http server is running at:", addr)
}

func (h *HttpServer) Stop() {
	if h.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeoutS*time.Second)
	defer cancel()

	h.httpServer.Shutdown(ctx)
}

func (h *HttpServer) handler(phs ...rpc.ProgressHandler) http.Handler {
	if h.auditHandler != nil {
		phs = append(phs, h.auditHandler)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/", rpc.MiddlewareHandlerWith(h.newRouter(), phs...))
	return mux
}

func (h *HttpServer) newRouter() *rpc.Router {
	r := rpc.New()
	r.Handle(http.MethodGet, "/stats", h.Stats, rpc.OptArgsQuery())
	r.Handle(http.MethodGet, "/regions", h.Regions)
	r.Handle(http.MethodGet, "/migration/tasks", h.MigrationTasks, rpc.OptArgsQuery())
	r.Handle(http.MethodPost, "/stop/cancel", h.CancelScheduledStop)
	r.Handle(http.MethodPost, "/permissions", h.FillPermissions, rpc.OptArgsBody())
	return r
}

func (h *HttpServer) Stats(c *rpc.Context) {
	c.RespondJSON(&StatsResponse{
		NodeID:         h.cfg.NodeID,
		Status:         string(h.router.Status()),
		Location:       h.local,
		Regions:        h.regionCounts(),
		MigrationTasks: h.taskCounts(),
		StopScheduled:  h.stopScheduled(),
	})
}

func (h *HttpServer) Regions(c *rpc.Context) {
	ret := &RegionsResponse{Regions: make([]region.Stats, 0)}
	for _, r := range h.directory.List() {
		st, err := r.Stats(c.Request.Context())
		if err != nil {
			c.RespondError(err)
			return
		}
		ret.Regions = append(ret.Regions, st)
	}
	c.RespondJSON(ret)
}

// MigrationTasks lists the migration tasks, filtered by task_id when given.
func (h *HttpServer) MigrationTasks(c *rpc.Context) {
	req := &proto.MigrationTaskRequest{TaskID: c.Request.URL.Query().Get("task_id")}
	resp, err := h.router.GetMigrationTask(c.Request.Context(), req)
	if err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(resp)
}

func (h *HttpServer) CancelScheduledStop(c *rpc.Context) {
	c.RespondJSON(&CancelStopResponse{Cancelled: h.Server.CancelStop()})
}

// FillPermissions feeds the permission cache with the users and roles of the body.
func (h *HttpServer) FillPermissions(c *rpc.Context) {
	args := new(router.PermissionFill)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if err := h.router.FillPermissionCache(c.Request.Context(), args); err != nil {
		c.RespondError(rpc.NewError(http.StatusBadRequest, "FillPermissions", err))
		return
	}
	c.Respond()
}
