/*
 *
 * Copyright 2023 CubeFS authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# DataNode: the coordination plane of a time series data node

## What does a data node coordinate?

1, the local replicas of schema regions and data regions, each a member of one consensus group

2, execution units routed to the consensus group they target, reads and writes alike

3, administrative requests of the config nodes, many of them broadcast to every data node

## Data Model

* ConsensusGroupID, <type, id>, type is SchemaRegion or DataRegion

* Region, the local state machine of a consensus group, backed by a kv store

* Path pattern tree, the serialized set of series path patterns carried by schema requests

* Migration task, the steps adding, removing or deleting one replica of a group


## Architecture

* Router - decodes the internal rpc requests and dispatches them

* Consensus facade - one plane per region type, simple (single replica) or multi-raft

* Region directory - creates, finds and drops local regions

* Migration coordinator - runs replica changes on a bounded worker pool

* Scatter invoker - broadcasts one request to many nodes and gathers an outcome per node

Every node provides the internal service via gRPC and stats via a RESTful API.

### Replication

multi-raft, or a single replica consensus for standalone deployments

### Storage

a region has a single memory, bolt or pebble instance


## Building Blocks

* etcd raft
* gRPC
* Pebble
* bbolt
* Prometheus

*/

package datanode
