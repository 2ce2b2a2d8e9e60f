// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package core

import (
	"context"
	"time"
)

// BrokerRegistry is the discovery source. It is polled, never pushed.
type BrokerRegistry interface {
	Name() string
	GetBrokers(ctx context.Context) ([]BrokerEndpoint, error)
}

// MessageHandler receives every inbound message. Implementations must not
// panic back into the transport and must be safe for concurrent use.
type MessageHandler interface {
	Route(ctx context.Context, msg InboundMessage)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, msg InboundMessage)

func (f MessageHandlerFunc) Route(ctx context.Context, msg InboundMessage) { f(ctx, msg) }

// NodeProvider hands out a running node for a region.
type NodeProvider interface {
	GetOrCreate(ctx context.Context, region string) (*FogNode, error)
}

// Publisher delivers a payload to the region-scoped inbound channel of a
// fog node. One attempt per call.
type Publisher interface {
	Name() string
	Type() string
	Connect(ctx context.Context) error
	Publish(ctx context.Context, region string, payload []byte) error
	Disconnect(ctx context.Context) error
}

// DedupCache is a bounded, expiring set of dedup keys.
type DedupCache interface {
	// CheckAndInsert reports true when key was already present and
	// unexpired. Otherwise it records key and reports false.
	CheckAndInsert(ctx context.Context, key string) (bool, error)
	Len() int
	Close() error
}

// ContainerSpec describes a fog node container to create.
type ContainerSpec struct {
	Name          string
	Image         string
	Env           map[string]string
	Labels        map[string]string
	Network       string
	RestartPolicy string
}

// ContainerInfo is what the runtime reports about a container.
type ContainerInfo struct {
	ID       string
	Name     string
	Image    string
	State    string
	Labels   map[string]string
	Networks []string
	Created  time.Time
}

func (c ContainerInfo) Running() bool { return c.State == "running" }

func (c ContainerInfo) OnNetwork(network string) bool {
	for _, n := range c.Networks {
		if n == network {
			return true
		}
	}
	return false
}

// ContainerFilter narrows List. Name is an exact container name match.
type ContainerFilter struct {
	Name   string
	Labels map[string]string
}

// Runtime is the container engine collaborator.
type Runtime interface {
	Create(ctx context.Context, spec ContainerSpec) (ContainerInfo, error)
	List(ctx context.Context, filter ContainerFilter) ([]ContainerInfo, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	ConnectNetwork(ctx context.Context, id, network string) error
	Close() error
}
