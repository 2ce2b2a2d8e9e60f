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
	"fmt"
	"net"
	"strconv"
	"time"
)

// BrokerEndpoint is one regional broker as reported by discovery.
type BrokerEndpoint struct {
	Region  string `json:"region" yaml:"region"`
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
}

// HostPort returns address:port, bracketing IPv6 literals.
func (b BrokerEndpoint) HostPort() string {
	return net.JoinHostPort(b.Address, strconv.Itoa(b.Port))
}

// URL returns the tcp:// URL paho expects.
func (b BrokerEndpoint) URL() string {
	return "tcp://" + b.HostPort()
}

func (b BrokerEndpoint) String() string {
	return fmt.Sprintf("%s@%s", b.Region, b.HostPort())
}

type ConnectionStatus int

const (
	ConnectionConnecting ConnectionStatus = iota
	ConnectionSubscribed
	ConnectionDisconnected
	ConnectionFailed
)

func (s ConnectionStatus) String() string {
	switch s {
	case ConnectionConnecting:
		return "connecting"
	case ConnectionSubscribed:
		return "subscribed"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectionHandle is a point-in-time view of one regional broker connection.
type ConnectionHandle struct {
	Region    string
	Endpoint  BrokerEndpoint
	Status    ConnectionStatus
	LastError error
	Attempts  int
	UpdatedAt time.Time
}

type NodeStatus int

const (
	NodeAbsent NodeStatus = iota
	NodeStarting
	NodeRunning
	NodeUnhealthy
	NodeStopping
	NodeRemoved
)

func (s NodeStatus) String() string {
	switch s {
	case NodeAbsent:
		return "absent"
	case NodeStarting:
		return "starting"
	case NodeRunning:
		return "running"
	case NodeUnhealthy:
		return "unhealthy"
	case NodeStopping:
		return "stopping"
	case NodeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// FogNode is the regional compute unit backing one region.
type FogNode struct {
	Region          string
	NodeID          string
	Name            string
	Status          NodeStatus
	NetworkAttached bool
	Adopted         bool
	CreatedAt       time.Time
	LastUsedAt      time.Time
}

// InboundMessage is an uplink as received from a regional broker or the
// HTTP ingest. Region is the source broker's region, not the resolved one.
type InboundMessage struct {
	Topic      string
	Payload    []byte
	DedupKey   string
	Region     string
	ReceivedAt time.Time
}
