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

package broker

import (
	"context"
	"time"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
)

// Callbacks are invoked by a Conn. OnMessage calls for one connection are
// sequential and in arrival order.
type Callbacks struct {
	OnMessage func(topic string, payload []byte)
	OnLost    func(err error)
}

// Conn is a connected and subscribed broker session.
type Conn interface {
	Close(timeout time.Duration)
}

// Dialer connects to a broker and subscribes. A returned error means no
// session is left open.
type Dialer interface {
	Dial(ctx context.Context, ep core.BrokerEndpoint, cb Callbacks) (Conn, error)
}
