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
	"errors"
)

var (
	ErrConnection       = errors.New("broker connection failed")
	ErrSubscribe        = errors.New("broker subscribe failed")
	ErrDecode           = errors.New("payload decode failed")
	ErrNodeProvision    = errors.New("fog node provisioning failed")
	ErrNetworkAttach    = errors.New("fog node network attach failed")
	ErrNodeNotFound     = errors.New("fog node not found")
	ErrPublish          = errors.New("publish failed")
	ErrNotConnected     = errors.New("not connected")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrUnknownPublisher = errors.New("unknown publisher type")
	ErrUnknownRegistry  = errors.New("unknown discovery type")
	ErrUnknownStore     = errors.New("unknown dedup store")
	ErrEmptyRegion      = errors.New("empty region")
)

// Class tells callers how to treat an error.
type Class int

const (
	ClassTransient Class = iota
	ClassInvalid
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassInvalid:
		return "invalid"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps an error onto a Class. Unknown errors are transient: nothing
// in the control plane is allowed to take the process down.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassTransient
	case errors.Is(err, ErrDecode), errors.Is(err, ErrEmptyRegion), errors.Is(err, ErrInvalidConfig):
		return ClassInvalid
	case errors.Is(err, ErrUnknownPublisher), errors.Is(err, ErrUnknownRegistry), errors.Is(err, ErrUnknownStore):
		return ClassFatal
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	default:
		return ClassTransient
	}
}

// Reason returns a short metric label for err.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrNetworkAttach):
		return "network_attach"
	case errors.Is(err, ErrNodeProvision):
		return "provision"
	case errors.Is(err, ErrPublish), errors.Is(err, ErrNotConnected):
		return "publish"
	case errors.Is(err, ErrConnection), errors.Is(err, ErrSubscribe):
		return "connection"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
