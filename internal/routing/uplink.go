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

package routing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
)

// uplink is the subset of a network server uplink event the router needs.
type uplink struct {
	DeduplicationID string `json:"deduplicationId"`
	Region          string `json:"region"`
	RegionConfigID  string `json:"regionConfigId"`
	DeviceInfo      struct {
		Tags map[string]any `json:"tags"`
	} `json:"deviceInfo"`
}

func parseUplink(payload []byte) (*uplink, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not a JSON object", core.ErrDecode)
	}
	var u uplink
	if err := json.Unmarshal(trimmed, &u); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDecode, err)
	}
	return &u, nil
}

func (u *uplink) tag(key string) string {
	if v, ok := u.DeviceInfo.Tags[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// region resolves, in order: the device tag (region_name, then region),
// the explicit region or regionConfigId field, then fallback.
func (u *uplink) region(fallback string) string {
	for _, candidate := range []string{
		u.tag("region_name"),
		u.tag("region"),
		strings.TrimSpace(u.Region),
		strings.TrimSpace(u.RegionConfigID),
	} {
		if candidate != "" {
			return candidate
		}
	}
	return fallback
}
