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

package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
)

// Runtime drives the Docker Engine API.
type Runtime struct {
	cli         *client.Client
	stopTimeout int
	logger      *slog.Logger
}

// New connects to the engine at host (e.g. unix:///var/run/docker.sock).
func New(ctx context.Context, host string, logger *slog.Logger) (*Runtime, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	} else {
		opts = append(opts, client.FromEnv)
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker ping %s: %w", host, err)
	}

	logger.Info("container runtime connected", "host", cli.DaemonHost(), "api_version", cli.ClientVersion())
	return &Runtime{cli: cli, stopTimeout: 10, logger: logger}, nil
}

func (r *Runtime) Create(ctx context.Context, spec core.ContainerSpec) (core.ContainerInfo, error) {
	cfg := &container.Config{
		Image:  spec.Image,
		Env:    envList(spec.Env),
		Labels: spec.Labels,
	}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(spec.RestartPolicy)},
	}
	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{spec.Network: {}},
		}
	}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return core.ContainerInfo{}, err
	}
	for _, w := range resp.Warnings {
		r.logger.Warn("container create warning", "container", spec.Name, "warning", w)
	}

	info := core.ContainerInfo{
		ID:      resp.ID,
		Name:    spec.Name,
		Image:   spec.Image,
		State:   "created",
		Labels:  spec.Labels,
		Created: time.Now(),
	}
	if spec.Network != "" {
		info.Networks = []string{spec.Network}
	}
	return info, nil
}

// List returns all containers, stopped ones included. The engine's name
// filter is a substring match, so names are re-checked exactly here.
func (r *Runtime) List(ctx context.Context, filter core.ContainerFilter) ([]core.ContainerInfo, error) {
	args := filters.NewArgs()
	if filter.Name != "" {
		args.Add("name", filter.Name)
	}
	for k, v := range filter.Labels {
		args.Add("label", k+"="+v)
	}

	containers, err := r.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, err
	}

	out := make([]core.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := primaryName(c.Names)
		if filter.Name != "" && name != filter.Name {
			continue
		}
		info := core.ContainerInfo{
			ID:      c.ID,
			Name:    name,
			Image:   c.Image,
			State:   c.State,
			Labels:  c.Labels,
			Created: time.Unix(c.Created, 0),
		}
		if c.NetworkSettings != nil {
			for n := range c.NetworkSettings.Networks {
				info.Networks = append(info.Networks, n)
			}
			sort.Strings(info.Networks)
		}
		out = append(out, info)
	}
	return out, nil
}

func (r *Runtime) Start(ctx context.Context, id string) error {
	return r.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (r *Runtime) Stop(ctx context.Context, id string) error {
	timeout := r.stopTimeout
	err := r.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	if client.IsErrNotFound(err) {
		return nil
	}
	return err
}

func (r *Runtime) Remove(ctx context.Context, id string) error {
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if client.IsErrNotFound(err) {
		return nil
	}
	return err
}

// ConnectNetwork treats an existing endpoint as success. The engine reports
// that as a conflict or forbidden error, which is confirmed by inspecting
// the container.
func (r *Runtime) ConnectNetwork(ctx context.Context, id, networkName string) error {
	err := r.cli.NetworkConnect(ctx, networkName, id, &network.EndpointSettings{})
	if err == nil {
		return nil
	}
	if (errdefs.IsConflict(err) || errdefs.IsForbidden(err)) && r.attached(ctx, id, networkName) {
		return nil
	}
	return err
}

func (r *Runtime) attached(ctx context.Context, id, networkName string) bool {
	info, err := r.cli.ContainerInspect(ctx, id)
	if err != nil || info.NetworkSettings == nil {
		return false
	}
	_, ok := info.NetworkSettings.Networks[networkName]
	return ok
}

func (r *Runtime) Close() error {
	return r.cli.Close()
}

func primaryName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
