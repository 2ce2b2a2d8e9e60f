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

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MTayabShafique/multi-region-lorawan-fog-emulation/pkg/core"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log             LogConfig       `yaml:"log"`
	DefaultRegion   string          `yaml:"default_region"`
	Discovery       DiscoveryConfig `yaml:"discovery"`
	Brokers         BrokerConfig    `yaml:"brokers"`
	Nodes           NodeConfig      `yaml:"nodes"`
	Dedup           DedupConfig     `yaml:"dedup"`
	Publisher       PublisherConfig `yaml:"publisher"`
	Metrics         MetricsConfig   `yaml:"metrics"`
	Ingest          IngestConfig    `yaml:"ingest"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DiscoveryConfig struct {
	Type     string                `yaml:"type"` // file, redis, static
	Path     string                `yaml:"path"`
	Redis    RedisConfig           `yaml:"redis"`
	Static   []core.BrokerEndpoint `yaml:"static"`
	Interval time.Duration         `yaml:"interval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type BrokerConfig struct {
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ClientIDPrefix string        `yaml:"client_id_prefix"`
	KeepAlive      time.Duration `yaml:"keepalive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxRetries     int           `yaml:"max_retries"`
}

type NodeConfig struct {
	Image          string            `yaml:"image"`
	RuntimeSocket  string            `yaml:"runtime_socket"`
	Network        string            `yaml:"network"`
	NamePrefix     string            `yaml:"name_prefix"`
	RestartPolicy  string            `yaml:"restart_policy"`
	Env            map[string]string `yaml:"env"`
	MQTTBroker     string            `yaml:"mqtt_broker"`
	MQTTPort       int               `yaml:"mqtt_port"`
	ProbeInterval  time.Duration     `yaml:"probe_interval"`
	IdleTimeout    time.Duration     `yaml:"idle_timeout"`
	StopOnShutdown bool              `yaml:"stop_on_shutdown"`
}

type DedupConfig struct {
	Store    string        `yaml:"store"` // memory, redis
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
	Redis    RedisConfig   `yaml:"redis"`
}

type PublisherConfig struct {
	Type          string            `yaml:"type"` // mqtt, mqtt5, kafka, rabbitmq, amqp, nats
	URL           string            `yaml:"url"`
	TopicTemplate string            `yaml:"topic_template"`
	QoS           byte              `yaml:"qos"`
	Retain        bool              `yaml:"retain"`
	Username      string            `yaml:"username"`
	Password      string            `yaml:"password"`
	Timeout       time.Duration     `yaml:"timeout"`
	Options       map[string]string `yaml:"options"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

type IngestConfig struct {
	Port    int   `yaml:"port"`
	MaxBody int64 `yaml:"max_body"`
}

// Load reads the YAML file, applies env overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	// qos and retain can't be told apart from their zero values after
	// unmarshalling, so they are seeded before.
	cfg := Config{Publisher: PublisherConfig{QoS: 1, Retain: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides selected fields from the environment. getenv is
// injected so tests don't touch the process environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.DefaultRegion, "FOG_DEFAULT_REGION")
	set(&c.Nodes.Image, "FOG_NODE_IMAGE")
	set(&c.Nodes.RuntimeSocket, "FOG_RUNTIME_SOCKET")
	set(&c.Nodes.Network, "FOG_NETWORK")
	set(&c.Brokers.Username, "MQTT_USERNAME")
	set(&c.Brokers.Password, "MQTT_PASSWORD")
	set(&c.Publisher.URL, "FOG_PUBLISHER_URL")
	set(&c.Log.Level, "LOG_LEVEL")
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Dedup.Redis.Addr = v
		c.Discovery.Redis.Addr = v
	}
}

func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.DefaultRegion == "" {
		c.DefaultRegion = "unknown_region"
	}

	if c.Discovery.Type == "" {
		c.Discovery.Type = "file"
	}
	if c.Discovery.Path == "" {
		c.Discovery.Path = "/app/config/brokers.json"
	}
	if c.Discovery.Interval <= 0 {
		c.Discovery.Interval = 10 * time.Second
	}
	if c.Discovery.Redis.Key == "" {
		c.Discovery.Redis.Key = "fog:brokers"
	}

	if c.Brokers.Topic == "" {
		c.Brokers.Topic = "application/#"
	}
	if c.Brokers.ClientIDPrefix == "" {
		c.Brokers.ClientIDPrefix = "fog-manager"
	}
	if c.Brokers.KeepAlive <= 0 {
		c.Brokers.KeepAlive = 60 * time.Second
	}
	if c.Brokers.ConnectTimeout <= 0 {
		c.Brokers.ConnectTimeout = 10 * time.Second
	}
	if c.Brokers.InitialBackoff <= 0 {
		c.Brokers.InitialBackoff = 3 * time.Second
	}
	if c.Brokers.MaxRetries <= 0 {
		c.Brokers.MaxRetries = 5
	}

	if c.Nodes.Image == "" {
		c.Nodes.Image = "myorg/fog-node:latest"
	}
	if c.Nodes.RuntimeSocket == "" {
		c.Nodes.RuntimeSocket = "unix:///var/run/docker.sock"
	}
	if c.Nodes.NamePrefix == "" {
		c.Nodes.NamePrefix = "fog_node_"
	}
	if c.Nodes.RestartPolicy == "" {
		c.Nodes.RestartPolicy = "on-failure"
	}
	if c.Nodes.MQTTPort == 0 {
		c.Nodes.MQTTPort = 1883
	}
	if c.Nodes.ProbeInterval <= 0 {
		c.Nodes.ProbeInterval = 15 * time.Second
	}

	if c.Dedup.Store == "" {
		c.Dedup.Store = "memory"
	}
	if c.Dedup.TTL <= 0 {
		c.Dedup.TTL = 10 * time.Minute
	}
	if c.Dedup.Capacity <= 0 {
		c.Dedup.Capacity = 100000
	}
	if c.Dedup.Redis.Key == "" {
		c.Dedup.Redis.Key = "fog:dedup:"
	}

	if c.Publisher.Type == "" {
		c.Publisher.Type = "mqtt"
	}
	if c.Publisher.TopicTemplate == "" {
		c.Publisher.TopicTemplate = "fog/{region}/process"
	}
	if c.Publisher.Timeout <= 0 {
		c.Publisher.Timeout = 5 * time.Second
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Ingest.MaxBody <= 0 {
		c.Ingest.MaxBody = 1 << 20
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

func (c *Config) Validate() error {
	var problems []string
	switch c.Discovery.Type {
	case "file", "static":
	case "redis":
		if c.Discovery.Redis.Addr == "" {
			problems = append(problems, "discovery.redis.addr is required when discovery.type=redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("discovery.type %q is not one of file, redis, static", c.Discovery.Type))
	}
	if c.Brokers.QoS > 2 {
		problems = append(problems, "brokers.qos must be 0, 1 or 2")
	}
	if c.Publisher.QoS > 2 {
		problems = append(problems, "publisher.qos must be 0, 1 or 2")
	}
	if !strings.Contains(c.Publisher.TopicTemplate, "{region}") {
		problems = append(problems, "publisher.topic_template must contain {region}")
	}
	switch c.Dedup.Store {
	case "memory":
	case "redis":
		if c.Dedup.Redis.Addr == "" {
			problems = append(problems, "dedup.redis.addr is required when dedup.store=redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("dedup.store %q is not one of memory, redis", c.Dedup.Store))
	}
	if c.Ingest.Port < 0 || c.Ingest.Port > 65535 {
		problems = append(problems, "ingest.port out of range")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", core.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Level maps log.level onto a slog level.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
