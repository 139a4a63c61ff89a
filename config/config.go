package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/zhimiaox/zmqx-retained/common"
	"github.com/zhimiaox/zmqx-retained/consts"
	"github.com/zhimiaox/zmqx-retained/packets"

	"github.com/BurntSushi/toml"
)

func New() *Config {
	return &Config{
		Server: Server{
			Debug:       false,
			NodeID:      common.NanoID(),
			TCP:         nil,
			Persistence: Persistence{Type: consts.Memory},
		},
		MQTT: MQTT{
			MaxPacketSize:   packets.MaxSize,
			RetainAvailable: true,
			MaximumQoS:      2,
			Version:         packets.Version311,
		},
		Retained: Retained{
			Buckets:         consts.BucketCount,
			QueueDepth:      consts.QueueDepth,
			CleanupInterval: consts.Duration(time.Minute),
		},
	}
}

type Config struct {
	Server   Server   `toml:"server"`
	MQTT     MQTT     `toml:"mqtt"`
	Retained Retained `toml:"retained"`
}

type Server struct {
	Debug  bool   `toml:"debug" default:"false"`
	NodeID string `toml:"node_id"`
	// MetricsListen serves prometheus metrics on /metrics, disabled when empty.
	MetricsListen string      `toml:"metrics_listen"`
	TCP           *TCPListen  `toml:"tcp"`
	Persistence   Persistence `toml:"persistence"`
}

// TCPListen accepts raw MQTT PUBLISH streams feeding the retained store.
type TCPListen struct {
	Listen string `toml:"listen" default:":1883"`
}

type Persistence struct {
	Type  string `toml:"type"`
	BBolt *struct {
		Path   string `toml:"path"`
		NoSync bool   `toml:"no_sync"`
	} `toml:"bbolt"`
	Redis *struct {
		Addr     []string `toml:"addr"`
		Password string   `toml:"password"`
		Database int      `toml:"database"`
	} `toml:"redis"`
}

type MQTT struct {
	// MaxPacketSize is the maximum packet size that the server is willing to accept from the client
	MaxPacketSize uint32 `toml:"max_packet_size" default:"268435455"`
	// RetainAvailable indicates whether the server supports retained messages.
	// When false a publish carrying the retain flag closes the connection.
	RetainAvailable bool `toml:"retain_available" default:"true"`
	// MaximumQoS is the highest QOS level permitted for a Publish.
	MaximumQoS uint8 `toml:"maximum_qos" default:"2"`
	// Version is the protocol level of ingested streams, 3, 4 or 5.
	Version packets.Version `toml:"protocol_version" default:"4"`
}

type Retained struct {
	// Buckets is the number of partitions topics are hashed over.
	Buckets int `toml:"buckets" default:"64"`
	// QueueDepth bounds the pending tasks of one bucket, further submissions fail with a queue full error.
	QueueDepth int `toml:"queue_depth" default:"4096"`
	// CleanupInterval is the time between two expiry sweeps of consecutive buckets, 0 disables the sweeper.
	CleanupInterval consts.Duration `toml:"cleanup_interval" default:"1m"`
}

func ParseConfigFile(file string) (*Config, error) {
	config := New()
	if _, err := toml.DecodeFile(file, &config); err != nil {
		return nil, err
	}
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

func Validate(cfg *Config) error {
	if cfg.MQTT.MaximumQoS > packets.Qos2 {
		return fmt.Errorf("invalid maximum_qos: %d", cfg.MQTT.MaximumQoS)
	}
	if cfg.MQTT.MaxPacketSize == 0 {
		return fmt.Errorf("max_packet_size cannot be 0")
	}
	if cfg.MQTT.MaxPacketSize > packets.MaxSize {
		return fmt.Errorf("max_packet_size cannot be out max size")
	}
	if !packets.IsVersion3X(cfg.MQTT.Version) && !packets.IsVersion5(cfg.MQTT.Version) {
		return fmt.Errorf("invalid protocol_version: %d", cfg.MQTT.Version)
	}
	if cfg.Retained.Buckets <= 0 {
		return fmt.Errorf("invalid buckets: %d", cfg.Retained.Buckets)
	}
	if cfg.Retained.QueueDepth <= 0 {
		return fmt.Errorf("invalid queue_depth: %d", cfg.Retained.QueueDepth)
	}
	if cfg.Retained.CleanupInterval < 0 {
		return fmt.Errorf("invalid cleanup_interval: %s", time.Duration(cfg.Retained.CleanupInterval))
	}
	switch cfg.Server.Persistence.Type {
	case consts.Memory:
	case consts.Bolt:
		if cfg.Server.Persistence.BBolt == nil || cfg.Server.Persistence.BBolt.Path == "" {
			return fmt.Errorf("bbolt persistence requires a path")
		}
	case consts.Redis:
		if cfg.Server.Persistence.Redis == nil || len(cfg.Server.Persistence.Redis.Addr) == 0 {
			return fmt.Errorf("redis persistence requires an addr")
		}
	default:
		return fmt.Errorf("invalid persistence type: %s", cfg.Server.Persistence.Type)
	}
	if cfg.Server.TCP != nil && cfg.Server.TCP.Listen == "" {
		return fmt.Errorf("tcp listen address cannot be empty")
	}
	if cfg.Server.NodeID == "" {
		return fmt.Errorf("invalid server NodeID with empty")
	}
	if strings.Contains(cfg.Server.NodeID, ":") {
		return fmt.Errorf("invalid server NodeID with : ")
	}
	return nil
}
