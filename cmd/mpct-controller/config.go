package main

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mpct-controller/internal/device"
)

type Config struct {
	Controller device.Controller `yaml:"controller"`
	// Devices is the base device list, used when no state was persisted
	// and as defaults under the persisted records.
	Devices []map[string]any `yaml:"devices"`
	State   struct {
		Path string `yaml:"path"`
	} `yaml:"state"`
	MQTT struct {
		Broker         string        `yaml:"broker"` // overrides controller.mqttBrokerAddress
		Username       string        `yaml:"username"`
		Password       string        `yaml:"password"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
	} `yaml:"mqtt"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		ErrorLog   string `yaml:"error_log"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Metrics struct {
		Listen string `yaml:"listen"` // empty disables the endpoint
	} `yaml:"metrics"`
	Hardware struct {
		GPIOChip    string        `yaml:"gpio_chip"`
		W1Root      string        `yaml:"w1_root"`
		DHT22Script string        `yaml:"dht22_script"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"hardware"`
	Shutdown struct {
		MaxWait time.Duration `yaml:"max_wait"`
		Poll    time.Duration `yaml:"poll"`
	} `yaml:"shutdown"`
}

func (c *Config) validate() error {
	if c.Controller.ClientType != device.ClientType {
		return fmt.Errorf("controller.mpctClientType must be %q, got %q", device.ClientType, c.Controller.ClientType)
	}
	if c.Controller.ControllerID == "" {
		return fmt.Errorf("controller.controllerId is required")
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker address is required")
	}
	for i, d := range c.Devices {
		phys, _ := d["physical"].(map[string]any)
		if typ, _ := phys["type"].(string); typ == "" {
			return fmt.Errorf("devices[%d]: physical.type is required", i)
		}
	}
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = cfg.Controller.MQTTBrokerAddress
	}
	if cfg.MQTT.Broker != "" {
		cfg.MQTT.Broker = brokerURL(cfg.MQTT.Broker)
	}
	if cfg.Controller.ReportingInterval == 0 {
		cfg.Controller.ReportingInterval = 300000
	}
	if cfg.State.Path == "" {
		cfg.State.Path = "devices.json"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Hardware.GPIOChip == "" {
		cfg.Hardware.GPIOChip = "gpiochip0"
	}
	if cfg.Hardware.Timeout == 0 {
		cfg.Hardware.Timeout = 10 * time.Second
	}
	if cfg.Shutdown.MaxWait == 0 {
		cfg.Shutdown.MaxWait = 30 * time.Second
	}
	if cfg.Shutdown.Poll == 0 {
		cfg.Shutdown.Poll = 500 * time.Millisecond
	}
	return &cfg, nil
}

// brokerURL accepts a bare host or host:port and returns a paho broker URL.
func brokerURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "1883")
	}
	return "tcp://" + addr
}
