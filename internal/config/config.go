// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ffutop/delta-ota/internal/flash"
)

// Config defines the global configuration structure
type Config struct {
	Log        LogConfig         `mapstructure:"log"`
	Flash      FlashConfig       `mapstructure:"flash"`
	Partitions []PartitionConfig `mapstructure:"partitions"`
	OTA        OTAConfig         `mapstructure:"ota"`
	HTTP       HTTPConfig        `mapstructure:"http"`
	Tcp        TcpConfig         `mapstructure:"tcp"`
	Serial     SerialConfig      `mapstructure:"serial"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// FlashConfig defines the emulated flash device
type FlashConfig struct {
	Backend   string `mapstructure:"backend"` // "memory", "file", "mmap"
	Path      string `mapstructure:"path"`    // Image path for "file/mmap"
	Size      int64  `mapstructure:"size"`
	EraseSize int64  `mapstructure:"erase_size"`
}

// PartitionConfig defines one entry of the partition table
type PartitionConfig struct {
	Label   string `mapstructure:"label"`
	Type    string `mapstructure:"type"`    // "app", "data" or a number
	Subtype string `mapstructure:"subtype"` // e.g. "ota_0", "spiffs", "0x82"
	Offset  int64  `mapstructure:"offset"`
	Size    int64  `mapstructure:"size"`
}

// OTAConfig defines how patches are received and applied
type OTAConfig struct {
	Source       string        `mapstructure:"source"`      // label, "@running"
	Destination  string        `mapstructure:"destination"` // label, "@next"
	Patch        string        `mapstructure:"patch"`       // staging partition label
	Mode         string        `mapstructure:"mode"`        // "staged", "streaming"
	BootStore    string        `mapstructure:"boot_store"`  // bbolt file, empty for volatile
	ChunkSize    int           `mapstructure:"chunk_size"`
	RecvRetries  int           `mapstructure:"recv_retries"`
	RateLimit    int64         `mapstructure:"rate_limit"` // bytes per second, 0 = unlimited
	RestartDelay time.Duration `mapstructure:"restart_delay"`
}

// HTTPConfig defines the HTTP upload endpoint
type HTTPConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Address     string        `mapstructure:"address"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// TcpConfig defines the framed TCP upload endpoint
type TcpConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Address     string        `mapstructure:"address"` // e.g. "0.0.0.0:3333"
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// SerialConfig defines the framed UART upload endpoint
type SerialConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// DefaultPartitions is the table used when none is configured: two OTA
// slots and a patch staging area.
var DefaultPartitions = []PartitionConfig{
	{Label: "ota_0", Type: "app", Subtype: "ota_0", Offset: 0x10000, Size: 0x150000},
	{Label: "ota_1", Type: "app", Subtype: "ota_1", Offset: 0x160000, Size: 0x150000},
	{Label: "patch", Type: "data", Subtype: "spiffs", Offset: 0x2b0000, Size: 0x100000},
}

// BindFlags registers command line overrides for the most common settings.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.String("flash-backend", "", "Flash backend (memory, file, mmap)")
	fs.String("flash-path", "", "Flash image path")
	fs.String("ota-mode", "", "Apply mode (staged, streaming)")
	fs.String("http-address", "", "HTTP listen address")
}

var flagKeys = map[string]string{
	"log-level":     "log.level",
	"flash-backend": "flash.backend",
	"flash-path":    "flash.path",
	"ota-mode":      "ota.mode",
	"http-address":  "http.address",
}

// LoadConfig loads configuration from file. Flags registered with BindFlags
// and set on the command line override file values; fs may be nil.
func LoadConfig(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/delta-ota/")
		v.AddConfigPath("$HOME/.delta-ota")
		v.AddConfigPath(".")
	}

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("flash.backend", "memory")
	v.SetDefault("flash.path", "flash.bin")
	v.SetDefault("flash.size", 0x400000)
	v.SetDefault("flash.erase_size", flash.DefaultEraseSize)
	v.SetDefault("ota.source", "@running")
	v.SetDefault("ota.destination", "@next")
	v.SetDefault("ota.patch", "patch")
	v.SetDefault("ota.mode", "staged")
	v.SetDefault("ota.chunk_size", 1024)
	v.SetDefault("ota.recv_retries", 5)
	v.SetDefault("ota.restart_delay", "5s")
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.address", "0.0.0.0:8070")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("tcp.address", "0.0.0.0:3333")
	v.SetDefault("tcp.read_timeout", "10s")
	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate / Fixups
	if len(config.Partitions) == 0 {
		config.Partitions = append([]PartitionConfig(nil), DefaultPartitions...)
	}
	config.OTA.Mode = strings.ToLower(config.OTA.Mode)
	if config.OTA.Mode != "staged" && config.OTA.Mode != "streaming" {
		return nil, fmt.Errorf("invalid ota mode %q", config.OTA.Mode)
	}
	if config.OTA.ChunkSize <= 0 {
		config.OTA.ChunkSize = 1024
	}
	if config.OTA.RecvRetries < 0 {
		config.OTA.RecvRetries = 0
	}
	fixupSerial(&config.Serial)

	return &config, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
}

// PartitionEntries converts the configured table into flash entries.
func (c *Config) PartitionEntries() ([]flash.Entry, error) {
	entries := make([]flash.Entry, 0, len(c.Partitions))
	for _, p := range c.Partitions {
		typ, err := flash.ParseType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", p.Label, err)
		}
		subtype, err := flash.ParseSubtype(typ, p.Subtype)
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", p.Label, err)
		}
		entries = append(entries, flash.Entry{
			Label:   p.Label,
			Type:    typ,
			Subtype: subtype,
			Offset:  p.Offset,
			Size:    p.Size,
		})
	}
	return entries, nil
}
