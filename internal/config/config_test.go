// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"

	"github.com/ffutop/delta-ota/internal/flash"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "log:\n  level: debug\n"), nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	want := OTAConfig{
		Source:       "@running",
		Destination:  "@next",
		Patch:        "patch",
		Mode:         "staged",
		ChunkSize:    1024,
		RecvRetries:  5,
		RestartDelay: 5 * time.Second,
	}
	if diff := cmp.Diff(want, cfg.OTA); diff != "" {
		t.Errorf("ota defaults mismatch (-want +got):\n%s", diff)
	}
	if cfg.Flash.Backend != "memory" || cfg.Flash.Size != 0x400000 || cfg.Flash.EraseSize != flash.DefaultEraseSize {
		t.Errorf("flash defaults = %+v", cfg.Flash)
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Address != "0.0.0.0:8070" || cfg.Tcp.Enabled {
		t.Errorf("upstream defaults: http=%+v tcp=%+v", cfg.HTTP, cfg.Tcp)
	}
	if diff := cmp.Diff(DefaultPartitions, cfg.Partitions); diff != "" {
		t.Errorf("partition defaults mismatch (-want +got):\n%s", diff)
	}
	if cfg.Serial.Parity != "N" || cfg.Serial.Timeout != 500*time.Millisecond {
		t.Errorf("serial fixups not applied: %+v", cfg.Serial)
	}
}

func TestLoadConfig_Partitions(t *testing.T) {
	path := writeConfig(t, `
flash:
  backend: mmap
  path: /tmp/flash.bin
  size: 0x100000
partitions:
  - { label: factory, type: app, subtype: factory, offset: 0x10000, size: 0x40000 }
  - { label: ota_0, type: app, subtype: ota_0, offset: 0x50000, size: 0x40000 }
  - { label: staging, type: data, subtype: 0x99, offset: 0x90000, size: 0x20000 }
ota:
  mode: Streaming
  patch: staging
serial:
  parity: e
  timeout: 2s
`)
	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.OTA.Mode != "streaming" || cfg.OTA.Patch != "staging" {
		t.Errorf("ota = %+v", cfg.OTA)
	}
	if cfg.Serial.Parity != "E" || cfg.Serial.Timeout != 2*time.Second {
		t.Errorf("serial = %+v", cfg.Serial)
	}

	entries, err := cfg.PartitionEntries()
	if err != nil {
		t.Fatalf("PartitionEntries: %v", err)
	}
	want := []flash.Entry{
		{Label: "factory", Type: flash.TypeApp, Subtype: flash.SubtypeFactory, Offset: 0x10000, Size: 0x40000},
		{Label: "ota_0", Type: flash.TypeApp, Subtype: flash.SubtypeOTA(0), Offset: 0x50000, Size: 0x40000},
		{Label: "staging", Type: flash.TypeData, Subtype: 0x99, Offset: 0x90000, Size: 0x20000},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "ota:\n  mode: sideways\n"), nil); err == nil {
		t.Error("expected error for unknown ota mode")
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("expected error for missing explicit config file")
	}

	cfg, err := LoadConfig(writeConfig(t, `
partitions:
  - { label: bad, type: app, subtype: ota_99, offset: 0, size: 0x1000 }
`), nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if _, err := cfg.PartitionEntries(); err == nil {
		t.Error("expected error for invalid subtype")
	}
}

func TestLoadConfig_Flags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	if err := fs.Parse([]string{"--ota-mode=streaming", "--flash-backend=file"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(writeConfig(t, "ota:\n  mode: staged\nflash:\n  backend: mmap\n"), fs)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.OTA.Mode != "streaming" || cfg.Flash.Backend != "file" {
		t.Errorf("flags not applied: mode=%s backend=%s", cfg.OTA.Mode, cfg.Flash.Backend)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("unset flag overrode default: %q", cfg.Log.Level)
	}
}
