// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ffutop/delta-ota/internal/config"
	"github.com/ffutop/delta-ota/internal/flash"
	"github.com/ffutop/delta-ota/internal/ota"
	"github.com/ffutop/delta-ota/internal/updater"
	"github.com/ffutop/delta-ota/protocol/frame"
	"github.com/ffutop/delta-ota/transport"
	"github.com/ffutop/delta-ota/transport/httpota"
	"github.com/ffutop/delta-ota/transport/tcp"
	"github.com/ffutop/delta-ota/transport/uart"
)

func main() {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	configFile := fs.StringP("config", "c", "", "Path to config file")
	applyFile := fs.String("apply", "", "Apply a patch file once and exit")
	pushAddr := fs.String("push", "", "Send the -apply patch to a remote TCP upload server instead of applying it")
	config.BindFlags(fs)
	fs.Parse(os.Args[1:])

	// Load Configuration
	cfg, err := config.LoadConfig(*configFile, fs)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *pushAddr != "" {
		if err := push(ctx, *pushAddr, *applyFile, cfg.OTA.Mode); err != nil {
			slog.Error("Push failed", "err", err)
			os.Exit(1)
		}
		return
	}

	restart, err := run(ctx, cfg, *applyFile)
	if err != nil {
		slog.Error("Exiting", "err", err)
		os.Exit(1)
	}
	if restart {
		if err := reexec(); err != nil {
			slog.Error("Restart failed", "err", err)
			os.Exit(1)
		}
	}
	slog.Info("Goodbye.")
}

// run serves uploads until ctx is done or an update asks for a restart.
func run(ctx context.Context, cfg *config.Config, applyFile string) (bool, error) {
	slog.Info("Starting delta OTA agent...")

	dev, err := flash.Open(cfg.Flash.Backend, cfg.Flash.Path, cfg.Flash.Size, cfg.Flash.EraseSize)
	if err != nil {
		return false, err
	}
	defer dev.Close()

	entries, err := cfg.PartitionEntries()
	if err != nil {
		return false, err
	}
	table, err := flash.NewTable(dev, entries)
	if err != nil {
		return false, err
	}

	store, err := openBootStore(cfg.OTA.BootStore)
	if err != nil {
		return false, err
	}
	defer store.Close()

	platform, err := ota.NewPlatform(table, store)
	if err != nil {
		return false, err
	}
	if p := platform.RunningPartition(); p != nil {
		slog.Info("Running partition", "label", p.Label(), "offset", p.Offset())
	}

	// One-shot apply, no restart.
	if applyFile != "" {
		u := updater.New(platform, cfg.OTA, nil, nil)
		return false, u.ApplyFile(ctx, applyFile)
	}

	restartCh := make(chan struct{})
	var once sync.Once
	u := updater.New(platform, cfg.OTA, nil, func() {
		once.Do(func() { close(restartCh) })
	})
	u.Upstreams = upstreams(cfg, u)
	if len(u.Upstreams) == 0 {
		return false, errors.New("no upstream enabled")
	}
	if cfg.Flash.Backend == "memory" || cfg.Flash.Backend == "" {
		slog.Warn("Flash is volatile, updates are lost on restart")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	restart := false
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return u.Start(gctx)
	})
	g.Go(func() error {
		select {
		case <-restartCh:
			restart = true
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	slog.Info("Shutting down...")
	return restart, nil
}

func upstreams(cfg *config.Config, u *updater.Updater) []transport.Upstream {
	var ups []transport.Upstream
	if cfg.HTTP.Enabled {
		ups = append(ups, httpota.NewServer(cfg.HTTP, u.Status))
	}
	if cfg.Tcp.Enabled {
		ups = append(ups, tcp.NewServer(cfg.Tcp))
	}
	if cfg.Serial.Enabled {
		ups = append(ups, uart.NewServer(cfg.Serial))
	}
	return ups
}

func openBootStore(path string) (ota.BootStore, error) {
	if path == "" {
		slog.Warn("No boot store configured, boot selection is volatile")
		return &ota.MemoryStore{}, nil
	}
	return ota.OpenBoltStore(path)
}

func push(ctx context.Context, addr, file, mode string) error {
	if file == "" {
		return errors.New("-push needs a patch given with -apply")
	}
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}

	m := frame.ModeDefault
	switch mode {
	case updater.ModeStaged:
		m = frame.ModeStaged
	case updater.ModeStreaming:
		m = frame.ModeStreaming
	}
	slog.Info("Pushing patch", "addr", addr, "file", file, "size", fi.Size(), "mode", mode)
	if err := tcp.NewClient(addr).Push(ctx, f, fi.Size(), m); err != nil {
		return err
	}
	slog.Info("Remote update applied")
	return nil
}

// reexec replaces the process with a fresh copy of itself, which boots the
// newly selected partition.
func reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	slog.Info("Restarting", "exe", exe)
	return syscall.Exec(exe, os.Args, os.Environ())
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
