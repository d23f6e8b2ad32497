// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/holger24/AFD-sub000/internal/config"
	"github.com/holger24/AFD-sub000/internal/session"
)

var (
	setupLog logr.Logger

	devLogging  bool
	watchConfig bool
)

func init() {
	flag.BoolVar(&devLogging, "dev-logging", false,
		"Use a human readable log format instead of JSON")
	flag.BoolVar(&watchConfig, "watch-config", true,
		"Reload the configuration file when it changes on disk")
	flag.Parse()

	var zl *zap.Logger
	var err error
	if devLogging {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	setupLog = zapr.NewLogger(zl).WithName("setup")
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(config.Path)
	if err != nil {
		setupLog.Error(err, "failed to load configuration")
		return 1
	}
	setupLog.Info("configuration loaded",
		"path", config.Path, "workdir", cfg.WorkDir, "nodes", len(cfg.Nodes))

	var watcher *config.Watcher
	if watchConfig {
		watcher, err = config.NewWatcher(config.Path, setupLog)
		if err != nil {
			setupLog.Error(err, "failed to watch configuration, reloads disabled")
		} else {
			defer watcher.Close()
		}
	}

	mgr, err := session.NewManager(cfg, watcher, setupLog)
	if err != nil {
		setupLog.Error(err, "failed to start monitor")
		return 1
	}
	defer mgr.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		for ev := range mgr.Events() {
			switch ev.Kind {
			case session.EventConnected:
				setupLog.Info("node connected", "node", ev.Node)
			case session.EventDisconnected:
				setupLog.V(1).Info("node disconnected", "node", ev.Node)
			case session.EventRemoteShutdown:
				setupLog.Info("node shut down", "node", ev.Node)
			case session.EventError:
				setupLog.Error(ev.Err, "session error", "node", ev.Node)
			}
		}
	}()

	setupLog.Info("monitor running")
	if err := mgr.Run(ctx); err != nil {
		setupLog.Error(err, "monitor stopped with error")
		return 1
	}
	setupLog.Info("monitor stopped")
	return 0
}
