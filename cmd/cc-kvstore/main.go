// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/gops/agent"

	"github.com/cc-kv/cc-kvstore/internal/config"
	"github.com/cc-kv/cc-kvstore/internal/dispatch"
	"github.com/cc-kv/cc-kvstore/internal/keyspace"
	"github.com/cc-kv/cc-kvstore/internal/metrics"
	"github.com/cc-kv/cc-kvstore/internal/replication"
	"github.com/cc-kv/cc-kvstore/internal/resp"
	"github.com/cc-kv/cc-kvstore/internal/runtimeEnv"
	"github.com/cc-kv/cc-kvstore/internal/scheduler"
	"github.com/cc-kv/cc-kvstore/internal/util"
	cclog "github.com/cc-kv/cc-kvstore/log"
)

func main() {
	flags := parseFlags()

	if flags.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := config.LoadDotEnv("./.env"); err != nil {
		cclog.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	if flags.ConfigFile != "" {
		config.Init(flags.ConfigFile)
		config.WatchForChanges(flags.ConfigFile)
	}
	applyFlagOverrides(flags)
	cclog.SetLevel(config.Keys.LogLevel)

	store := keyspace.New()
	store.SetConfigPaths(config.Keys.Dir, config.Keys.DBFilename)
	store.WatchConfigDir()
	if err := store.LoadSnapshot(config.Keys.Dir, config.Keys.DBFilename); err != nil {
		cclog.Fatal(err)
	}
	if config.Keys.RequirePass != "" {
		if err := store.SeedRequirePass(config.Keys.RequirePass); err != nil {
			cclog.Fatal(err)
		}
	}

	dsp := dispatch.New(store)

	ctx, cancel := context.WithCancel(context.Background())

	sendGetAck := func() {
		store.Replicas().Propagate(resp.Bytes(resp.Arr(resp.BulkStr("REPLCONF"), resp.BulkStr("GETACK"), resp.BulkStr("*"))))
	}
	sched, err := scheduler.Start(store, sendGetAck)
	if err != nil {
		cclog.Fatal(err)
	}

	metrics.Serve(config.Keys.MetricsAddr)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", config.Keys.Port))
	if err != nil {
		cclog.Fatal(err)
	}

	// The listening port must be bound before dropping root, then the
	// rest of bring-up runs unprivileged.
	if err := runtimeEnv.DropPrivileges(flags.User, flags.Group); err != nil {
		cclog.Fatalf("error while changing user: %s", err.Error())
	}

	if config.Keys.ReplicaOf != "" {
		store.SetRole("slave")
		go runReplicaLoop(ctx, config.Keys.ReplicaOf, store, dsp, config.Keys.Port)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		serve(ctx, listener, store, dsp)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		runtimeEnv.SystemdNotifiy(false, "shutting down")
		cancel()
		if err := store.SaveSnapshot(config.Keys.Dir, config.Keys.DBFilename); err != nil {
			cclog.Errorf("[SERVER]> snapshot on shutdown failed: %v", err)
		}
		if err := sched.Shutdown(); err != nil {
			cclog.Errorf("[SERVER]> scheduler shutdown: %v", err)
		}
		util.FsWatcherShutdown()
		listener.Close()
	}()

	cclog.Infof("[SERVER]> listening on :%d", config.Keys.Port)
	runtimeEnv.SystemdNotifiy(true, "running")
	wg.Wait()
	cclog.Print("Gracefull shutdown completed!")
}

// applyFlagOverrides lets explicit CLI flags win over whatever the
// optional JSON config file set.
func applyFlagOverrides(f cliFlags) {
	if f.Port != 0 {
		config.Keys.Port = f.Port
	}
	if f.Dir != "" {
		config.Keys.Dir = f.Dir
	}
	if f.DBFilename != "" {
		config.Keys.DBFilename = f.DBFilename
	}
	if f.RequirePass != "" {
		config.Keys.RequirePass = f.RequirePass
	}
	if f.ReplicaOf != "" {
		config.Keys.ReplicaOf = f.ReplicaOf
	}
	if f.MetricsAddr != "" {
		config.Keys.MetricsAddr = f.MetricsAddr
	}
	if f.LogLevel != "" {
		config.Keys.LogLevel = f.LogLevel
	}
}

// runReplicaLoop retries a steady-state disconnect against addr for as
// long as the process is configured to follow it, but a failure during
// the initial handshake (bad address, leader refused the handshake, a
// corrupt snapshot) is not transient and exits the process per spec.md's
// "log + exit non-zero" requirement for replication errors.
func runReplicaLoop(ctx context.Context, addr string, store *keyspace.Store, dsp *dispatch.Dispatcher, listenPort int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		err := replication.ReplicaOf(ctx, addr, store, dsp, listenPort)
		if err == nil {
			continue
		}
		var handshakeErr *replication.HandshakeError
		if errors.As(err, &handshakeErr) {
			cclog.Fatalf("[REPLICATION]> handshake with %s failed: %v", addr, err)
		}
		cclog.Warnf("[REPLICATION]> connection to %s lost: %v", addr, err)
	}
}

