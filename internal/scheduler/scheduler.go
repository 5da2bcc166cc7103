// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scheduler owns the two background jobs the server runs outside
// any client connection's goroutine: active key expiration and replica
// keepalive. Built on the same gocron scheduler internal/taskManager
// uses for its own periodic jobs.
package scheduler

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/cc-kv/cc-kvstore/internal/keyspace"
	"github.com/cc-kv/cc-kvstore/internal/metrics"
	cclog "github.com/cc-kv/cc-kvstore/log"
)

const (
	activeExpireInterval     = 100 * time.Millisecond
	activeExpireBudget       = 20
	replicaKeepAliveInterval = 1 * time.Second
)

// Start registers and runs the background jobs against store, returning
// the scheduler so the caller can shut it down.
func Start(store *keyspace.Store, sendGetAck func()) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = s.NewJob(
		gocron.DurationJob(activeExpireInterval),
		gocron.NewTask(func() {
			if n := store.ActiveExpireCycle(activeExpireBudget); n > 0 {
				cclog.Debugf("[SCHEDULER]> active-expire evicted %d keys", n)
			}
			metrics.Keys.Set(float64(store.Size()))
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = s.NewJob(
		gocron.DurationJob(replicaKeepAliveInterval),
		gocron.NewTask(func() {
			if store.Replicas().Count() > 0 {
				sendGetAck()
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	s.Start()
	return s, nil
}
