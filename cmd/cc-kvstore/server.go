// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"net"

	"github.com/cc-kv/cc-kvstore/internal/conn"
	"github.com/cc-kv/cc-kvstore/internal/dispatch"
	"github.com/cc-kv/cc-kvstore/internal/keyspace"
	cclog "github.com/cc-kv/cc-kvstore/log"
)

// serve accepts connections on listener until ctx is cancelled, handing
// each one to its own goroutine.
func serve(ctx context.Context, listener net.Listener, store *keyspace.Store, dsp *dispatch.Dispatcher) {
	for {
		nc, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				cclog.Errorf("[SERVER]> accept failed: %v", err)
				continue
			}
		}
		go conn.New(nc, store, dsp).Serve(ctx)
	}
}
