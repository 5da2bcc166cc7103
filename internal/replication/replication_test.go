// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package replication

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cc-kv/cc-kvstore/internal/dispatch"
	"github.com/cc-kv/cc-kvstore/internal/keyspace"
	"github.com/cc-kv/cc-kvstore/internal/resp"
)

func TestApplyReplConfAckSetsOffset(t *testing.T) {
	d := &keyspace.ReplicaDescriptor{}
	ack := resp.Arr(resp.BulkStr("REPLCONF"), resp.BulkStr("ACK"), resp.BulkStr("42"))
	applyReplConfAck(ack, d)
	assert.EqualValues(t, 42, d.AckedOffset())
}

func TestApplyReplConfAckIgnoresUnrelatedArrays(t *testing.T) {
	d := &keyspace.ReplicaDescriptor{}
	other := resp.Arr(resp.BulkStr("SET"), resp.BulkStr("k"), resp.BulkStr("v"))
	applyReplConfAck(other, d)
	assert.EqualValues(t, 0, d.AckedOffset())
}

func TestApplyReplConfAckIgnoresMalformedOffset(t *testing.T) {
	d := &keyspace.ReplicaDescriptor{}
	ack := resp.Arr(resp.BulkStr("REPLCONF"), resp.BulkStr("ACK"), resp.BulkStr("notanumber"))
	applyReplConfAck(ack, d)
	assert.EqualValues(t, 0, d.AckedOffset())
}

func TestStreamToReplicaWritesOutboundToConn(t *testing.T) {
	leaderSide, followerSide := net.Pipe()
	defer leaderSide.Close()
	defer followerSide.Close()

	registry := keyspace.NewReplicaRegistry()
	desc := registry.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go StreamToReplica(ctx, leaderSide, bufio.NewReader(leaderSide), desc)

	raw := []byte("*1\r\n$4\r\nPING\r\n")
	desc.Outbound <- raw

	followerSide.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, len(raw))
	_, err := followerSide.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, raw, buf)
}

func TestStreamToReplicaAppliesInboundAcks(t *testing.T) {
	leaderSide, followerSide := net.Pipe()
	defer leaderSide.Close()
	defer followerSide.Close()

	registry := keyspace.NewReplicaRegistry()
	desc := registry.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go StreamToReplica(ctx, leaderSide, bufio.NewReader(leaderSide), desc)

	followerSide.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := followerSide.Write([]byte("*3\r\n$8\r\nREPLCONF\r\n$3\r\nACK\r\n$2\r\n99\r\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return desc.AckedOffset() == 99
	}, time.Second, 10*time.Millisecond)
}

func TestStreamToReplicaReturnsOnContextCancel(t *testing.T) {
	leaderSide, followerSide := net.Pipe()
	defer leaderSide.Close()
	defer followerSide.Close()

	registry := keyspace.NewReplicaRegistry()
	desc := registry.Register()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		StreamToReplica(ctx, leaderSide, bufio.NewReader(leaderSide), desc)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StreamToReplica did not return after context cancellation")
	}
}

func TestLoadSnapshotIntoRestoresStringEntries(t *testing.T) {
	src := keyspace.New()
	src.SetString("k1", []byte("v1"), 0)
	src.SetString("k2", []byte("v2"), 0)
	payload := src.SnapshotBytes()

	dst := keyspace.New()
	require.NoError(t, loadSnapshotInto(dst, payload))

	v, ok, err := dst.GetString("k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	v, ok, err = dst.GetString("k2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)
}

func TestSendCommandWritesFrameAndConsumesReply(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		br := bufio.NewReader(server)
		line, _ := br.ReadString('\n') // "*1\r\n"
		assert.Equal(t, "*1\r\n", line)
		line, _ = br.ReadString('\n') // "$4\r\n"
		assert.Equal(t, "$4\r\n", line)
		line, _ = br.ReadString('\n') // "PING\r\n"
		assert.Equal(t, "PING\r\n", line)
		server.Write([]byte("+PONG\r\n"))
	}()

	br := bufio.NewReader(client)
	err := sendCommand(client, br, "PING")
	assert.NoError(t, err)
}

func TestReplicaOfFailsToDialUnreachableAddr(t *testing.T) {
	store := keyspace.New()
	dsp := dispatch.New(store)
	err := ReplicaOf(context.Background(), "127.0.0.1:0", store, dsp, 0)
	assert.Error(t, err)
}
