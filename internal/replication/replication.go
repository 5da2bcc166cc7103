// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package replication drives both sides of leader/follower replication:
// the leader-side outbound streaming loop started after a PSYNC
// handshake, and the follower-side client that performs the handshake,
// applies the inbound command stream, and reports its replication offset
// back to the leader.
package replication

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/cc-kv/cc-kvstore/internal/command"
	"github.com/cc-kv/cc-kvstore/internal/dispatch"
	"github.com/cc-kv/cc-kvstore/internal/keyspace"
	"github.com/cc-kv/cc-kvstore/internal/resp"
	cclog "github.com/cc-kv/cc-kvstore/log"
)

// HandshakeError wraps a failure from the dial/PING/REPLCONF/PSYNC/
// snapshot-load sequence, as opposed to a disconnect once steady-state
// command streaming had already begun. Callers use this distinction to
// tell a misconfigured leader address apart from an ordinary network
// blip worth retrying.
type HandshakeError struct {
	err error
}

func (e *HandshakeError) Error() string { return e.err.Error() }
func (e *HandshakeError) Unwrap() error { return e.err }

// StreamToReplica drains desc.Outbound onto nc until the connection
// breaks or ctx is cancelled, and concurrently drains REPLCONF ACK
// replies the replica sends back over the same socket.
func StreamToReplica(ctx context.Context, nc net.Conn, br *bufio.Reader, desc *keyspace.ReplicaDescriptor) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		dec := resp.NewDecoder()
		buf := make([]byte, 4096)
		for {
			v, err := dec.Decode()
			if err == resp.ErrNeedMore {
				n, rerr := br.Read(buf)
				if n > 0 {
					dec.Feed(buf[:n])
				}
				if rerr != nil {
					return
				}
				continue
			}
			if err != nil {
				return
			}
			applyReplConfAck(v, desc)
		}
	}()

	for {
		select {
		case raw, ok := <-desc.Outbound:
			if !ok {
				return
			}
			if _, err := nc.Write(raw); err != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}

func applyReplConfAck(v resp.Value, desc *keyspace.ReplicaDescriptor) {
	if v.Kind != resp.Array || len(v.Items) < 3 {
		return
	}
	if string(v.Items[0].Str) != "REPLCONF" || string(v.Items[1].Str) != "ACK" {
		return
	}
	off, err := strconv.ParseInt(string(v.Items[2].Str), 10, 64)
	if err != nil {
		return
	}
	desc.SetAcked(off)
}

// ReplicaOf runs the follower side for as long as the process stays a
// replica of addr: handshake, full-resync load, then apply every inbound
// command against store until the connection drops, at which point the
// caller is expected to retry.
func ReplicaOf(ctx context.Context, addr string, store *keyspace.Store, dsp *dispatch.Dispatcher, listenPort int) error {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return &HandshakeError{fmt.Errorf("replication: dial %s: %w", addr, err)}
	}
	defer nc.Close()

	br := bufio.NewReader(nc)
	if err := sendCommand(nc, br, "PING"); err != nil {
		return &HandshakeError{err}
	}
	if err := sendCommand(nc, br, "REPLCONF", "listening-port", strconv.Itoa(listenPort)); err != nil {
		return &HandshakeError{err}
	}
	if err := sendCommand(nc, br, "REPLCONF", "capa", "psync2"); err != nil {
		return &HandshakeError{err}
	}
	if _, err := fmt.Fprintf(nc, "*3\r\n$5\r\nPSYNC\r\n$1\r\n?\r\n$2\r\n-1\r\n"); err != nil {
		return &HandshakeError{err}
	}
	fullResyncLine, err := br.ReadString('\n') // +FULLRESYNC <replid> <offset>\r\n
	if err != nil {
		return &HandshakeError{fmt.Errorf("replication: reading FULLRESYNC reply: %w", err)}
	}
	leaderReplID := parseFullResyncReplID(fullResyncLine)

	snapshot, err := resp.ReadRawSnapshotFrame(br)
	if err != nil {
		return &HandshakeError{fmt.Errorf("replication: reading snapshot payload: %w", err)}
	}
	if err := loadSnapshotInto(store, snapshot); err != nil {
		return &HandshakeError{err}
	}
	cclog.Infof("[REPLICATION]> loaded %d-byte snapshot from %s (leader replid %s)", len(snapshot), addr, leaderReplID)

	var receivedOffset int64
	dec := resp.NewDecoder()
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		v, derr := dec.Decode()
		if derr == resp.ErrNeedMore {
			n, rerr := br.Read(buf)
			if n > 0 {
				dec.Feed(buf[:n])
			}
			if rerr != nil {
				return rerr
			}
			continue
		}
		if derr != nil {
			return derr
		}

		raw := resp.Bytes(v)
		parts := make([][]byte, len(v.Items))
		for i, item := range v.Items {
			parts[i] = append([]byte(nil), item.Str...)
		}
		cmd, cerr := command.Decode(parts)
		if cerr != nil {
			continue
		}

		if cmd.Kind == command.ReplConf && command.ReplConfIsGetAck(cmd.Args) {
			ack := fmt.Sprintf("*3\r\n$8\r\nREPLCONF\r\n$3\r\nACK\r\n$%d\r\n%d\r\n", len(strconv.FormatInt(receivedOffset, 10)), receivedOffset)
			if _, err := nc.Write([]byte(ack)); err != nil {
				return err
			}
			receivedOffset += int64(len(raw))
			continue
		}

		dsp.Execute(ctx, cmd, raw)
		receivedOffset += int64(len(raw))
	}
}

// parseFullResyncReplID extracts <replid> from a "+FULLRESYNC <replid>
// <offset>\r\n" reply. Returns "" if the line is malformed rather than
// failing the handshake over a cosmetic field.
func parseFullResyncReplID(line string) string {
	line = strings.TrimPrefix(strings.TrimSpace(line), "+")
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "FULLRESYNC" {
		return ""
	}
	return fields[1]
}

func sendCommand(nc net.Conn, br *bufio.Reader, args ...string) error {
	var frame []byte
	frame = append(frame, '*')
	frame = append(frame, []byte(strconv.Itoa(len(args)))...)
	frame = append(frame, '\r', '\n')
	for _, a := range args {
		frame = append(frame, '$')
		frame = append(frame, []byte(strconv.Itoa(len(a)))...)
		frame = append(frame, '\r', '\n')
		frame = append(frame, []byte(a)...)
		frame = append(frame, '\r', '\n')
	}
	if _, err := nc.Write(frame); err != nil {
		return err
	}
	_, err := br.ReadString('\n')
	return err
}

func loadSnapshotInto(store *keyspace.Store, payload []byte) error {
	return store.LoadSnapshotBytes(payload)
}
