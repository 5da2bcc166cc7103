// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dispatch turns a decoded command into keyspace/pub-sub/geo
// effects and a RESP reply, and propagates write commands to connected
// replicas.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cc-kv/cc-kvstore/internal/command"
	"github.com/cc-kv/cc-kvstore/internal/keyspace"
	"github.com/cc-kv/cc-kvstore/internal/metrics"
	"github.com/cc-kv/cc-kvstore/internal/resp"
)

// writeCommands is propagated verbatim to replicas after a successful
// local application.
var writeCommands = map[command.Kind]bool{
	command.Set: true, command.Del: true, command.Incr: true,
	command.RPush: true, command.LPush: true, command.LPop: true, command.BLPop: true,
	command.XAdd: true,
	command.ZAdd: true,
	command.GeoAdd: true,
}

// Dispatcher executes commands against a shared keyspace Store.
type Dispatcher struct {
	Store *keyspace.Store
}

func New(store *keyspace.Store) *Dispatcher {
	return &Dispatcher{Store: store}
}

// Execute runs one already-decoded command and returns its RESP reply.
// raw is the original wire-encoded command, used verbatim for replica
// propagation so the byte count matches exactly what was received.
func (d *Dispatcher) Execute(ctx context.Context, cmd command.Command, raw []byte) resp.Value {
	metrics.CommandsTotal.WithLabelValues(cmd.Name).Inc()

	v := d.execute(ctx, cmd)
	if writeCommands[cmd.Kind] && v.Kind != resp.Error {
		d.Store.Replicas().Propagate(raw)
		metrics.ReplicaOffsetBytes.Set(float64(d.Store.Replicas().Offset()))
	}
	return v
}

func (d *Dispatcher) execute(ctx context.Context, cmd command.Command) resp.Value {
	s := d.Store
	switch cmd.Kind {
	case command.Ping:
		if len(cmd.Args) == 1 {
			return resp.Bulk(cmd.Args[0])
		}
		return resp.Simple("PONG")

	case command.Echo:
		return resp.Bulk(cmd.Args[0])

	case command.Set:
		opt, err := command.ParseSet(cmd.Args)
		if err != nil {
			return errValue(err)
		}
		var expiresAt int64
		if opt.HasExpiry {
			expiresAt = time.Now().UnixMilli() + opt.ExpiryMs
		}
		s.SetString(string(opt.Key), opt.Value, expiresAt)
		return resp.Simple("OK")

	case command.Get:
		val, ok, err := s.GetString(string(cmd.Args[0]))
		if err != nil {
			return errValue(err)
		}
		if !ok {
			return resp.NullBulk()
		}
		return resp.Bulk(val)

	case command.Del:
		keys := make([]string, len(cmd.Args))
		for i, a := range cmd.Args {
			keys[i] = string(a)
		}
		return resp.Int(int64(s.Del(keys...)))

	case command.Incr:
		n, err := s.Incr(string(cmd.Args[0]))
		if err != nil {
			return errValue(err)
		}
		return resp.Int(n)

	case command.TypeCmd:
		return resp.Simple(s.TypeOf(string(cmd.Args[0])).String())

	case command.Keys:
		keys := s.Keys(string(cmd.Args[0]))
		items := make([]resp.Value, len(keys))
		for i, k := range keys {
			items[i] = resp.BulkStr(k)
		}
		return resp.Arr(items...)

	case command.RPush, command.LPush:
		n, err := s.Push(string(cmd.Args[0]), cmd.Kind == command.RPush, cmd.Args[1:]...)
		if err != nil {
			return errValue(err)
		}
		return resp.Int(int64(n))

	case command.LRange:
		start, err1 := strconv.Atoi(string(cmd.Args[1]))
		stop, err2 := strconv.Atoi(string(cmd.Args[2]))
		if err1 != nil || err2 != nil {
			return resp.Err("ERR value is not an integer or out of range")
		}
		vals, err := s.Range(string(cmd.Args[0]), start, stop)
		if err != nil {
			return errValue(err)
		}
		return bulkArray(vals)

	case command.LLen:
		n, err := s.Len(string(cmd.Args[0]))
		if err != nil {
			return errValue(err)
		}
		return resp.Int(int64(n))

	case command.LPop:
		n := 1
		if len(cmd.Args) > 1 {
			var err error
			n, err = strconv.Atoi(string(cmd.Args[1]))
			if err != nil {
				return resp.Err("ERR value is not an integer or out of range")
			}
		}
		vals, err := s.Pop(string(cmd.Args[0]), n)
		if err != nil {
			return errValue(err)
		}
		if len(vals) == 0 {
			if len(cmd.Args) > 1 {
				return resp.NullArray()
			}
			return resp.NullBulk()
		}
		if len(cmd.Args) == 1 {
			return resp.Bulk(vals[0])
		}
		return bulkArray(vals)

	case command.BLPop:
		timeoutSecs, err := strconv.ParseFloat(string(cmd.Args[len(cmd.Args)-1]), 64)
		if err != nil {
			return resp.Err("ERR timeout is not a float or out of range")
		}
		timeout := time.Duration(timeoutSecs * float64(time.Second))
		for _, keyArg := range cmd.Args[:len(cmd.Args)-1] {
			key, val, ok, err := s.BLPop(ctx, string(keyArg), timeout)
			if err != nil {
				return errValue(err)
			}
			if ok {
				return resp.Arr(resp.BulkStr(key), resp.Bulk(val))
			}
		}
		return resp.NullArray()

	case command.XAdd:
		fields, err := pairsFrom(cmd.Args[2:])
		if err != nil {
			return errValue(err)
		}
		id, err := s.XAdd(string(cmd.Args[0]), string(cmd.Args[1]), fields)
		if err != nil {
			return errValue(err)
		}
		return resp.BulkStr(id.String())

	case command.XRange:
		start, err1 := keyspace.ParseRangeBound(string(cmd.Args[1]), true)
		stop, err2 := keyspace.ParseRangeBound(string(cmd.Args[2]), false)
		if err1 != nil || err2 != nil {
			return resp.Err("ERR Invalid stream ID specified as stream command argument")
		}
		entries, err := s.XRange(string(cmd.Args[0]), start, stop, false)
		if err != nil {
			return errValue(err)
		}
		return streamEntriesArray(entries)

	case command.XRead:
		opt, err := command.ParseXRead(cmd.Args)
		if err != nil {
			return errValue(err)
		}
		keys := make([]string, len(opt.Streams))
		ids := make([]keyspace.StreamID, len(opt.Streams))
		for i, k := range opt.Streams {
			keys[i] = string(k)
			if string(opt.IDs[i]) == "$" {
				ids[i] = s.LastID(keys[i])
				continue
			}
			id, err := keyspace.ParseRangeBound(string(opt.IDs[i]), true)
			if err != nil {
				return errValue(err)
			}
			ids[i] = id
		}
		var results []keyspace.XReadResult
		if opt.Blocking {
			results, err = s.XReadBlock(ctx, keys, ids, opt.BlockMs)
		} else {
			results, err = s.XRead(keys, ids)
		}
		if err != nil {
			return errValue(err)
		}
		if len(results) == 0 {
			return resp.NullArray()
		}
		items := make([]resp.Value, len(results))
		for i, r := range results {
			items[i] = resp.Arr(resp.BulkStr(r.Key), streamEntriesArray(r.Entries))
		}
		return resp.Arr(items...)

	case command.ZAdd:
		score, err := strconv.ParseFloat(string(cmd.Args[1]), 64)
		if err != nil {
			return resp.Err("ERR value is not a valid float")
		}
		n, err := s.ZAdd(string(cmd.Args[0]), string(cmd.Args[2]), score)
		if err != nil {
			return errValue(err)
		}
		return resp.Int(int64(n))

	case command.ZRange:
		start, err1 := strconv.Atoi(string(cmd.Args[1]))
		stop, err2 := strconv.Atoi(string(cmd.Args[2]))
		if err1 != nil || err2 != nil {
			return resp.Err("ERR value is not an integer or out of range")
		}
		members, err := s.ZRange(string(cmd.Args[0]), start, stop)
		if err != nil {
			return errValue(err)
		}
		return strArray(members)

	case command.ZRank:
		rank, found, err := s.ZRank(string(cmd.Args[0]), string(cmd.Args[1]))
		if err != nil {
			return errValue(err)
		}
		if !found {
			return resp.NullBulk()
		}
		return resp.Int(int64(rank))

	case command.ZCard:
		n, err := s.ZCard(string(cmd.Args[0]))
		if err != nil {
			return errValue(err)
		}
		return resp.Int(int64(n))

	case command.ZScore:
		score, found, err := s.ZScore(string(cmd.Args[0]), string(cmd.Args[1]))
		if err != nil {
			return errValue(err)
		}
		if !found {
			return resp.NullBulk()
		}
		return resp.BulkStr(keyspace.FormatScore(score))

	case command.ZRangeByScore:
		min, err1 := strconv.ParseFloat(string(cmd.Args[1]), 64)
		max, err2 := strconv.ParseFloat(string(cmd.Args[2]), 64)
		if err1 != nil || err2 != nil {
			return resp.Err("ERR min or max is not a float")
		}
		members, err := s.ZRangeByScore(string(cmd.Args[0]), min, max)
		if err != nil {
			return errValue(err)
		}
		return strArray(members)

	case command.GeoAdd:
		lon, err1 := strconv.ParseFloat(string(cmd.Args[1]), 64)
		lat, err2 := strconv.ParseFloat(string(cmd.Args[2]), 64)
		if err1 != nil || err2 != nil {
			return resp.Err("ERR value is not a valid float")
		}
		n, err := s.GeoAdd(string(cmd.Args[0]), string(cmd.Args[3]), lon, lat)
		if err != nil {
			return errValue(err)
		}
		return resp.Int(int64(n))

	case command.GeoPos:
		lon, lat, found, err := s.GeoPos(string(cmd.Args[0]), string(cmd.Args[1]))
		if err != nil {
			return errValue(err)
		}
		if !found {
			return resp.Arr(resp.NullArray())
		}
		return resp.Arr(resp.Arr(
			resp.BulkStr(strconv.FormatFloat(lon, 'f', 17, 64)),
			resp.BulkStr(strconv.FormatFloat(lat, 'f', 17, 64)),
		))

	case command.GeoDist:
		meters, found, err := s.GeoDist(string(cmd.Args[0]), string(cmd.Args[1]), string(cmd.Args[2]))
		if err != nil {
			return errValue(err)
		}
		if !found {
			return resp.NullBulk()
		}
		if len(cmd.Args) > 3 && string(cmd.Args[3]) == "km" {
			meters /= 1000
		}
		return resp.BulkStr(strconv.FormatFloat(meters, 'f', 4, 64))

	case command.GeoSearch:
		opt, err := command.ParseGeoSearch(cmd.Args)
		if err != nil {
			return errValue(err)
		}
		results, err := s.GeoSearch(string(opt.Key), opt.Longitude, opt.Latitude, opt.RadiusMeter)
		if err != nil {
			return errValue(err)
		}
		items := make([]resp.Value, len(results))
		for i, r := range results {
			items[i] = resp.BulkStr(r.Member)
		}
		return resp.Arr(items...)

	case command.Publish:
		n := s.Publish(string(cmd.Args[0]), cmd.Args[1])
		return resp.Int(int64(n))

	case command.Wait:
		return d.wait(cmd)

	case command.ConfigCmd:
		return d.configGet(cmd)

	case command.Info:
		return resp.BulkStr(d.renderInfo())

	case command.Hello:
		return resp.Arr(
			resp.BulkStr("server"), resp.BulkStr("cc-kvstore"),
			resp.BulkStr("proto"), resp.Int(2),
		)

	case command.Quit:
		return resp.Simple("OK")

	default:
		return resp.Err(fmt.Sprintf("ERR unknown command '%s'", cmd.Name))
	}
}

// getAckFrame is the wire-encoded "REPLCONF GETACK *" broadcast WAIT sends
// on demand instead of relying solely on the scheduler's periodic keepalive.
var getAckFrame = resp.Bytes(resp.Arr(resp.BulkStr("REPLCONF"), resp.BulkStr("GETACK"), resp.BulkStr("*")))

func (d *Dispatcher) wait(cmd command.Command) resp.Value {
	numReplicas, err1 := strconv.Atoi(string(cmd.Args[0]))
	timeoutMs, err2 := strconv.Atoi(string(cmd.Args[1]))
	if err1 != nil || err2 != nil {
		return resp.Err("ERR value is not an integer or out of range")
	}
	target := d.Store.Replicas().Offset()
	d.Store.Replicas().Propagate(getAckFrame)
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for {
		n := d.Store.Replicas().AckedAtLeast(target)
		if n >= numReplicas || (timeoutMs > 0 && time.Now().After(deadline)) {
			return resp.Int(int64(n))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// renderInfo assembles the colon-delimited sections INFO reports, pulled
// straight from the counters/gauges the rest of the server already keeps.
func (d *Dispatcher) renderInfo() string {
	replicas := d.Store.Replicas()
	lines := []string{
		"# Server",
		"cc_kvstore_version:1",
		"run_id:" + d.Store.ReplID(),
		"",
		"# Clients",
		fmt.Sprintf("connected_clients:%d", int64(metrics.ConnectedClientsValue())),
		"",
		"# Replication",
		"role:" + d.Store.Role(),
		fmt.Sprintf("connected_slaves:%d", replicas.Count()),
		fmt.Sprintf("master_repl_offset:%d", replicas.Offset()),
		"",
		"# Keyspace",
		fmt.Sprintf("db0:keys=%d", d.Store.Size()),
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func (d *Dispatcher) configGet(cmd command.Command) resp.Value {
	if len(cmd.Args) < 2 {
		return resp.Err("ERR wrong number of arguments for 'config' command")
	}
	sub := string(cmd.Args[0])
	if sub != "GET" && sub != "get" {
		return resp.Simple("OK")
	}
	dir, dbfile := d.Store.ConfigPaths()
	switch string(cmd.Args[1]) {
	case "dir":
		return resp.Arr(resp.BulkStr("dir"), resp.BulkStr(dir))
	case "dbfilename":
		return resp.Arr(resp.BulkStr("dbfilename"), resp.BulkStr(dbfile))
	default:
		return resp.Arr()
	}
}

func errValue(err error) resp.Value {
	return resp.Err(err.Error())
}

func bulkArray(vals [][]byte) resp.Value {
	items := make([]resp.Value, len(vals))
	for i, v := range vals {
		items[i] = resp.Bulk(v)
	}
	return resp.Arr(items...)
}

func strArray(vals []string) resp.Value {
	items := make([]resp.Value, len(vals))
	for i, v := range vals {
		items[i] = resp.BulkStr(v)
	}
	return resp.Arr(items...)
}

func pairsFrom(args [][]byte) ([][2][]byte, error) {
	if len(args) == 0 || len(args)%2 != 0 {
		return nil, &command.Error{Reason: "ERR wrong number of arguments for 'xadd' command"}
	}
	out := make([][2][]byte, len(args)/2)
	for i := range out {
		out[i] = [2][]byte{args[2*i], args[2*i+1]}
	}
	return out, nil
}

func streamEntriesArray(entries []keyspace.StreamEntryView) resp.Value {
	items := make([]resp.Value, len(entries))
	for i, e := range entries {
		fields := make([]resp.Value, 0, len(e.Fields)*2)
		for _, f := range e.Fields {
			fields = append(fields, resp.Bulk(f[0]), resp.Bulk(f[1]))
		}
		items[i] = resp.Arr(resp.BulkStr(e.ID.String()), resp.Arr(fields...))
	}
	return resp.Arr(items...)
}
