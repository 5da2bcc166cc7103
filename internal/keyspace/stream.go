// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keyspace

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// StreamID is the ordered pair described in the glossary: (ms, seq), both
// unsigned 64-bit.
type StreamID struct {
	Ms  uint64
	Seq uint64
}

func (id StreamID) String() string {
	return fmt.Sprintf("%d-%d", id.Ms, id.Seq)
}

func (a StreamID) less(b StreamID) bool {
	if a.Ms != b.Ms {
		return a.Ms < b.Ms
	}
	return a.Seq < b.Seq
}

func (a StreamID) lessOrEqual(b StreamID) bool { return a == b || a.less(b) }

type streamField struct {
	field, value []byte
}

type streamEntry struct {
	id     StreamID
	fields []streamField
}

type streamData struct {
	entries []streamEntry
	lastID  StreamID
}

var ErrInvalidStreamID = errors.New("ERR Invalid stream ID specified as stream command argument")

// ParseExplicitOrAutoID parses an XADD id argument against the stream's
// last committed ID, applying the auto-generation rules for "*" and
// "ms-*" forms.
func ParseExplicitOrAutoID(raw string, last StreamID) (StreamID, error) {
	if raw == "*" {
		ms := uint64(time.Now().UnixMilli())
		seq := uint64(0)
		if ms == last.Ms {
			seq = last.Seq + 1
		} else if ms == 0 {
			seq = 1
		}
		return StreamID{Ms: ms, Seq: seq}, nil
	}

	parts := strings.SplitN(raw, "-", 2)
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	if len(parts) == 1 {
		return StreamID{Ms: ms, Seq: 0}, nil
	}
	if parts[1] == "*" {
		seq := uint64(0)
		if ms == last.Ms {
			seq = last.Seq + 1
		} else if ms == 0 {
			seq = 1
		}
		return StreamID{Ms: ms, Seq: seq}, nil
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

// ParseRangeBound parses an XRANGE boundary, where "-"/"*" means the
// smallest possible ID as a start bound and the largest as a stop bound,
// "+" means the largest, and a partial "ms" expands
// to (ms,0) on the low side or (ms,MaxUint64) on the high side.
func ParseRangeBound(raw string, isStart bool) (StreamID, error) {
	switch raw {
	case "-", "*":
		if isStart {
			return StreamID{0, 0}, nil
		}
		return StreamID{math.MaxUint64, math.MaxUint64}, nil
	case "+":
		return StreamID{math.MaxUint64, math.MaxUint64}, nil
	}
	parts := strings.SplitN(raw, "-", 2)
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	if len(parts) == 1 {
		if isStart {
			return StreamID{Ms: ms, Seq: 0}, nil
		}
		return StreamID{Ms: ms, Seq: math.MaxUint64}, nil
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

func (s *Store) streamEntryLocked(sh *shard, key string, createIfAbsent bool) (*entry, error) {
	now := nowMs()
	sh.expireIfNeeded(key, now)
	e, ok := sh.data[key]
	if !ok {
		if !createIfAbsent {
			return nil, nil
		}
		e = &entry{kind: KindStream, stream: &streamData{}}
		sh.data[key] = e
		return e, nil
	}
	if e.kind != KindStream {
		return nil, ErrWrongType
	}
	return e, nil
}

// StreamAppendedEvent is delivered to blocked XREAD BLOCK waiters, shaped
// like the command reply: one stream's worth of newly appended entries.
type StreamAppendedEvent struct {
	Key     string
	Entries []StreamEntryView
}

// StreamEntryView is the externally visible shape of one stream entry.
type StreamEntryView struct {
	ID     StreamID
	Fields [][2][]byte
}

// XAdd appends one entry. idArg may be "*", "ms-*" or "ms-seq".
func (s *Store) XAdd(key, idArg string, fields [][2][]byte) (StreamID, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	e, err := s.streamEntryLocked(sh, key, true)
	if err != nil {
		sh.mu.Unlock()
		return StreamID{}, err
	}
	id, err := ParseExplicitOrAutoID(idArg, e.stream.lastID)
	if err != nil {
		sh.mu.Unlock()
		return StreamID{}, err
	}
	if (id == StreamID{0, 0}) {
		sh.mu.Unlock()
		return StreamID{}, errors.New("ERR The ID specified in XADD must be greater than 0-0")
	}
	if !e.stream.lastID.less(id) && len(e.stream.entries) > 0 {
		sh.mu.Unlock()
		return StreamID{}, errors.New("ERR The ID specified in XADD is equal or smaller than the target stream top item")
	}
	se := streamEntry{id: id}
	for _, f := range fields {
		se.fields = append(se.fields, streamField{field: f[0], value: f[1]})
	}
	e.stream.entries = append(e.stream.entries, se)
	e.stream.lastID = id
	sh.mu.Unlock()

	s.notifyStreamWaiters(key, id)
	return id, nil
}

func (s *Store) notifyStreamWaiters(key string, from StreamID) {
	q := s.waiters.streamQueue(key)
	for {
		w, ok := q.pop()
		if !ok {
			return
		}
		entries, err := s.XRange(key, from, StreamID{math.MaxUint64, math.MaxUint64}, false)
		if err != nil || len(entries) == 0 {
			w.cancel()
			continue
		}
		w.tryDeliver(StreamAppendedEvent{Key: key, Entries: entries})
	}
}

// XRange returns entries with start <= id <= stop, inclusive. When
// exclusiveStart is true (used by XREAD), the lower bound becomes strict.
func (s *Store) XRange(key string, start, stop StreamID, exclusiveStart bool) ([]StreamEntryView, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	e, err := s.streamEntryLocked(sh, key, false)
	sh.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}

	var out []StreamEntryView
	for _, se := range e.stream.entries {
		if exclusiveStart {
			if !start.less(se.id) {
				continue
			}
		} else if se.id.less(start) {
			continue
		}
		if stop.less(se.id) {
			break
		}
		out = append(out, toView(se))
	}
	return out, nil
}

func toView(se streamEntry) StreamEntryView {
	v := StreamEntryView{ID: se.id}
	for _, f := range se.fields {
		v.Fields = append(v.Fields, [2][]byte{f.field, f.value})
	}
	return v
}

// LastID returns the stream's last committed ID, or the zero ID if absent.
func (s *Store) LastID(key string) StreamID {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.data[key]
	if !ok || e.kind != KindStream {
		return StreamID{}
	}
	return e.stream.lastID
}

// XReadResult is one stream's worth of entries for an XREAD reply.
type XReadResult struct {
	Key     string
	Entries []StreamEntryView
}

// XRead implements non-blocking XREAD: entries strictly greater than the
// given per-stream ID. "$" resolves to "only future entries", i.e. an
// empty current snapshot.
func (s *Store) XRead(keys []string, ids []StreamID) ([]XReadResult, error) {
	var out []XReadResult
	for i, key := range keys {
		entries, err := s.XRange(key, ids[i], StreamID{math.MaxUint64, math.MaxUint64}, true)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			out = append(out, XReadResult{Key: key, Entries: entries})
		}
	}
	return out, nil
}

// XReadBlock implements XREAD BLOCK: return immediately if any listed
// stream already has matching data, else register a waiter on every key
// and race their deliveries against a shared timeout. blockMs <= 0 means
// wait forever.
func (s *Store) XReadBlock(ctx context.Context, keys []string, ids []StreamID, blockMs int64) ([]XReadResult, error) {
	if res, err := s.XRead(keys, ids); err != nil || len(res) > 0 {
		return res, err
	}

	waiters := make([]*waiter, len(keys))
	queues := make([]*waiterQueue, len(keys))
	for i, key := range keys {
		w := newWaiter()
		q := s.waiters.streamQueue(key)
		q.push(w)
		waiters[i] = w
		queues[i] = q
	}
	cleanup := func(except int) {
		for i, w := range waiters {
			if i == except {
				continue
			}
			w.cancel()
			queues[i].remove(w)
		}
	}

	var timeoutCh <-chan time.Time
	if blockMs > 0 {
		timer := time.NewTimer(time.Duration(blockMs) * time.Millisecond)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	cases := make([]chan any, len(waiters))
	for i, w := range waiters {
		cases[i] = w.ch
	}

	// select over a dynamic number of channels via reflect-free fan-in.
	type fanInResult struct {
		i int
		v any
	}
	fanIn := make(chan fanInResult, len(cases))
	for i, ch := range cases {
		go func(i int, ch chan any) {
			select {
			case v := <-ch:
				fanIn <- fanInResult{i, v}
			case <-ctx.Done():
			}
		}(i, ch)
	}

	select {
	case r := <-fanIn:
		ev := r.v.(StreamAppendedEvent)
		cleanup(r.i)
		return []XReadResult{{Key: ev.Key, Entries: ev.Entries}}, nil
	case <-timeoutCh:
		cleanup(-1)
		return nil, nil
	case <-ctx.Done():
		cleanup(-1)
		return nil, ctx.Err()
	}
}
