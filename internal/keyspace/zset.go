// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keyspace

import (
	"sort"
	"strconv"
)

// zsetData holds a sorted-set value as a member->score index plus a slice
// kept sorted by (score, member) for range queries. A real deployment would
// want a skip list for O(log n) insert; a sorted slice with binary search
// is the one open question resolved for time's sake (see DESIGN.md) since
// the expected member counts here are small.
type zsetData struct {
	byMember map[string]float64
	sorted   []zsetMember
}

type zsetMember struct {
	member string
	score  float64
}

func newZSetData() *zsetData {
	return &zsetData{byMember: make(map[string]float64)}
}

func lessMember(a, b zsetMember) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.member < b.member
}

func (z *zsetData) insertSorted(m zsetMember) {
	i := sort.Search(len(z.sorted), func(i int) bool { return !lessMember(z.sorted[i], m) })
	z.sorted = append(z.sorted, zsetMember{})
	copy(z.sorted[i+1:], z.sorted[i:])
	z.sorted[i] = m
}

func (z *zsetData) removeSorted(m zsetMember) {
	i := sort.Search(len(z.sorted), func(i int) bool { return !lessMember(z.sorted[i], m) })
	if i < len(z.sorted) && z.sorted[i] == m {
		z.sorted = append(z.sorted[:i], z.sorted[i+1:]...)
	}
}

func (s *Store) zsetEntryLocked(sh *shard, key string, createIfAbsent bool) (*entry, error) {
	now := nowMs()
	sh.expireIfNeeded(key, now)
	e, ok := sh.data[key]
	if !ok {
		if !createIfAbsent {
			return nil, nil
		}
		e = &entry{kind: KindZSet, zset: newZSetData()}
		sh.data[key] = e
		return e, nil
	}
	if e.kind != KindZSet {
		return nil, ErrWrongType
	}
	return e, nil
}

// ZAdd inserts or updates member's score, returning 1 if member is new,
// 0 if it already existed (the plain, no-flags ZADD semantics).
func (s *Store) ZAdd(key string, member string, score float64) (int, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, err := s.zsetEntryLocked(sh, key, true)
	if err != nil {
		return 0, err
	}
	if old, exists := e.zset.byMember[member]; exists {
		e.zset.removeSorted(zsetMember{member, old})
		e.zset.byMember[member] = score
		e.zset.insertSorted(zsetMember{member, score})
		return 0, nil
	}
	e.zset.byMember[member] = score
	e.zset.insertSorted(zsetMember{member, score})
	return 1, nil
}

// ZRange returns members in ascending score order within a clamped index
// range, mirroring list index semantics.
func (s *Store) ZRange(key string, start, stop int) ([]string, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, err := s.zsetEntryLocked(sh, key, false)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	n := len(e.zset.sorted)
	lo, hi := clampRange(start, stop, n)
	if lo > hi {
		return nil, nil
	}
	out := make([]string, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, e.zset.sorted[i].member)
	}
	return out, nil
}

// ZRank returns member's 0-based rank in ascending score order.
func (s *Store) ZRank(key, member string) (rank int, found bool, err error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, err := s.zsetEntryLocked(sh, key, false)
	if err != nil {
		return 0, false, err
	}
	if e == nil {
		return 0, false, nil
	}
	score, ok := e.zset.byMember[member]
	if !ok {
		return 0, false, nil
	}
	target := zsetMember{member, score}
	for i, m := range e.zset.sorted {
		if m == target {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// ZCard returns the number of members.
func (s *Store) ZCard(key string) (int, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, err := s.zsetEntryLocked(sh, key, false)
	if err != nil {
		return 0, err
	}
	if e == nil {
		return 0, nil
	}
	return len(e.zset.sorted), nil
}

// ZScore returns member's score, found=false if absent.
func (s *Store) ZScore(key, member string) (score float64, found bool, err error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, err := s.zsetEntryLocked(sh, key, false)
	if err != nil {
		return 0, false, err
	}
	if e == nil {
		return 0, false, nil
	}
	score, found = e.zset.byMember[member]
	return score, found, nil
}

// ZRangeByScore returns members whose score falls within [min, max].
func (s *Store) ZRangeByScore(key string, min, max float64) ([]string, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, err := s.zsetEntryLocked(sh, key, false)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	var out []string
	for _, m := range e.zset.sorted {
		if m.score < min {
			continue
		}
		if m.score > max {
			break
		}
		out = append(out, m.member)
	}
	return out, nil
}

// FormatScore renders a score the way RESP bulk-string replies expect:
// integral scores with no decimal point, otherwise a trimmed decimal.
func FormatScore(score float64) string {
	if score == float64(int64(score)) {
		return strconv.FormatInt(int64(score), 10)
	}
	return strconv.FormatFloat(score, 'f', -1, 64)
}
