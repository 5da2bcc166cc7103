// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keyspace

import (
	"sync"
)

// Subscriber receives published messages on a buffered channel. A full
// buffer drops the message rather than blocking the publisher, the way a
// slow subscriber should never stall the rest of the system.
type Subscriber struct {
	ID uint64
	Ch chan PublishedMessage
}

// PublishedMessage is one delivery to a subscriber.
type PublishedMessage struct {
	Pattern string // empty for a direct channel subscription
	Channel string
	Payload []byte
}

type pubsubRegistry struct {
	mu       sync.Mutex
	channels map[string]map[uint64]*Subscriber
	patterns map[string]map[uint64]*Subscriber
	nextID   uint64
}

func newPubSubRegistry() *pubsubRegistry {
	return &pubsubRegistry{
		channels: make(map[string]map[uint64]*Subscriber),
		patterns: make(map[string]map[uint64]*Subscriber),
	}
}

// Subscribe registers sub under channel, creating the bucket if absent.
func (s *Store) Subscribe(channel string, sub *Subscriber) {
	s.pubsub.mu.Lock()
	defer s.pubsub.mu.Unlock()
	bucket, ok := s.pubsub.channels[channel]
	if !ok {
		bucket = make(map[uint64]*Subscriber)
		s.pubsub.channels[channel] = bucket
	}
	bucket[sub.ID] = sub
}

func (s *Store) Unsubscribe(channel string, id uint64) {
	s.pubsub.mu.Lock()
	defer s.pubsub.mu.Unlock()
	if bucket, ok := s.pubsub.channels[channel]; ok {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(s.pubsub.channels, channel)
		}
	}
}

func (s *Store) PSubscribe(pattern string, sub *Subscriber) {
	s.pubsub.mu.Lock()
	defer s.pubsub.mu.Unlock()
	bucket, ok := s.pubsub.patterns[pattern]
	if !ok {
		bucket = make(map[uint64]*Subscriber)
		s.pubsub.patterns[pattern] = bucket
	}
	bucket[sub.ID] = sub
}

func (s *Store) PUnsubscribe(pattern string, id uint64) {
	s.pubsub.mu.Lock()
	defer s.pubsub.mu.Unlock()
	if bucket, ok := s.pubsub.patterns[pattern]; ok {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(s.pubsub.patterns, pattern)
		}
	}
}

// NewSubscriberID hands out a process-unique subscriber ID.
func (s *Store) NewSubscriberID() uint64 {
	s.pubsub.mu.Lock()
	defer s.pubsub.mu.Unlock()
	s.pubsub.nextID++
	return s.pubsub.nextID
}

// Publish delivers payload to every direct subscriber of channel and every
// pattern subscriber whose glob matches it, returning the receiver count.
func (s *Store) Publish(channel string, payload []byte) int {
	s.pubsub.mu.Lock()
	defer s.pubsub.mu.Unlock()

	n := 0
	for _, sub := range s.pubsub.channels[channel] {
		select {
		case sub.Ch <- PublishedMessage{Channel: channel, Payload: payload}:
			n++
		default:
		}
	}
	for pattern, bucket := range s.pubsub.patterns {
		if !globMatch(pattern, channel) {
			continue
		}
		for _, sub := range bucket {
			select {
			case sub.Ch <- PublishedMessage{Pattern: pattern, Channel: channel, Payload: payload}:
				n++
			default:
			}
		}
	}
	return n
}

// globMatch supports '*' and '?' wildcards, the subset PSUBSCRIBE needs.
func globMatch(pattern, s string) bool {
	return globMatchRec(pattern, s)
}

func globMatchRec(p, s string) bool {
	for len(p) > 0 {
		switch p[0] {
		case '*':
			for len(p) > 1 && p[1] == '*' {
				p = p[1:]
			}
			if len(p) == 1 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatchRec(p[1:], s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			p, s = p[1:], s[1:]
		default:
			if len(s) == 0 || s[0] != p[0] {
				return false
			}
			p, s = p[1:], s[1:]
		}
	}
	return len(s) == 0
}
