// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package command maps a decoded RESP array into a typed command variant,
// validating arity, argument kinds and option keywords before the
// dispatcher ever sees it.
package command

import (
	"fmt"
	"strings"
)

// Kind is the closed sum-type tag the dispatcher switches on exhaustively.
type Kind int

const (
	Unknown Kind = iota
	Ping
	Echo
	Set
	Get
	Del
	Incr
	TypeCmd
	Keys

	RPush
	LPush
	LRange
	LLen
	LPop
	BLPop

	XAdd
	XRange
	XRead

	ZAdd
	ZRange
	ZRank
	ZCard
	ZScore
	ZRangeByScore

	GeoAdd
	GeoPos
	GeoDist
	GeoSearch

	Multi
	Exec
	Discard

	Subscribe
	Unsubscribe
	PSubscribe
	PUnsubscribe
	Publish

	Info
	ReplConf
	PSync
	Wait

	Acl
	Auth
	ConfigCmd

	Hello
	Quit
)

var names = map[string]Kind{
	"PING": Ping, "ECHO": Echo, "SET": Set, "GET": Get, "DEL": Del,
	"INCR": Incr, "TYPE": TypeCmd, "KEYS": Keys,
	"RPUSH": RPush, "LPUSH": LPush, "LRANGE": LRange, "LLEN": LLen,
	"LPOP": LPop, "BLPOP": BLPop,
	"XADD": XAdd, "XRANGE": XRange, "XREAD": XRead,
	"ZADD": ZAdd, "ZRANGE": ZRange, "ZRANK": ZRank, "ZCARD": ZCard,
	"ZSCORE": ZScore, "ZRANGEBYSCORE": ZRangeByScore,
	"GEOADD": GeoAdd, "GEOPOS": GeoPos, "GEODIST": GeoDist, "GEOSEARCH": GeoSearch,
	"MULTI": Multi, "EXEC": Exec, "DISCARD": Discard,
	"SUBSCRIBE": Subscribe, "UNSUBSCRIBE": Unsubscribe,
	"PSUBSCRIBE": PSubscribe, "PUNSUBSCRIBE": PUnsubscribe, "PUBLISH": Publish,
	"INFO": Info, "REPLCONF": ReplConf, "PSYNC": PSync, "WAIT": Wait,
	"ACL": Acl, "AUTH": Auth, "CONFIG": ConfigCmd,
	"HELLO": Hello, "QUIT": Quit,
}

// minArity is the minimum total argument count (including the command name
// itself) accepted for each kind. Commands with variadic tails only bound
// the floor here; upper bounds and keyword validation happen in Decode.
var minArity = map[Kind]int{
	Ping: 1, Echo: 2, Set: 3, Get: 2, Del: 2, Incr: 2, TypeCmd: 2, Keys: 2,
	RPush: 3, LPush: 3, LRange: 4, LLen: 2, LPop: 2, BLPop: 3,
	XAdd: 5, XRange: 4, XRead: 4,
	ZAdd: 4, ZRange: 4, ZRank: 3, ZCard: 2, ZScore: 3, ZRangeByScore: 4,
	GeoAdd: 5, GeoPos: 2, GeoDist: 4, GeoSearch: 7,
	Multi: 1, Exec: 1, Discard: 1,
	Subscribe: 2, Unsubscribe: 1, PSubscribe: 2, PUnsubscribe: 1, Publish: 3,
	Info: 1, ReplConf: 1, PSync: 3, Wait: 3,
	Acl: 2, Auth: 2, ConfigCmd: 3,
	Hello: 1, Quit: 1,
}

// Command is the decoded, arity-checked representation of one client
// request. Dispatch-time parsing of command-specific options (SET's
// EX/PX, XREAD's BLOCK/STREAMS, ...) happens via the Parse* helpers in
// this package so that decoding stays a thin, exhaustively-validated gate.
type Command struct {
	Kind Kind
	Name string   // command name, upper-cased
	Args [][]byte // arguments after the command name, verbatim
}

// Error is returned for any decode-time failure: unknown command, wrong
// arity, or a malformed option keyword. Reason already starts with "ERR ",
// and Error returns it unchanged as the RESP error text.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func errf(format string, args ...any) error {
	return &Error{Reason: "ERR " + fmt.Sprintf(format, args...)}
}

// Decode validates a flat list of bulk-string arguments (the caller has
// already unwrapped the RESP array) into a Command.
func Decode(parts [][]byte) (Command, error) {
	if len(parts) == 0 {
		return Command{}, errf("unknown command ''")
	}
	name := string(parts[0])
	upper := strings.ToUpper(name)
	kind, ok := names[upper]
	if !ok {
		return Command{}, errf("unknown command '%s'", name)
	}
	if len(parts) < minArity[kind] {
		return Command{}, errf("wrong number of arguments for '%s' command", name)
	}
	return Command{Kind: kind, Name: upper, Args: parts[1:]}, nil
}
