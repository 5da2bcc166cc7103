// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package command

import (
	"strconv"
	"strings"
)

// SetOptions holds SET's optional EX/PX expiry modifier.
type SetOptions struct {
	Key        []byte
	Value      []byte
	ExpiryMs   int64 // only meaningful when HasExpiry is true
	HasExpiry  bool
}

func ParseSet(args [][]byte) (SetOptions, error) {
	opt := SetOptions{Key: args[0], Value: args[1]}
	i := 2
	for i < len(args) {
		switch strings.ToUpper(string(args[i])) {
		case "EX":
			if i+1 >= len(args) {
				return opt, errf("syntax error")
			}
			secs, err := strconv.ParseInt(string(args[i+1]), 10, 64)
			if err != nil {
				return opt, errf("value is not an integer or out of range")
			}
			opt.ExpiryMs = secs * 1000
			opt.HasExpiry = true
			i += 2
		case "PX":
			if i+1 >= len(args) {
				return opt, errf("syntax error")
			}
			ms, err := strconv.ParseInt(string(args[i+1]), 10, 64)
			if err != nil {
				return opt, errf("value is not an integer or out of range")
			}
			opt.ExpiryMs = ms
			opt.HasExpiry = true
			i += 2
		default:
			return opt, errf("syntax error")
		}
	}
	return opt, nil
}

// XReadOptions holds XREAD's optional BLOCK modifier and the parallel
// streams/ids lists that follow the STREAMS keyword.
type XReadOptions struct {
	BlockMs   int64
	Blocking  bool
	Streams   [][]byte
	IDs       [][]byte
}

func ParseXRead(args [][]byte) (XReadOptions, error) {
	var opt XReadOptions
	i := 0
	for i < len(args) {
		switch strings.ToUpper(string(args[i])) {
		case "BLOCK":
			if i+1 >= len(args) {
				return opt, errf("syntax error")
			}
			ms, err := strconv.ParseInt(string(args[i+1]), 10, 64)
			if err != nil {
				return opt, errf("timeout is not an integer or out of range")
			}
			opt.Blocking = true
			opt.BlockMs = ms
			i += 2
		case "STREAMS":
			rest := args[i+1:]
			if len(rest)%2 != 0 || len(rest) == 0 {
				return opt, errf("Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified.")
			}
			half := len(rest) / 2
			opt.Streams = rest[:half]
			opt.IDs = rest[half:]
			return opt, nil
		default:
			return opt, errf("syntax error")
		}
	}
	return opt, errf("syntax error")
}

// ReplConfIsGetAck reports whether a REPLCONF invocation is the leader's
// "GETACK *" probe rather than a listening-port/capa handshake field.
func ReplConfIsGetAck(args [][]byte) bool {
	return len(args) >= 1 && strings.EqualFold(string(args[0]), "GETACK")
}

// GeoSearchOptions holds GEOSEARCH's FROMLONLAT/BYRADIUS clauses. Only
// this radius-search form is supported, not the BYBOX or ASC/DESC
// variants.
type GeoSearchOptions struct {
	Key         []byte
	Longitude   float64
	Latitude    float64
	RadiusMeter float64
}

func ParseGeoSearch(args [][]byte) (GeoSearchOptions, error) {
	var opt GeoSearchOptions
	if len(args) < 7 {
		return opt, errf("syntax error")
	}
	opt.Key = args[0]
	if !strings.EqualFold(string(args[1]), "FROMLONLAT") {
		return opt, errf("syntax error")
	}
	lon, err := strconv.ParseFloat(string(args[2]), 64)
	if err != nil {
		return opt, errf("value is not a valid float")
	}
	lat, err := strconv.ParseFloat(string(args[3]), 64)
	if err != nil {
		return opt, errf("value is not a valid float")
	}
	if !strings.EqualFold(string(args[4]), "BYRADIUS") {
		return opt, errf("syntax error")
	}
	radius, err := strconv.ParseFloat(string(args[5]), 64)
	if err != nil {
		return opt, errf("value is not a valid float")
	}
	unit := strings.ToLower(string(args[6]))
	switch unit {
	case "m":
	case "km":
		radius *= 1000
	default:
		return opt, errf("unsupported unit provided. please use M, KM")
	}
	opt.Longitude, opt.Latitude, opt.RadiusMeter = lon, lat, radius
	return opt, nil
}
