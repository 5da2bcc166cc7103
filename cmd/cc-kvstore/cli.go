// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import "flag"

type cliFlags struct {
	Port        int
	Dir         string
	DBFilename  string
	RequirePass string
	ReplicaOf   string
	ConfigFile  string
	MetricsAddr string
	LogLevel    string
	Gops        bool
	User        string
	Group       string
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.IntVar(&f.Port, "port", 0, "TCP port to listen on (overrides the config file)")
	flag.StringVar(&f.Dir, "dir", "", "Directory for the snapshot file (overrides the config file)")
	flag.StringVar(&f.DBFilename, "dbfilename", "", "Snapshot file name (overrides the config file)")
	flag.StringVar(&f.RequirePass, "requirepass", "", "Require clients to AUTH with this password")
	flag.StringVar(&f.ReplicaOf, "replicaof", "", "Run as a replica of `host:port`")
	flag.StringVar(&f.ConfigFile, "config", "", "Location of an optional JSON config file")
	flag.StringVar(&f.MetricsAddr, "metrics-addr", "", "Address to serve Prometheus /metrics on, empty disables it")
	flag.StringVar(&f.LogLevel, "loglevel", "", "One of debug, info, warn, err, crit (overrides the config file)")
	flag.BoolVar(&f.Gops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&f.User, "user", "", "Drop root privileges to this user once the listening port is bound")
	flag.StringVar(&f.Group, "group", "", "Drop root privileges to this group once the listening port is bound")
	flag.Parse()
	return f
}
