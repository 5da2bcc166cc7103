// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/cc-kv/cc-kvstore/internal/util"
	cclog "github.com/cc-kv/cc-kvstore/log"
)

// Options is the effective server configuration.
type Options struct {
	Port        int    `json:"port"`
	Dir         string `json:"dir"`
	DBFilename  string `json:"dbfilename"`
	RequirePass string `json:"requirepass"`
	ReplicaOf   string `json:"replicaof"`
	MetricsAddr string `json:"metrics-addr"`
	LogLevel    string `json:"loglevel"`
}

// Keys holds CLI flag defaults first, then overridden by an optional
// JSON config file layered as a struct literal of defaults under a
// JSON decode.
var Keys Options = Options{
	Port:       6380,
	Dir:        ".",
	DBFilename: "dump.rdb",
	LogLevel:   "info",
}

// LoadDotEnv reads key=value pairs from path into the process
// environment, a no-op if the file does not exist.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Init overlays an optional JSON config file onto Keys, validating it
// against the embedded schema first.
func Init(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			cclog.Fatal(err)
		}
		return
	}
	if err := validate(bytes.NewReader(raw)); err != nil {
		cclog.Fatalf("config: validate: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		cclog.Fatal(err)
	}
}

// reloadListener re-runs Init against the same path whenever the watcher
// reports the config file changed, so Keys follows the edited file.
// Settings that bring-up already applied (port, dir, log level, ...) are
// not re-applied.
type reloadListener struct{ path string }

func (l reloadListener) EventCallback() {
	cclog.Infof("[CONFIG]> reloading %s", l.path)
	Init(l.path)
}

func (l reloadListener) EventMatch(event string) bool {
	return strings.Contains(event, "WRITE") || strings.Contains(event, "CREATE")
}

// WatchForChanges starts watching path for edits and reloads Keys from it
// whenever the file changes.
func WatchForChanges(path string) {
	util.AddListener(path, reloadListener{path: path})
}
