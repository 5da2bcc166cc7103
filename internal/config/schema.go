// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads optional JSON configuration for the server,
// validating it against an embedded schema the way pkg/schema validates
// job metadata and cluster configuration documents.
package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*
var schemaFiles embed.FS

func loadSchemaFile(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Path)
}

func init() {
	jsonschema.Loaders["embedFS"] = loadSchemaFile
}

func validate(r io.Reader) error {
	s, err := jsonschema.Compile("embedFS://schemas/config.schema.json")
	if err != nil {
		return err
	}
	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return fmt.Errorf("config: decode: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
