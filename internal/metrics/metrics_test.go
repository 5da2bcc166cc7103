// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCommandsTotalIncrementsPerLabel(t *testing.T) {
	before := testutil.ToFloat64(CommandsTotal.WithLabelValues("GET"))
	CommandsTotal.WithLabelValues("GET").Inc()
	after := testutil.ToFloat64(CommandsTotal.WithLabelValues("GET"))
	assert.Equal(t, before+1, after)
}

func TestConnectedClientsGaugeTracksSet(t *testing.T) {
	ConnectedClients.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(ConnectedClients))
	ConnectedClients.Set(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(ConnectedClients))
}

func TestKeysGaugeTracksSet(t *testing.T) {
	Keys.Set(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(Keys))
}

func TestServeWithEmptyAddrIsANoOp(t *testing.T) {
	assert.NotPanics(t, func() { Serve("") })
}

func TestCommandsTotalNeverDecreasesAcrossASequence(t *testing.T) {
	cmds := []string{"XGET", "XSET", "XGET", "XINCR", "XGET", "XDEL"}
	last := make(map[string]float64)
	for _, c := range cmds {
		CommandsTotal.WithLabelValues(c).Inc()
		total := testutil.ToFloat64(CommandsTotal.WithLabelValues(c))
		assert.GreaterOrEqual(t, total, last[c])
		last[c] = total
	}
}
