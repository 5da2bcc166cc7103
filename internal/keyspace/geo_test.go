// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keyspace

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeoAddAndPosRoundTrip(t *testing.T) {
	s := New()
	n, err := s.GeoAdd("places", "berlin", 13.4050, 52.5200)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	lon, lat, found, err := s.GeoPos("places", "berlin")
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 13.4050, lon, 1e-3)
	assert.InDelta(t, 52.5200, lat, 1e-3)
}

func TestGeoPosMissingMember(t *testing.T) {
	s := New()
	_, _, found, err := s.GeoPos("places", "nowhere")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGeoAddRejectsOutOfRangeCoordinates(t *testing.T) {
	s := New()
	_, err := s.GeoAdd("places", "bad", 200, 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
}

func TestGeoDistBetweenKnownPoints(t *testing.T) {
	s := New()
	_, _ = s.GeoAdd("places", "berlin", 13.4050, 52.5200)
	_, _ = s.GeoAdd("places", "paris", 2.3522, 48.8566)

	meters, found, err := s.GeoDist("places", "berlin", "paris")
	require.NoError(t, err)
	require.True(t, found)
	// Straight-line distance Berlin-Paris is roughly 880km.
	assert.InDelta(t, 880000, meters, 20000)
}

func TestGeoSearchOrdersByDistance(t *testing.T) {
	s := New()
	_, _ = s.GeoAdd("places", "near", 13.40, 52.52)
	_, _ = s.GeoAdd("places", "far", 2.35, 48.85)
	_, _ = s.GeoAdd("places", "center", 13.405, 52.520)

	results, err := s.GeoSearch("places", 13.405, 52.520, 50000)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "center", results[0].Member)
	assert.Equal(t, "near", results[1].Member)
	assert.Less(t, results[0].DistanceM, results[1].DistanceM)
}

func TestGeoEncodeDecodeApproximatelyRoundTrips(t *testing.T) {
	code, err := geoEncode(13.4050, 52.5200)
	require.NoError(t, err)
	lon, lat := geoDecode(code)
	assert.True(t, math.Abs(lon-13.4050) < 1e-3)
	assert.True(t, math.Abs(lat-52.5200) < 1e-3)
}
