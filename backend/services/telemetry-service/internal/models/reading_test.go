package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadingSeriesOrdering(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	series := ReadingSeries{
		{DeviceID: "A1", Timestamp: base.Add(2 * time.Hour), VolumeM3: 3},
		{DeviceID: "A1", Timestamp: base.Add(time.Hour), VolumeM3: 2},
		{DeviceID: "A1", Timestamp: base, VolumeM3: 1},
	}

	latest, ok := series.Latest()
	require.True(t, ok)
	assert.Equal(t, 3.0, latest.VolumeM3)

	asc := series.Ascending()
	require.Len(t, asc, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{asc[0].VolumeM3, asc[1].VolumeM3, asc[2].VolumeM3})
	assert.Equal(t, 3.0, series[0].VolumeM3, "source series is left untouched")
}

func TestReadingSeriesEmpty(t *testing.T) {
	var series ReadingSeries
	_, ok := series.Latest()
	assert.False(t, ok)
	assert.Empty(t, series.Ascending())
}
