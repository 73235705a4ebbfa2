package sensor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeTemperatures(t *testing.T) {
	f := NewFake([]float64{90, 91})

	v, fresh, err := f.ReadTemperature()
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, 90.0, v)

	v, fresh, _ = f.ReadTemperature()
	assert.True(t, fresh)
	assert.Equal(t, 91.0, v)

	v, fresh, _ = f.ReadTemperature()
	assert.False(t, fresh, "exhausted script repeats as stale")
	assert.Equal(t, 91.0, v)
}

func TestFakeNoTemperatures(t *testing.T) {
	f := NewFake(nil)
	_, _, err := f.ReadTemperature()
	assert.Error(t, err)
}

func TestFakeError(t *testing.T) {
	f := NewFake([]float64{90})
	f.ReadError = errors.New("bridge offline")

	_, _, err := f.ReadTemperature()
	assert.EqualError(t, err, "bridge offline")
	_, _, err = f.ReadWeight()
	assert.Error(t, err)
}

func TestFakeWeight(t *testing.T) {
	f := NewFake(nil)
	f.SetWeight(12, 13)

	left, right, err := f.ReadWeight()
	require.NoError(t, err)
	assert.Equal(t, 12.0, left)
	assert.Equal(t, 13.0, right)
}
