package sensor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    reading
		wantErr bool
	}{
		{
			name: "temperature",
			line: "T,93.25",
			want: reading{kind: 'T', temp: 93.25},
		},
		{
			name: "negative temperature",
			line: "T,-1.5",
			want: reading{kind: 'T', temp: -1.5},
		},
		{
			name: "weight",
			line: "W,1021.5,998",
			want: reading{kind: 'W', left: 1021.5, right: 998},
		},
		{
			name:    "temperature missing value",
			line:    "T",
			wantErr: true,
		},
		{
			name:    "temperature not a number",
			line:    "T,hot",
			wantErr: true,
		},
		{
			name:    "weight missing right",
			line:    "W,10",
			wantErr: true,
		},
		{
			name:    "weight bad right",
			line:    "W,10,x",
			wantErr: true,
		},
		{
			name:    "unknown type",
			line:    "P,1.2",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSerialNoDataBeforeFirstLine(t *testing.T) {
	s := NewSerial("/dev/null", 0)

	_, _, err := s.ReadTemperature()
	assert.ErrorIs(t, err, ErrNoData)

	_, _, err = s.ReadWeight()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestSerialConsume(t *testing.T) {
	s := NewSerial("/dev/null", 0)
	input := strings.Join([]string{
		"T,90.0",
		"",
		"garbage",
		"W,100,200",
		"T,91.5",
	}, "\n")

	s.consume(strings.NewReader(input))

	v, fresh, err := s.ReadTemperature()
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, 91.5, v)

	v, fresh, err = s.ReadTemperature()
	require.NoError(t, err)
	assert.False(t, fresh, "second read without a new line must be stale")
	assert.Equal(t, 91.5, v)

	left, right, err := s.ReadWeight()
	require.NoError(t, err)
	assert.Equal(t, 100.0, left)
	assert.Equal(t, 200.0, right)
}

func TestSerialConsumeStopsWhenClosed(t *testing.T) {
	s := NewSerial("/dev/null", 0)
	s.cancel()

	s.consume(strings.NewReader("T,90\n"))

	_, _, err := s.ReadTemperature()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestSerialCloseWithoutConnect(t *testing.T) {
	s := NewSerial("/dev/null", 0)
	assert.NoError(t, s.Close())
}

func TestNewSerialDefaultBaud(t *testing.T) {
	s := NewSerial("/dev/ttyUSB0", 0)
	assert.Equal(t, DefaultBaudRate, s.baudRate)
}
