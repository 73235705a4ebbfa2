// Package sensor provides boiler temperature and drip-tray weight sources.
package sensor

// TemperatureSource delivers boiler temperature readings in °C.
type TemperatureSource interface {
	// ReadTemperature returns the latest value and whether it is new since
	// the previous call.
	ReadTemperature() (value float64, fresh bool, err error)
}

// WeightSource delivers the raw readings of the two load cells under the
// drip tray.
type WeightSource interface {
	ReadWeight() (left, right float64, err error)
}

// Ensure the implementations satisfy the interfaces.
var (
	_ TemperatureSource = (*Serial)(nil)
	_ WeightSource      = (*Serial)(nil)
	_ TemperatureSource = (*Sim)(nil)
	_ WeightSource      = (*Sim)(nil)
	_ TemperatureSource = (*Fake)(nil)
	_ WeightSource      = (*Fake)(nil)
)
