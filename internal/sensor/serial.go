package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// DefaultBaudRate is the baud rate of the sensor bridge MCU.
const DefaultBaudRate = 115200

// ErrNoData is returned until the bridge has reported a value.
var ErrNoData = errors.New("sensor: no data yet")

// reading is one parsed line from the bridge.
type reading struct {
	kind  byte // 'T' or 'W'
	temp  float64
	left  float64
	right float64
}

// Serial reads the sensor bridge over a serial port. The bridge prints one
// line per measurement:
//
//	T,<celsius>
//	W,<left>,<right>
type Serial struct {
	port     string
	baudRate int

	conn      serial.Port
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool

	temp      float64
	tempFresh bool
	tempSeen  bool

	left       float64
	right      float64
	weightSeen bool
}

// NewSerial creates a bridge reader for the given port.
func NewSerial(port string, baudRate int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Serial{
		port:     port,
		baudRate: baudRate,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect opens the serial port and starts reading lines.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(s.port, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.port, err)
	}

	s.conn = port
	s.connected = true

	go s.consume(port)

	return nil
}

// Close stops reading and closes the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}

	s.cancel()

	var err error
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil {
			err = fmt.Errorf("close serial port: %w", cerr)
		}
		s.conn = nil
	}
	s.connected = false
	return err
}

// ReadTemperature returns the latest temperature. fresh is true only for
// the first read after a new line arrived.
func (s *Serial) ReadTemperature() (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tempSeen {
		return 0, false, ErrNoData
	}
	fresh := s.tempFresh
	s.tempFresh = false
	return s.temp, fresh, nil
}

// ReadWeight returns the latest load-cell readings.
func (s *Serial) ReadWeight() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.weightSeen {
		return 0, 0, ErrNoData
	}
	return s.left, s.right, nil
}

// consume reads lines until the reader fails or the context is cancelled.
func (s *Serial) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
				log.Errorf("Error reading from sensor bridge: %v", err)
			}
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		rd, err := parseLine(line)
		if err != nil {
			log.Debugf("Failed to parse line '%s': %v", line, err)
			continue
		}
		s.store(rd)
	}
}

func (s *Serial) store(rd reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch rd.kind {
	case 'T':
		s.temp = rd.temp
		s.tempFresh = true
		s.tempSeen = true
	case 'W':
		s.left = rd.left
		s.right = rd.right
		s.weightSeen = true
	}
}

// parseLine parses one bridge line.
// Format: T,<celsius> or W,<left>,<right>
// Example: T,93.25
func parseLine(line string) (reading, error) {
	parts := strings.Split(line, ",")
	switch parts[0] {
	case "T":
		if len(parts) != 2 {
			return reading{}, fmt.Errorf("invalid temperature line: expected 2 fields, got %d", len(parts))
		}
		v, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return reading{}, fmt.Errorf("invalid temperature: %w", err)
		}
		return reading{kind: 'T', temp: v}, nil
	case "W":
		if len(parts) != 3 {
			return reading{}, fmt.Errorf("invalid weight line: expected 3 fields, got %d", len(parts))
		}
		left, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return reading{}, fmt.Errorf("invalid left weight: %w", err)
		}
		right, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return reading{}, fmt.Errorf("invalid right weight: %w", err)
		}
		return reading{kind: 'W', left: left, right: right}, nil
	}
	return reading{}, fmt.Errorf("unknown line type %q", parts[0])
}
