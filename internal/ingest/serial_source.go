package ingest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensorlab/sensorbench/internal/collector"
	"github.com/sensorlab/sensorbench/internal/models"
	"github.com/tarm/serial"
)

// ReadCloser is the minimal serial-port surface the source needs;
// satisfied by *serial.Port and by in-memory fakes in tests.
type ReadCloser interface {
	io.Reader
	io.Closer
}

// OpenSerialPort opens the device's debug UART with a read timeout of
// one poll interval so the drain loop never blocks past its cadence.
func OpenSerialPort(port string, baud int, pollInterval time.Duration) (ReadCloser, error) {
	return serial.OpenPort(&serial.Config{
		Name:        port,
		Baud:        baud,
		ReadTimeout: pollInterval,
	})
}

// SerialSource drains the firmware's line-oriented debug stream at a
// fixed poll cadence and extracts performance markers into the
// collector. Lines matching no marker are ignored.
type SerialSource struct {
	port         ReadCloser
	pollInterval time.Duration
	extractors   []LineExtractor
	collector    *collector.Collector
	logger       zerolog.Logger

	pending strings.Builder // partial line carried across polls

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSerialSource initializes a SerialSource over an open port.
func NewSerialSource(port ReadCloser, pollInterval time.Duration,
	col *collector.Collector, logger zerolog.Logger) *SerialSource {

	return &SerialSource{
		port:         port,
		pollInterval: pollInterval,
		extractors:   DefaultExtractors(),
		collector:    col,
		logger:       logger,
	}
}

// Start launches the poll loop.
func (s *SerialSource) Start() error {
	if s.ctx != nil {
		s.logger.Warn().Msg("SerialSource is already running")
		return errors.New("serial source is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runPollLoop()
	}()

	s.logger.Info().Dur("poll_interval", s.pollInterval).Msg("SerialSource started successfully")
	return nil
}

// Stop halts polling and closes the port.
func (s *SerialSource) Stop() error {
	if s.ctx == nil {
		s.logger.Warn().Msg("SerialSource is not running")
		return errors.New("serial source is not running")
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	if err := s.port.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to close serial port")
	}

	s.logger.Info().Msg("SerialSource stopped successfully")
	return nil
}

// runPollLoop drains available bytes every poll interval.
func (s *SerialSource) runPollLoop() {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	buf := make([]byte, 4096)

	for {
		select {
		case <-ticker.C:
			n, err := s.port.Read(buf)
			if err != nil && err != io.EOF {
				s.logger.Warn().Err(err).Msg("Serial read failed")
				continue
			}
			if n > 0 {
				s.consume(string(buf[:n]))
			}
		case <-s.ctx.Done():
			s.logger.Info().Msg("SerialSource stopping gracefully")
			return
		}
	}
}

// consume appends drained bytes to the pending buffer and parses every
// complete line.
func (s *SerialSource) consume(chunk string) {
	s.pending.WriteString(chunk)

	text := s.pending.String()
	lines := strings.Split(text, "\n")

	// The last element is an incomplete line; carry it over.
	s.pending.Reset()
	s.pending.WriteString(lines[len(lines)-1])

	for _, line := range lines[:len(lines)-1] {
		s.parseLine(strings.TrimRight(line, "\r"))
	}
}

// parseLine applies every extractor to one debug line. Malformed
// numeric fields are counted as decode failures but never stop the
// stream.
func (s *SerialSource) parseLine(line string) {
	if line == "" {
		return
	}

	for _, ex := range s.extractors {
		value, matched, err := ex.Extract(line)
		if !matched {
			continue
		}
		if err != nil {
			s.collector.PushDecodeError(&models.DecodeError{Source: "serial", Err: err})
			continue
		}
		ex.Apply(s.collector, value)
	}
}
