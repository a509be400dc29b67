// Package ingest converts external bytes into telemetry arrivals and
// pushes them into the collector. Two source variants exist: the MQTT
// subscription feed and the polled serial debug stream. Both follow
// the same Start/Stop lifecycle and never let a malformed input
// terminate ingestion.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/sensorlab/sensorbench/internal/collector"
	"github.com/sensorlab/sensorbench/internal/models"
	"github.com/sensorlab/sensorbench/pkg/mqtt"
)

// EventSink receives every successfully decoded arrival, in order.
// Sink failures are logged and never propagate into ingestion.
type EventSink interface {
	Append(models.ArrivalEvent) error
	Close() error
}

// queueCapacity bounds the handoff between the paho callback and the
// decoding worker so a stalled consumer cannot grow memory unbounded.
const queueCapacity = 256

// rawArrival is a payload captured in the transport callback together
// with its receipt time. Decoding happens on the worker, not in the
// callback, so the transport is never blocked on analytics.
type rawArrival struct {
	payload    []byte
	receivedAt time.Time
}

// MQTTSource subscribes to one telemetry topic and feeds the collector.
type MQTTSource struct {
	broker   string
	clientID string
	caCert   string
	topic    string
	qos      int

	client    mqtt.MQTTClient
	collector *collector.Collector
	sinks     []EventSink
	logger    zerolog.Logger

	queue chan rawArrival

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMQTTSource initializes a new MQTTSource for the given broker and
// topic. Sinks may be nil.
func NewMQTTSource(broker, clientID, caCert, topic string, qos int,
	client mqtt.MQTTClient, col *collector.Collector, sinks []EventSink, logger zerolog.Logger) *MQTTSource {

	return &MQTTSource{
		broker:    broker,
		clientID:  clientID,
		caCert:    caCert,
		topic:     topic,
		qos:       qos,
		client:    client,
		collector: col,
		sinks:     sinks,
		logger:    logger,
	}
}

// Start connects to the broker (single attempt), subscribes on
// successful connection and launches the decoding worker.
func (s *MQTTSource) Start() error {
	if s.ctx != nil {
		s.logger.Warn().Msg("MQTTSource is already running")
		return errors.New("mqtt source is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.queue = make(chan rawArrival, queueCapacity)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runDecodeLoop()
	}()

	s.collector.SetConnectionState(models.StateConnecting)
	err := s.client.Connect(s.broker, s.clientID, s.caCert, s.onConnect, s.onConnectionLost)
	if err != nil {
		s.collector.SetConnectionState(models.StateFailed)
		s.cancel()
		s.wg.Wait()
		s.ctx = nil
		s.cancel = nil
		return err
	}

	s.logger.Info().Str("broker", s.broker).Str("topic", s.topic).Msg("MQTTSource started successfully")
	return nil
}

// Stop unsubscribes, disconnects and waits for the worker to drain.
func (s *MQTTSource) Stop() error {
	if s.ctx == nil {
		s.logger.Warn().Msg("MQTTSource is not running")
		return errors.New("mqtt source is not running")
	}

	if err := s.client.Unsubscribe(s.topic); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to unsubscribe")
	}
	s.client.Disconnect(250)

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("MQTTSource stopped successfully")
	return nil
}

// onConnect subscribes to the telemetry topic once the transport is up.
func (s *MQTTSource) onConnect(_ pahomqtt.Client) {
	s.collector.SetConnectionState(models.StateConnected)

	if err := s.client.Subscribe(s.topic, byte(s.qos), s.handleMessage); err != nil {
		s.logger.Error().Err(err).Str("topic", s.topic).Msg("Failed to subscribe")
		return
	}
	s.logger.Info().Str("topic", s.topic).Msg("Subscribed to telemetry topic")
}

// onConnectionLost surfaces transport loss as a state transition. No
// automatic retry: the session keeps reporting on whatever arrived.
func (s *MQTTSource) onConnectionLost(_ pahomqtt.Client, err error) {
	s.collector.SetConnectionState(models.StateDisconnected)
	s.logger.Warn().Err(err).Msg("MQTT connection lost")
}

// handleMessage runs in the paho callback goroutine. It records the
// receipt time and hands the raw payload to the worker.
func (s *MQTTSource) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	ctx := s.ctx
	if ctx == nil {
		return
	}

	arrival := rawArrival{payload: msg.Payload(), receivedAt: time.Now()}
	select {
	case s.queue <- arrival:
	case <-ctx.Done():
	default:
		s.logger.Warn().Msg("Ingest queue full, dropping payload")
	}
}

// runDecodeLoop is the single collector-owning worker: it decodes
// queued payloads in arrival order and pushes results or decode
// failures into the collector.
func (s *MQTTSource) runDecodeLoop() {
	for {
		select {
		case raw := <-s.queue:
			s.process(raw)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *MQTTSource) process(raw rawArrival) {
	event, err := DecodeTelemetry(raw.payload)
	if err != nil {
		s.collector.PushDecodeError(err)
		return
	}

	arrival := models.ArrivalEvent{Event: event, ReceivedAt: raw.receivedAt}
	s.collector.Push(arrival)

	for _, sink := range s.sinks {
		if err := sink.Append(arrival); err != nil {
			s.logger.Error().Err(err).Msg("Event sink write failed")
		}
	}
}

// DecodeTelemetry parses one JSON telemetry payload against the wire
// schema. Any malformed payload yields a DecodeError.
func DecodeTelemetry(payload []byte) (models.TelemetryEvent, error) {
	var event models.TelemetryEvent
	decoder := json.NewDecoder(bytes.NewReader(payload))
	if err := decoder.Decode(&event); err != nil {
		return models.TelemetryEvent{}, &models.DecodeError{Source: "mqtt", Err: err}
	}
	return event, nil
}
