package ingest

import (
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/sensorlab/sensorbench/internal/collector"
	"github.com/sensorlab/sensorbench/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockMQTTClient is a mock implementation of the mqtt.MQTTClient interface.
type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) Connect(broker, clientID, caCertPath string, onConnect pahomqtt.OnConnectHandler, onLost pahomqtt.ConnectionLostHandler) error {
	args := m.Called(broker, clientID, caCertPath, onConnect, onLost)
	return args.Error(0)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) error {
	args := m.Called(topic, qos, callback)
	return args.Error(0)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) error {
	args := m.Called(topics)
	return args.Error(0)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

// MockMessage is a mock implementation of the paho Message interface.
type MockMessage struct {
	payload []byte
	topic   string
}

func (m *MockMessage) Duplicate() bool   { return false }
func (m *MockMessage) Qos() byte         { return 0 }
func (m *MockMessage) Retained() bool    { return false }
func (m *MockMessage) Topic() string     { return m.topic }
func (m *MockMessage) MessageID() uint16 { return 0 }
func (m *MockMessage) Payload() []byte   { return m.payload }
func (m *MockMessage) Ack()              {}

// startSource wires a source against a mock client that connects
// immediately and captures the subscription callback.
func startSource(t *testing.T, col *collector.Collector, sinks []EventSink) (*MQTTSource, *MockMQTTClient, *pahomqtt.MessageHandler) {
	t.Helper()

	client := new(MockMQTTClient)
	var handler pahomqtt.MessageHandler

	client.On("Subscribe", "test/telemetry", byte(1), mock.Anything).
		Run(func(args mock.Arguments) {
			handler = args.Get(2).(pahomqtt.MessageHandler)
		}).Return(nil)

	client.On("Connect", "tcp://broker:1883", "client-1", "", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			onConnect := args.Get(3).(pahomqtt.OnConnectHandler)
			onConnect(nil)
		}).Return(nil)

	source := NewMQTTSource("tcp://broker:1883", "client-1", "", "test/telemetry", 1,
		client, col, sinks, zerolog.Nop())

	assert.NoError(t, source.Start())
	assert.NotNil(t, handler)

	return source, client, &handler
}

func stopSource(t *testing.T, source *MQTTSource, client *MockMQTTClient) {
	t.Helper()
	client.On("Unsubscribe", []string{"test/telemetry"}).Return(nil)
	client.On("Disconnect", uint(250)).Return()
	assert.NoError(t, source.Stop())
}

// TestMQTTSource_DeliversEvents runs a payload through the bounded
// queue and the decoding worker into the collector.
func TestMQTTSource_DeliversEvents(t *testing.T) {
	col := collector.New(100, zerolog.Nop())
	source, client, handler := startSource(t, col, nil)

	payload := []byte(`{"sequence":1,"timestamp":123,"system_status":"RUNNING","cpu_usage":41.5,"free_heap":30000,` +
		`"sensor_data":{"accel_x":0.1,"accel_y":0.2,"accel_z":9.8,"gyro_x":0,"gyro_y":0,"gyro_z":0,` +
		`"pressure":1013.2,"temperature":22.1,"humidity":45.0,"data_valid":true}}`)
	(*handler)(nil, &MockMessage{payload: payload, topic: "test/telemetry"})

	assert.Eventually(t, func() bool {
		return col.Snapshot().Stats.TotalMessages == 1
	}, time.Second, 2*time.Millisecond)

	snap := col.Snapshot()
	assert.Equal(t, models.StateConnected, snap.Stats.ConnectionState)
	assert.Equal(t, []float64{41.5}, snap.CPUUsage)
	assert.Equal(t, []float64{30000}, snap.FreeHeap)
	assert.Equal(t, []float64{9.8}, snap.AccelZ)

	stopSource(t, source, client)
	client.AssertExpectations(t)
}

// TestMQTTSource_MalformedPayload counts the decode error and keeps
// the scalar series untouched.
func TestMQTTSource_MalformedPayload(t *testing.T) {
	col := collector.New(100, zerolog.Nop())
	source, client, handler := startSource(t, col, nil)

	(*handler)(nil, &MockMessage{payload: []byte(`{not json`), topic: "test/telemetry"})
	(*handler)(nil, &MockMessage{payload: []byte(`{"sequence":2}`), topic: "test/telemetry"})

	assert.Eventually(t, func() bool {
		snap := col.Snapshot()
		return snap.Stats.DecodeErrors == 1 && snap.Stats.TotalMessages == 1
	}, time.Second, 2*time.Millisecond)

	assert.Empty(t, col.Snapshot().LatencyMs)

	stopSource(t, source, client)
}

// TestMQTTSource_ConnectFailure: a failed single connection attempt
// surfaces as the Failed state and an error from Start.
func TestMQTTSource_ConnectFailure(t *testing.T) {
	col := collector.New(100, zerolog.Nop())
	client := new(MockMQTTClient)
	client.On("Connect", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("connection refused"))

	source := NewMQTTSource("tcp://broker:1883", "client-1", "", "test/telemetry", 1,
		client, col, nil, zerolog.Nop())

	assert.Error(t, source.Start())
	assert.Equal(t, models.StateFailed, col.Snapshot().Stats.ConnectionState)

	// The source never came up, so stopping it is an error too.
	assert.Error(t, source.Stop())
}

// TestMQTTSource_ConnectionLost surfaces transport loss as a state
// transition without killing the worker.
func TestMQTTSource_ConnectionLost(t *testing.T) {
	col := collector.New(100, zerolog.Nop())

	client := new(MockMQTTClient)
	var onLost pahomqtt.ConnectionLostHandler
	client.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	client.On("Connect", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			args.Get(3).(pahomqtt.OnConnectHandler)(nil)
			onLost = args.Get(4).(pahomqtt.ConnectionLostHandler)
		}).Return(nil)

	source := NewMQTTSource("tcp://broker:1883", "client-1", "", "test/telemetry", 1,
		client, col, nil, zerolog.Nop())
	assert.NoError(t, source.Start())

	onLost(nil, errors.New("EOF"))
	assert.Equal(t, models.StateDisconnected, col.Snapshot().Stats.ConnectionState)

	client.On("Unsubscribe", mock.Anything).Return(nil)
	client.On("Disconnect", uint(250)).Return()
	assert.NoError(t, source.Stop())
}

// sinkRecorder captures arrivals forwarded to event sinks.
type sinkRecorder struct {
	mu     sync.Mutex
	events []models.ArrivalEvent
	closed bool
}

func (r *sinkRecorder) Append(a models.ArrivalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, a)
	return nil
}

func (r *sinkRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *sinkRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// TestMQTTSource_ForwardsToSinks: every decoded arrival reaches the
// configured sinks in order.
func TestMQTTSource_ForwardsToSinks(t *testing.T) {
	col := collector.New(100, zerolog.Nop())
	recorder := &sinkRecorder{}
	source, client, handler := startSource(t, col, []EventSink{recorder})

	(*handler)(nil, &MockMessage{payload: []byte(`{"sequence":1}`)})
	(*handler)(nil, &MockMessage{payload: []byte(`{"sequence":2}`)})

	assert.Eventually(t, func() bool { return recorder.count() == 2 }, time.Second, 2*time.Millisecond)

	recorder.mu.Lock()
	assert.Equal(t, int64(1), recorder.events[0].Event.Sequence)
	assert.Equal(t, int64(2), recorder.events[1].Event.Sequence)
	recorder.mu.Unlock()

	stopSource(t, source, client)
}
