package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sensorlab/sensorbench/pkg/file"
)

// MQTTClient defines the subscription-side interface the ingestion
// layer depends on. Connect makes a single attempt; reconnection is
// deliberately left to the operator (the transport surfaces loss of
// connection as a state transition, never a retry loop).
type MQTTClient interface {
	Connect(broker, clientID, caCertPath string, onConnect mqtt.OnConnectHandler, onLost mqtt.ConnectionLostHandler) error
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
	Disconnect(quiesce uint)
}

// MqttService provides methods for MQTT operations.
type MqttService struct {
	client     mqtt.Client
	fileClient file.FileOperations
}

// NewMqttService creates a new MqttService instance.
func NewMqttService(fileClient file.FileOperations) *MqttService {
	return &MqttService{
		fileClient: fileClient,
	}
}

// Connect sets up the MQTT client and makes one connection attempt.
// When caCertPath is non-empty the connection uses TLS with the given
// CA; otherwise plain TCP (public test brokers).
func (s *MqttService) Connect(broker, clientID, caCertPath string, onConnect mqtt.OnConnectHandler, onLost mqtt.ConnectionLostHandler) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(false)
	if onConnect != nil {
		opts.SetOnConnectHandler(onConnect)
	}
	if onLost != nil {
		opts.SetConnectionLostHandler(onLost)
	}

	if caCertPath != "" {
		tlsConfig, err := s.loadTLSConfig(caCertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	s.client = mqtt.NewClient(opts)

	token := s.client.Connect()
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// loadTLSConfig builds a TLS configuration trusting the given CA.
func (s *MqttService) loadTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := s.fileClient.ReadFileRaw(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append CA certificate")
	}

	return &tls.Config{RootCAs: caCertPool}, nil
}

// Subscribe subscribes to the specified topic with a message handler.
func (s *MqttService) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) error {
	token := s.client.Subscribe(topic, qos, callback)
	token.Wait()
	return token.Error()
}

// Unsubscribe unsubscribes from the specified topics.
func (s *MqttService) Unsubscribe(topics ...string) error {
	token := s.client.Unsubscribe(topics...)
	token.Wait()
	return token.Error()
}

// Disconnect gracefully disconnects the MQTT client.
func (s *MqttService) Disconnect(quiesce uint) {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(quiesce)
	}
}
