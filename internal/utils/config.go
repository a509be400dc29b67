package utils

import (
	"time"

	"github.com/sensorlab/sensorbench/pkg/file"
)

// Config represents the structure of the configuration file. Every
// value has a default so the tools run with no file at all; CLI flags
// override whatever the file provides.
type Config struct {
	MQTT struct {
		Broker        string `yaml:"broker"`         // MQTT broker address, e.g. tcp://broker.hivemq.com:1883
		ClientID      string `yaml:"client_id"`      // MQTT client ID prefix; a UUID suffix is appended at startup
		Topic         string `yaml:"topic"`          // Telemetry topic to subscribe to
		QOS           int    `yaml:"qos"`            // MQTT QoS level for the subscription
		CACertificate string `yaml:"ca_certificate"` // Optional CA certificate path; plain TCP when empty
	} `yaml:"mqtt"`

	Serial struct {
		Port         string        `yaml:"port"`          // Serial port for the debug stream, e.g. /dev/ttyUSB0
		BaudRate     int           `yaml:"baud_rate"`     // Baud rate for the serial connection
		PollInterval time.Duration `yaml:"poll_interval"` // How often pending bytes are drained (in milliseconds)
	} `yaml:"serial"`

	Monitor struct {
		BufferCapacity  int           `yaml:"buffer_capacity"`  // Ring buffer capacity per metric series
		DisplayInterval time.Duration `yaml:"display_interval"` // Console stats refresh cadence (in seconds)
		CSVPath         string        `yaml:"csv_path"`         // Optional CSV log; disabled when empty
		SQLitePath      string        `yaml:"sqlite_path"`      // Optional SQLite archive; disabled when empty
	} `yaml:"monitor"`

	Test struct {
		BufferCapacity     int           `yaml:"buffer_capacity"`     // Ring buffer capacity per metric series
		Duration           time.Duration `yaml:"duration"`            // Total test duration (in seconds)
		Settle             time.Duration `yaml:"settle"`              // Initialization settle time before the first phase (in seconds)
		LatencyDuration    time.Duration `yaml:"latency_duration"`    // Latency phase length (in seconds)
		ThroughputDuration time.Duration `yaml:"throughput_duration"` // Throughput phase length (in seconds)
		StabilityEntry     time.Duration `yaml:"stability_entry"`     // Stability phase runs only when Duration exceeds this (in seconds)
		StabilityCadence   time.Duration `yaml:"stability_cadence"`   // Memory/error sampling cadence during stability (in seconds)
		SampleInterval     time.Duration `yaml:"sample_interval"`     // Collector poll cadence during the latency phase (in milliseconds)
		ReportPath         string        `yaml:"report_path"`         // Text report destination
		CSVPath            string        `yaml:"csv_path"`            // Optional CSV log; disabled when empty
		SQLitePath         string        `yaml:"sqlite_path"`         // Optional SQLite archive; disabled when empty

		Thresholds struct {
			LatencyExcellentMs  float64 `yaml:"latency_excellent_ms"`  // Average latency below this is excellent
			LatencyAcceptableMs float64 `yaml:"latency_acceptable_ms"` // Average latency below this is acceptable
			MemTrendExcellent   float64 `yaml:"mem_trend_excellent"`   // |bytes/sample| slope below this is excellent
			MemTrendAcceptable  float64 `yaml:"mem_trend_acceptable"`  // |bytes/sample| slope below this is acceptable
			ErrRateExcellent    float64 `yaml:"err_rate_excellent"`    // Errors/minute below this is excellent
			ErrRateAcceptable   float64 `yaml:"err_rate_acceptable"`   // Errors/minute below this is acceptable
			ExpectedMsgRate     float64 `yaml:"expected_msg_rate"`     // Device's nominal publish rate, msg/s
			ThroughputFactor    float64 `yaml:"throughput_factor"`     // Fraction of the nominal rate that still passes
		} `yaml:"thresholds"`
	} `yaml:"test"`

	Upload struct {
		Enabled   bool   `yaml:"enabled"`    // Upload report artifacts to object storage at session end
		Endpoint  string `yaml:"endpoint"`   // S3-compatible endpoint
		AccessKey string `yaml:"access_key"` // Access key ID
		SecretKey string `yaml:"secret_key"` // Secret access key
		Bucket    string `yaml:"bucket"`     // Destination bucket
		UseSSL    bool   `yaml:"use_ssl"`    // Use TLS for the endpoint
	} `yaml:"upload"`

	Log struct {
		Verbose bool `yaml:"verbose"` // Debug-level logging
	} `yaml:"log"`
}

// DefaultConfig returns a Config populated with the design defaults.
func DefaultConfig() *Config {
	var c Config

	c.MQTT.Broker = "tcp://broker.hivemq.com:1883"
	c.MQTT.ClientID = "sensorbench"
	c.MQTT.Topic = "stm32/sensor/telemetry"
	c.MQTT.QOS = 0

	c.Serial.BaudRate = 115200
	c.Serial.PollInterval = 10 // milliseconds

	c.Monitor.BufferCapacity = 1000
	c.Monitor.DisplayInterval = 1 // seconds

	c.Test.BufferCapacity = 100
	c.Test.Duration = 300 // seconds
	c.Test.Settle = 10
	c.Test.LatencyDuration = 60
	c.Test.ThroughputDuration = 60
	c.Test.StabilityEntry = 300
	c.Test.StabilityCadence = 10
	c.Test.SampleInterval = 100 // milliseconds
	c.Test.ReportPath = "performance_report.txt"

	c.Test.Thresholds.LatencyExcellentMs = 50
	c.Test.Thresholds.LatencyAcceptableMs = 75
	c.Test.Thresholds.MemTrendExcellent = 100
	c.Test.Thresholds.MemTrendAcceptable = 500
	c.Test.Thresholds.ErrRateExcellent = 1
	c.Test.Thresholds.ErrRateAcceptable = 5
	c.Test.Thresholds.ExpectedMsgRate = 10
	c.Test.Thresholds.ThroughputFactor = 0.9

	return &c
}

// LoadConfig reads the YAML configuration at filename over the
// defaults. A missing file is not an error: the defaults are returned
// so both tools can run flag-only.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	config := DefaultConfig()

	exists, err := fileClient.IsFileExists(filename)
	if err != nil {
		return nil, err
	}
	if !exists {
		return config, nil
	}

	if err := fileClient.ReadYamlFile(filename, config); err != nil {
		return nil, err
	}
	return config, nil
}
