package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sensorlab/sensorbench/internal/collector"
	"github.com/sensorlab/sensorbench/internal/ingest"
	"github.com/sensorlab/sensorbench/internal/report"
	"github.com/sensorlab/sensorbench/internal/session"
	"github.com/sensorlab/sensorbench/internal/stats"
	"github.com/sensorlab/sensorbench/internal/storage"
	"github.com/sensorlab/sensorbench/internal/utils"
	"github.com/sensorlab/sensorbench/pkg/file"
	"github.com/sensorlab/sensorbench/pkg/mqtt"
	"github.com/sensorlab/sensorbench/pkg/objectstore"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.String("config", "configs/config.yaml", "Path to the configuration file")
	broker := pflag.String("broker", "", "MQTT broker address (overrides config)")
	topic := pflag.String("topic", "", "MQTT telemetry topic (overrides config)")
	serialPort := pflag.String("serial", "", "Serial port for the debug stream, e.g. /dev/ttyUSB0")
	duration := pflag.Int("duration", 0, "Total test duration in seconds (overrides config)")
	reportPath := pflag.String("report", "", "Report output path (overrides config)")
	csvPath := pflag.String("csv", "", "Log received events to this CSV file")
	verbose := pflag.BoolP("verbose", "v", false, "Debug-level logging")
	pflag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)

	fileClient := file.NewFileService()

	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *broker != "" {
		config.MQTT.Broker = *broker
	}
	if *topic != "" {
		config.MQTT.Topic = *topic
	}
	if *serialPort != "" {
		config.Serial.Port = *serialPort
	}
	if *duration > 0 {
		config.Test.Duration = time.Duration(*duration)
	}
	if *reportPath != "" {
		config.Test.ReportPath = *reportPath
	}
	if *csvPath != "" {
		config.Test.CSVPath = *csvPath
	}
	if *verbose || config.Log.Verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}

	col := collector.New(config.Test.BufferCapacity, logger)

	var sinks []ingest.EventSink
	if config.Test.CSVPath != "" {
		csvLogger, err := report.NewCSVLogger(config.Test.CSVPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open CSV log")
		}
		sinks = append(sinks, csvLogger)
	}
	if config.Test.SQLitePath != "" {
		archive, err := storage.NewSQLiteArchive(config.Test.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open SQLite archive")
		}
		sinks = append(sinks, archive)
	}

	clientID := config.MQTT.ClientID + "-" + uuid.New().String()
	mqttClient := mqtt.NewMqttService(fileClient)
	mqttSource := ingest.NewMQTTSource(config.MQTT.Broker, clientID, config.MQTT.CACertificate,
		config.MQTT.Topic, config.MQTT.QOS, mqttClient, col, sinks, logger)

	if err := mqttSource.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start MQTT ingestion")
	}

	var serialSource *ingest.SerialSource
	if config.Serial.Port != "" {
		pollInterval := config.Serial.PollInterval * time.Millisecond
		port, err := ingest.OpenSerialPort(config.Serial.Port, config.Serial.BaudRate, pollInterval)
		if err != nil {
			logger.Fatal().Err(err).Str("port", config.Serial.Port).Msg("Failed to open serial port")
		}
		serialSource = ingest.NewSerialSource(port, pollInterval, col, logger)
		if err := serialSource.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start serial ingestion")
		}
	}

	// An interrupt short-circuits the running phase straight to
	// reporting; the report is produced either way.
	ctx, cancel := context.WithCancel(context.Background())
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stopCh
		logger.Info().Msg("Interrupt received, finishing with accumulated data...")
		cancel()
	}()

	controller := session.New(sessionConfig(config), thresholds(config), col, logger)

	logger.Info().Dur("duration", config.Test.Duration*time.Second).Msg("Starting performance test")
	startedAt := time.Now()
	results := controller.Run(ctx)
	cancel()

	// Shutdown order: stop ingestion, take the final snapshot, write
	// the report, then close the sinks.
	if err := mqttSource.Stop(); err != nil {
		logger.Warn().Err(err).Msg("Failed to stop MQTT ingestion cleanly")
	}
	if serialSource != nil {
		if err := serialSource.Stop(); err != nil {
			logger.Warn().Err(err).Msg("Failed to stop serial ingestion cleanly")
		}
	}

	snap := col.Snapshot()
	text := report.Render(snap, results, startedAt, time.Now())
	fmt.Print(text)

	pool := utils.NewWorkerPool(3)
	jobs := map[string]func() error{
		"report_file": func() error {
			return fileClient.WriteFile(config.Test.ReportPath, text)
		},
	}
	if config.Upload.Enabled {
		jobs["object_storage"] = func() error {
			store := objectstore.NewObjectStorage()
			if err := store.Connect(config.Upload.Endpoint, config.Upload.AccessKey,
				config.Upload.SecretKey, config.Upload.UseSSL); err != nil {
				return err
			}
			uploadCtx, uploadCancel := context.WithTimeout(context.Background(), time.Minute)
			defer uploadCancel()

			prefix := startedAt.UTC().Format("20060102-150405")
			if err := store.UploadFile(uploadCtx, config.Upload.Bucket,
				prefix+"/"+path.Base(config.Test.ReportPath), config.Test.ReportPath, "text/plain"); err != nil {
				return err
			}
			if config.Test.CSVPath != "" {
				return store.UploadFile(uploadCtx, config.Upload.Bucket,
					prefix+"/"+path.Base(config.Test.CSVPath), config.Test.CSVPath, "text/csv")
			}
			return nil
		}
	}

	if failures := report.EmitAll(pool, logger, jobs); failures > 0 {
		logger.Warn().Int("failures", failures).Msg("Some report sinks failed")
	} else {
		logger.Info().Str("path", config.Test.ReportPath).Msg("Report written")
	}
	pool.Shutdown()

	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close event sink")
		}
	}
}

// sessionConfig maps the file/flag configuration onto the controller's
// phase timing. Configured durations are raw counts: seconds for the
// phase lengths, milliseconds for the sample cadence.
func sessionConfig(c *utils.Config) session.Config {
	return session.Config{
		TotalDuration:      c.Test.Duration * time.Second,
		Settle:             c.Test.Settle * time.Second,
		LatencyDuration:    c.Test.LatencyDuration * time.Second,
		ThroughputDuration: c.Test.ThroughputDuration * time.Second,
		StabilityEntry:     c.Test.StabilityEntry * time.Second,
		StabilityCadence:   c.Test.StabilityCadence * time.Second,
		SampleInterval:     c.Test.SampleInterval * time.Millisecond,
	}
}

func thresholds(c *utils.Config) stats.Thresholds {
	return stats.Thresholds{
		LatencyExcellentMs:  c.Test.Thresholds.LatencyExcellentMs,
		LatencyAcceptableMs: c.Test.Thresholds.LatencyAcceptableMs,
		MemTrendExcellent:   c.Test.Thresholds.MemTrendExcellent,
		MemTrendAcceptable:  c.Test.Thresholds.MemTrendAcceptable,
		ErrRateExcellent:    c.Test.Thresholds.ErrRateExcellent,
		ErrRateAcceptable:   c.Test.Thresholds.ErrRateAcceptable,
		ExpectedMsgRate:     c.Test.Thresholds.ExpectedMsgRate,
		ThroughputFactor:    c.Test.Thresholds.ThroughputFactor,
	}
}
