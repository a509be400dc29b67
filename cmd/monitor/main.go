package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sensorlab/sensorbench/internal/collector"
	"github.com/sensorlab/sensorbench/internal/ingest"
	"github.com/sensorlab/sensorbench/internal/report"
	"github.com/sensorlab/sensorbench/internal/stats"
	"github.com/sensorlab/sensorbench/internal/storage"
	"github.com/sensorlab/sensorbench/internal/utils"
	"github.com/sensorlab/sensorbench/pkg/file"
	"github.com/sensorlab/sensorbench/pkg/mqtt"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.String("config", "configs/config.yaml", "Path to the configuration file")
	broker := pflag.String("broker", "", "MQTT broker address (overrides config)")
	topic := pflag.String("topic", "", "MQTT telemetry topic (overrides config)")
	csvPath := pflag.String("csv", "", "Log received events to this CSV file")
	sqlitePath := pflag.String("sqlite", "", "Archive received events to this SQLite file")
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
	if *csvPath != "" {
		config.Monitor.CSVPath = *csvPath
	}
	if *sqlitePath != "" {
		config.Monitor.SQLitePath = *sqlitePath
	}
	if *verbose || config.Log.Verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}

	col := collector.New(config.Monitor.BufferCapacity, logger)

	var sinks []ingest.EventSink
	if config.Monitor.CSVPath != "" {
		csvLogger, err := report.NewCSVLogger(config.Monitor.CSVPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open CSV log")
		}
		sinks = append(sinks, csvLogger)
		logger.Info().Str("path", config.Monitor.CSVPath).Msg("CSV logging enabled")
	}
	if config.Monitor.SQLitePath != "" {
		archive, err := storage.NewSQLiteArchive(config.Monitor.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open SQLite archive")
		}
		sinks = append(sinks, archive)
		logger.Info().Str("path", config.Monitor.SQLitePath).Msg("SQLite archiving enabled")
	}

	// Generate a unique MQTT Client ID by appending a UUID
	clientID := config.MQTT.ClientID + "-" + uuid.New().String()
	logger.Info().Str("client_id", clientID).Msg("Using MQTT client ID")

	mqttClient := mqtt.NewMqttService(fileClient)
	source := ingest.NewMQTTSource(config.MQTT.Broker, clientID, config.MQTT.CACertificate,
		config.MQTT.Topic, config.MQTT.QOS, mqttClient, col, sinks, logger)

	if err := source.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start telemetry ingestion")
	}

	// Periodic stats display on its own ticker; reads snapshots only.
	displayDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(config.Monitor.DisplayInterval * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				snap := col.Snapshot()
				logger.Info().
					Int64("total", snap.Stats.TotalMessages).
					Float64("rate_msg_s", stats.MessageRate(snap.Timestamps)).
					Float64("latency_ema_ms", snap.Stats.AvgLatencyEmaMs).
					Int64("data_loss", snap.Stats.DataLoss).
					Str("connection", string(snap.Stats.ConnectionState)).
					Msg("Telemetry")
			case <-displayDone:
				return
			}
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	close(displayDone)

	// Shutdown order: stop ingestion, take the final snapshot, then
	// close the sinks.
	if err := source.Stop(); err != nil {
		logger.Warn().Err(err).Msg("Failed to stop ingestion cleanly")
	}

	final := col.Snapshot()
	fmt.Print(report.RenderSessionSummary(final))

	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close event sink")
		}
	}
}
