package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/memtrace/internal/logutil"
	"github.com/getsentry/memtrace/internal/records"
	"github.com/getsentry/memtrace/internal/sink"
	"github.com/getsentry/memtrace/internal/tracker"
)

var release string

func newSink(config ServiceConfig) (records.Sink, error) {
	switch config.Sink {
	case "file":
		return sink.NewFileSink(config.OutputPath, config.Compress)
	case "kafka":
		return sink.NewKafkaSink(config.KafkaBrokers, config.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", config.Sink)
	}
}

func main() {
	var config ServiceConfig
	if err := cleanenv.ReadEnv(&config); err != nil {
		log.Fatal().Err(err).Msg("error loading configuration")
	}
	logutil.ConfigureLogger(config.Environment)

	if config.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Environment,
			Release:     release,
		}); err != nil {
			log.Fatal().Err(err).Msg("error setting up sentry")
		}
		defer sentry.Flush(5 * time.Second)
	}

	s, err := newSink(config)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up the record sink")
	}

	tr, err := tracker.New(tracker.Options{
		Sink:           s,
		NativeTraces:   config.NativeTraces,
		MemoryInterval: time.Duration(config.MemoryIntervalMS) * time.Millisecond,
		FollowFork:     config.FollowFork,
	})
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error activating tracking")
	}

	done := make(chan struct{})
	go func() {
		runWorkload(tr, config.Workers, config.Allocations)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-done:
		log.Info().Msg("workload finished")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	if err := tr.Destroy(); err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("error closing the session")
		os.Exit(1)
	}
	log.Info().
		Uint64("records", tr.Stats().RecordsWritten).
		Uint64("clamped_pops", tr.Stats().ClampedPops).
		Msg("session closed")
}
