package main

type (
	ServiceConfig struct {
		Environment string `env:"MEMTRACE_ENVIRONMENT" env-default:"development"`
		SentryDSN   string `env:"SENTRY_DSN"`

		Sink       string `env:"MEMTRACE_SINK" env-default:"file"`
		OutputPath string `env:"MEMTRACE_OUTPUT" env-default:"memtrace.out"`
		Compress   bool   `env:"MEMTRACE_COMPRESS" env-default:"true"`

		KafkaBrokers []string `env:"MEMTRACE_KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
		KafkaTopic   string   `env:"MEMTRACE_KAFKA_TOPIC" env-default:"memtrace-events"`

		NativeTraces     bool  `env:"MEMTRACE_NATIVE_TRACES" env-default:"true"`
		MemoryIntervalMS int64 `env:"MEMTRACE_MEMORY_INTERVAL_MS" env-default:"10"`
		FollowFork       bool  `env:"MEMTRACE_FOLLOW_FORK" env-default:"false"`

		Workers     int `env:"MEMTRACE_WORKERS" env-default:"4"`
		Allocations int `env:"MEMTRACE_ALLOCATIONS" env-default:"10000"`
	}
)
