package main

import (
	"time"

	"github.com/getsentry/sentry-go"

	"node.town/parley/config"
)

// initSentry starts error reporting when a DSN is configured. It returns
// the function that flushes pending events and the sink for lost batches.
func initSentry(cfg config.Config) (flush func(), report func(error)) {
	l := logger.WithPrefix("main")
	report = func(err error) {
		l.Error("lost batch", "err", err)
	}
	flush = func() {}

	if cfg.SentryDSN == "" {
		return flush, report
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		EnableTracing:    true,
		TracesSampleRate: 0.2,
		Release:          "parley",
	})
	if err != nil {
		l.Warn("sentry init failed", "err", err)
		return flush, report
	}
	l.Debug("sentry initialized")

	flush = func() { sentry.Flush(2 * time.Second) }
	report = func(err error) {
		l.Error("lost batch", "err", err)
		sentry.CaptureException(err)
	}
	return flush, report
}
