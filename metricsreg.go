package conduit

import "github.com/ygrebnov/conduit/metrics"

// MetricsProvider is the package-wide default metrics.Provider, grounded on
// cuemby-warren's pkg/metrics (a package-level provider configured once at
// process start) the same way Logger is grounded on cuemby-warren's
// pkg/log. Defaults to metrics.NewNoopProvider() so a host application that
// never calls SetMetricsProvider pays no instrumentation cost; call
// SetMetricsProvider(metrics.NewPrometheusProvider(reg)) to actually collect
// the three instruments this package records:
//
//   - conduit_buffer_queue_depth (UpDownCounter, labeled "buffer"): items
//     currently queued, incremented on every successful enqueue and
//     decremented on every successful dequeue. Also covers the command and
//     status channels, since those are just Buffer[Command]/
//     Buffer[StatusMessage] instances under the hood.
//   - conduit_buffer_discards_total (Counter, labeled "buffer"): incremented
//     once per discard-timer fire that actually purged a non-empty queue.
//   - conduit_tick_interval_seconds (Histogram, labeled "loop"): the
//     measured wall-clock interval between consecutive tick fires.
var MetricsProvider metrics.Provider = metrics.NewNoopProvider()

// SetMetricsProvider replaces the package-wide metrics provider.
func SetMetricsProvider(p metrics.Provider) {
	MetricsProvider = p
}

func bufferQueueDepth(name string) metrics.UpDownCounter {
	return MetricsProvider.UpDownCounter(
		"conduit_buffer_queue_depth",
		metrics.WithDescription("items currently queued in a conduit buffer"),
		metrics.WithUnit("1"),
		metrics.WithAttributes(map[string]string{"buffer": name}),
	)
}

func bufferDiscardsTotal(name string) metrics.Counter {
	return MetricsProvider.Counter(
		"conduit_buffer_discards_total",
		metrics.WithDescription("discard-timer fires that purged a non-empty conduit buffer"),
		metrics.WithUnit("1"),
		metrics.WithAttributes(map[string]string{"buffer": name}),
	)
}

func tickIntervalHistogram(loopName string) metrics.Histogram {
	return MetricsProvider.Histogram(
		"conduit_tick_interval_seconds",
		metrics.WithDescription("measured wall-clock interval between consecutive loop ticks"),
		metrics.WithUnit("seconds"),
		metrics.WithAttributes(map[string]string{"loop": loopName}),
	)
}
