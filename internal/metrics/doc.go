// Package metrics exports warm-up results as Prometheus metrics.
//
// Collector implements warmer.Observer; Server serves the registry over HTTP
// when enabled in the config.
package metrics
