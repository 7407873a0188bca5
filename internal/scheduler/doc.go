// Package scheduler triggers warm-up runs periodically in daemon mode.
package scheduler
