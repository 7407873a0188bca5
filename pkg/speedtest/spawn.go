package speedtest

// Spawner lets callers own goroutines the provider starts (candidate pings).
// When nil, the provider falls back to plain `go`.
//
// This package does not depend on the application's supervisor.
type Spawner interface {
	Go(name string, fn func())
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(name string, fn func())

func (f SpawnerFunc) Go(name string, fn func()) { f(name, fn) }
