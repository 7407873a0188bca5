// Package logx configures netwarmer's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller, colour only on a TTY)
//   - File output JSON-structured
//   - Sinks swappable at runtime via Service.Apply (config hot reload)
package logx
