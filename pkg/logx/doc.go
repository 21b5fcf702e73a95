// Package logx configures hushd's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional hook that republishes WARN+ records on the event bus
package logx
