// Package logx configures velo's structured logging.
//
// Components log through a small value-type wrapper (logx.Logger) on top of
// zerolog so that:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON, one record per line
//   - Operator alerts (warn/error records) can be forwarded to a chat sink
//     with a minimum level and a rate limit, without ever blocking the caller
package logx
