/*
Package log provides structured logging for swarm-harness using zerolog.

It wraps a single global zerolog.Logger, initialized once via Init, and
exposes component-scoped child loggers (WithComponent, WithPort,
WithSwarmID) so every log line carries enough context to trace a single
service node or swarm through a scenario run without grepping by PID.

# Configuration

Init takes a Config{Level, JSONOutput, Output}. JSONOutput selects
between newline-delimited JSON (for piping into log aggregation during a
long-running scenario) and a human-readable console writer (for
interactive use at a terminal). Output defaults to os.Stdout when nil.

# Component loggers

	logger := log.WithComponent("rpc_server")
	logger.Info().Str("addr", addr).Msg("rpc server listening")

	logger := log.WithPort(sn.Port)
	logger.Warn().Err(err).Msg("service node did not become ready in time")

WithSwarmID and WithPort add the matching field so scenario failures can
be traced back to the exact node or swarm involved without a separate
correlation-ID scheme.
*/
package log
