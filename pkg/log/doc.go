/*
Package log provides structured logging for the manager using zerolog.

It wraps zerolog with component-specific child loggers and a single global
instance initialized once via Init. Component loggers attach a stable field
(component, session_id, kernel_id, agent_id) so that log aggregation can
filter by subsystem or by the entity a log line is about.

Usage:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	schedLog := log.WithComponent("scheduler")
	schedLog.Info().Str("session_id", sid).Msg("agent selected")

	log.WithSession(sid).Warn().Msg("quota exceeded, retrying next tick")
*/
package log
