/*
Package log provides structured logging for ndb using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

ndb's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("dbm")                     │          │
	│  │  - WithTarget("localhost")                  │          │
	│  │  - WithTable("routes")                      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "dbm",                      │          │
	│  │    "time": "2026-07-30T10:30:00Z",         │          │
	│  │    "message": "applied rtnl event"          │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-07-30T10:30:00Z INF applied rtnl event │          │
	│  │    component=dbm                             │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all ndb packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Per-event netlink traffic, attribute decoding detail
  - Info: Source start/stop, commit completion, registry changes
  - Warn: Source restart, row marked stale, commit retry
  - Error: Commit failure, rollback, protocol error on a batch
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs (e.g. "dbm", "registry", "source")
  - WithTarget: Add the source target this log line concerns
  - WithTable: Add the table this log line concerns

# Log Levels

Debug Level:
  - Purpose: Per-message netlink decode/dispatch detail
  - Usage: Development and protocol troubleshooting
  - Performance: Verbose, may impact production
  - Example: "decoded RTM_NEWROUTE: dst=10.0.0.0/24 oif=2"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "source started: target=localhost kind=local"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "source failed, rows marked stale: target=host1"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed commits, rollbacks, connection loss
  - Performance: Low volume
  - Example: "commit failed: rtnetlink: invalid argument"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "failed to open local rtnetlink socket: %v"

# Usage

Initializing the Logger:

	import "github.com/cuemby/ndb/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/ndbd.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("ndbd started")
	log.Debug("draining queue batch")
	log.Warn("source restart requested")
	log.Error("failed to connect to rtnetlink")
	log.Fatal("cannot start without a local source") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("target", "localhost").
		Int("events", 12).
		Msg("batch applied")

	log.Logger.Error().
		Err(err).
		Str("table", "routes").
		Msg("commit failed")

Component Loggers:

	// Create component-specific logger
	dbmLog := log.WithComponent("dbm")
	dbmLog.Info().Msg("manager started")
	dbmLog.Debug().Str("table", "interfaces").Msg("dispatching event")

	// Multiple context fields
	srcLog := log.WithComponent("source").
		With().Str("target", "host1").Logger()
	srcLog.Info().Msg("connected")
	srcLog.Error().Err(err).Msg("reconnect failed")

Context Logger Helpers:

	// Target-specific logs
	targetLog := log.WithTarget("host1")
	targetLog.Info().Msg("source marked failed")

	// Table-specific logs
	tableLog := log.WithTable("routes")
	tableLog.Info().Msg("row upserted")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/cuemby/ndb/pkg/log"
	)

	func main() {
		// Initialize logger
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("ndbd starting")

		// Component-specific logging
		dbmLog := log.WithComponent("dbm")
		dbmLog.Info().
			Str("target", "localhost").
			Int("event_count", 5).
			Msg("applying batch")

		// Error logging
		err := errors.New("connection refused")
		log.Logger.Error().
			Err(err).
			Str("component", "source").
			Msg("failed to connect to rtnetlink")

		log.Info("ndbd stopped")
	}

# Integration Points

This package integrates with:

  - pkg/ndb/dbm: Logs dispatch of rtnl events into the store
  - pkg/ndb/source: Logs connection lifecycle, restarts, failures
  - pkg/ndb/registry: Logs source add/remove/restore
  - pkg/ndb/object: Logs commit/rollback outcomes
  - pkg/rtnlremote: Logs remote source RPC traffic
  - cmd/ndbd: Logs daemon startup and shutdown

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"dbm","time":"2026-07-30T10:30:00Z","message":"manager started"}
	{"level":"info","component":"source","target":"host1","time":"2026-07-30T10:30:01Z","message":"connected"}
	{"level":"error","component":"object","table":"routes","time":"2026-07-30T10:30:02Z","message":"commit failed"}

Console Format (Development):

	2026-07-30T10:30:00Z INF manager started component=dbm
	2026-07-30T10:30:01Z INF connected component=source target=host1
	2026-07-30T10:30:02Z ERR commit failed component=object table=routes

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Provides stack trace information
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Security

Log Content:
  - Never log secrets or sensitive data (SSH keys, credentials for remote sources)
  - Redact tokens and passwords before logging connection options
  - Review logs before sharing externally

Log Injection:
  - Use structured logging (prevents injection)
  - Never concatenate user input into log messages
  - Use typed fields (.Str, .Int) for user data

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for stack traces
  - Include context (target, table) on logs that concern one

Don't:
  - Log sensitive data (SSH credentials, tokens)
  - Use Debug level in production
  - Log in tight loops (netlink dumps can be large; sample instead)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
*/
package log
