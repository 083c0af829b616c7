// Package dedupe tracks recently seen keys within a bounded time
// window, so callers can cheaply skip work they already started.
package dedupe
