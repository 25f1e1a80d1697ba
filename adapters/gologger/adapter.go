// Package gologger resolves the engine's glog logger and bridges it onto
// the go-job logging contracts so scheduled sync jobs log through the
// same pipeline as the engine itself.
package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Resolve picks a logger with fixed precedence: an explicit provider
// wins, then a direct logger, then the nop fallback. The returned
// provider is always non-nil so callers can hand it to subsystems that
// derive their own named loggers.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ToJobProvider adapts a glog provider to go-job's LoggerProvider. A nil
// provider stays nil so go-job falls back to its own default.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger adapts a glog logger to go-job's Logger.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the glog pair and returns it alongside the
// matching go-job bridges, so engine and scheduler wiring share one call.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
