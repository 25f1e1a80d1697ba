// Package gocommand bridges the engine's command and query wrappers onto
// the go-command registry and dispatcher so sync operations can be driven
// through the same bus as the rest of the host application.
package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// ValidateMessageContract checks that a message carries a non-blank
// Type() and, when it implements Validate(), that the payload passes.
// Sync messages are rejected here before they ever reach a handler.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	typed, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message %T does not implement Type() string", msg)
	}
	if strings.TrimSpace(typed.Type()) == "" {
		return fmt.Errorf("gocommand: message %T reports a blank type", msg)
	}
	return nil
}

// RegistryAdapter wraps a go-command registry with nil-safe registration
// helpers for the engine's command and query wrappers.
type RegistryAdapter struct {
	registry *command.Registry
}

// NewRegistryAdapter wraps the given registry, allocating a fresh one
// when nil is passed.
func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

// Registry exposes the underlying go-command registry.
func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

// RegisterCommand records a command handler for later initialization.
func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry adapter has no backing registry")
	}
	return a.registry.RegisterCommand(cmd)
}

// RegisterQuery records a query handler. go-command keeps commands and
// queries in the same registry, so this delegates to RegisterCommand.
func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry adapter has no backing registry")
	}
	return a.registry.RegisterCommand(qry)
}

// AddResolver installs a resolver hook that runs for every registered
// handler during Initialize.
func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry adapter has no backing registry")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered handlers into a go-job queue
// registry so queued job executions can resolve the same commands.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry must not be nil")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

// HasResolver reports whether a resolver hook is installed under key.
func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

// Initialize runs the registry's resolver hooks over every registered
// handler. Call it once after all handlers are registered.
func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry adapter has no backing registry")
	}
	return a.registry.Initialize()
}

// SubscribeCommand attaches a command handler to the global dispatcher.
func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

// SubscribeCommandFunc attaches a bare command func to the global dispatcher.
func SubscribeCommandFunc[T any](handler command.CommandFunc[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(handler, runnerOpts...)
}

// SubscribeQuery attaches a query handler to the global dispatcher.
func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

// SubscribeQueryFunc attaches a bare query func to the global dispatcher.
func SubscribeQueryFunc[T any, R any](qry command.QueryFunc[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

// Dispatch sends a command message through the global dispatcher.
func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

// Query sends a query message through the global dispatcher and returns
// its typed result.
func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// RegisterAndSubscribe registers a command with the adapter and
// subscribes it to the dispatcher in one step. The subscription is torn
// down again if registration fails.
func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry adapter has no backing registry")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command must not be nil")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// RegisterAndSubscribeQuery is the query-side counterpart of
// RegisterAndSubscribe.
func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry adapter has no backing registry")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query must not be nil")
	}
	subscription := SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterQuery(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}
