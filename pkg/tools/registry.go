// Package tools holds the registry of invokable tools and the dispatcher
// that routes JSON-RPC calls to them. Actual tool behavior lives behind the
// Executor capability; the registry only tracks metadata and usage.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultInvokeTimeout bounds a single tool execution.
const DefaultInvokeTimeout = 30 * time.Second

// Invocation errors.
var (
	ErrToolNotFound = errors.New("tools: tool not found")
	ErrToolTimeout  = errors.New("tools: execution timed out")
)

// ExecutionError wraps a failure reported by the executor.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tools: %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Executor is the external capability that actually runs tools. It must
// honor ctx cancellation; the registry aborts calls through it.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) (any, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, name string, args map[string]any) (any, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	return f(ctx, name, args)
}

// Tool is the registry record for one invokable tool.
type Tool struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	ServerID     string    `json:"serverId"`
	RegisteredAt time.Time `json:"registeredAt"`
	UseCount     int64     `json:"useCount"`
	LastUsed     time.Time `json:"lastUsed,omitempty"`
}

// Notify receives registry events (tool_registered, tool_executed) for
// fan-out to connected clients. May be nil.
type Notify func(event string, payload map[string]any)

// Registry holds declared tools and dispatches invocations.
type Registry struct {
	mu            sync.RWMutex
	tools         map[string]*Tool
	registrations int64
	invocations   int64
	failures      int64

	executor Executor
	timeout  time.Duration
	notify   Notify
	logger   *slog.Logger
}

// NewRegistry creates a registry delegating execution to executor. A
// non-positive timeout falls back to DefaultInvokeTimeout.
func NewRegistry(executor Executor, timeout time.Duration, notify Notify, logger *slog.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	return &Registry{
		tools:    make(map[string]*Tool),
		executor: executor,
		timeout:  timeout,
		notify:   notify,
		logger:   logger,
	}
}

// Register declares a tool. Re-registering an existing name replaces its
// metadata and is not an error.
func (r *Registry) Register(name, description, serverID string) {
	r.mu.Lock()
	r.tools[name] = &Tool{
		Name:         name,
		Description:  description,
		ServerID:     serverID,
		RegisteredAt: time.Now(),
	}
	r.registrations++
	r.mu.Unlock()

	r.logger.Info("tool registered", "tool", name, "server", serverID)
	r.emit("tool_registered", map[string]any{"tool": name, "server": serverID})
}

// List returns a snapshot of all registered tools.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, *t)
	}
	return out
}

// Get returns a copy of one tool record.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return *t, true
}

// Invoke runs a registered tool through the executor, bounded by the
// configured timeout. A timeout aborts only this invocation; usage stats
// are updated on success only.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	_, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := r.executor.Execute(ctx, name, args)
		done <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		r.recordFailure()
		r.logger.Warn("tool execution timed out", "tool", name, "timeout", r.timeout)
		return nil, fmt.Errorf("%w: %s after %s", ErrToolTimeout, name, r.timeout)
	case out := <-done:
		if out.err != nil {
			r.recordFailure()
			return nil, &ExecutionError{Tool: name, Err: out.err}
		}

		r.mu.Lock()
		if t, still := r.tools[name]; still {
			t.UseCount++
			t.LastUsed = time.Now()
		}
		r.invocations++
		r.mu.Unlock()

		r.emit("tool_executed", map[string]any{"tool": name})
		return out.result, nil
	}
}

// Stats aggregates registry counters.
type Stats struct {
	Tools         int   `json:"tools"`
	Registrations int64 `json:"registrations"`
	Invocations   int64 `json:"invocations"`
	Failures      int64 `json:"failures"`
}

// Stats returns aggregate counters for mcp/stats and /api/stats.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Tools:         len(r.tools),
		Registrations: r.registrations,
		Invocations:   r.invocations,
		Failures:      r.failures,
	}
}

func (r *Registry) recordFailure() {
	r.mu.Lock()
	r.failures++
	r.mu.Unlock()
}

func (r *Registry) emit(event string, payload map[string]any) {
	if r.notify != nil {
		r.notify(event, payload)
	}
}
