package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/logging"
)

// stubExecutor returns canned results or errors, optionally after a delay.
type stubExecutor struct {
	result any
	err    error
	delay  time.Duration
}

func (s *stubExecutor) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, s.err
}

func newTestRegistry(exec Executor, timeout time.Duration) *Registry {
	return NewRegistry(exec, timeout, nil, logging.Nop())
}

func TestRegister_Idempotent(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(&stubExecutor{}, 0)
	r.Register("read_file", "A", "s1")
	r.Register("read_file", "B", "s2")

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "read_file", list[0].Name)
	assert.Equal(t, "B", list[0].Description)
	assert.Equal(t, "s2", list[0].ServerID)

	// Both registrations count, even when the second replaced the first.
	assert.Equal(t, int64(2), r.Stats().Registrations)
}

func TestRegister_EmitsEvent(t *testing.T) {
	t.Parallel()

	var events []string
	notify := func(event string, payload map[string]any) {
		events = append(events, event)
	}
	r := NewRegistry(&stubExecutor{}, 0, notify, logging.Nop())
	r.Register("read_file", "Reads a file", "s1")

	require.Len(t, events, 1)
	assert.Equal(t, "tool_registered", events[0])
}

func TestInvoke_NotFound(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(&stubExecutor{}, 0)
	_, err := r.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestInvoke_SuccessBumpsUsage(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(&stubExecutor{result: "ok"}, 0)
	r.Register("echo", "Echoes", "s1")

	result, err := r.Invoke(context.Background(), "echo", map[string]any{"v": 1})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	tool, ok := r.Get("echo")
	require.True(t, ok)
	assert.Equal(t, int64(1), tool.UseCount)
	assert.False(t, tool.LastUsed.IsZero())
	assert.Equal(t, int64(1), r.Stats().Invocations)
}

func TestInvoke_ExecutorError(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(&stubExecutor{err: errors.New("disk on fire")}, 0)
	r.Register("burn", "Burns", "s1")

	_, err := r.Invoke(context.Background(), "burn", nil)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "burn", execErr.Tool)

	// Failures never count as usage.
	tool, _ := r.Get("burn")
	assert.Equal(t, int64(0), tool.UseCount)
	assert.Equal(t, int64(1), r.Stats().Failures)
}

func TestInvoke_Timeout(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(&stubExecutor{delay: time.Second, result: "late"}, 20*time.Millisecond)
	r.Register("slow", "Sleeps", "s1")

	start := time.Now()
	_, err := r.Invoke(context.Background(), "slow", nil)
	assert.ErrorIs(t, err, ErrToolTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "timeout should abort long before the executor finishes")

	tool, _ := r.Get("slow")
	assert.Equal(t, int64(0), tool.UseCount)
}
