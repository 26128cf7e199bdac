package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CallRecorder observes the latency of one tool invocation. May be nil.
type CallRecorder func(tool string, elapsed time.Duration)

// Dispatcher routes JSON-RPC methods to the registry or to static
// identity responses.
type Dispatcher struct {
	registry   *Registry
	serverName string
	version    string
	started    time.Time
	record     CallRecorder
}

// NewDispatcher creates a dispatcher over registry. record, when non-nil,
// receives the per-tool latency of every tools/call invocation.
func NewDispatcher(registry *Registry, serverName, version string, record CallRecorder) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		serverName: serverName,
		version:    version,
		started:    time.Now(),
		record:     record,
	}
}

// callParams are the parameters of tools/call.
type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Dispatch executes one JSON-RPC request and returns the response.
// Unknown methods and unknown tools both map to -32601 per the router's
// error contract; execution failures carry a descriptive data field.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "tools/list":
		return successResponse(req.ID, map[string]any{"tools": d.registry.List()})

	case "tools/call":
		return d.dispatchCall(ctx, req)

	case "mcp/stats":
		return successResponse(req.ID, d.registry.Stats())

	case "ping":
		return successResponse(req.ID, map[string]any{
			"pong":   time.Now().UTC().Format(time.RFC3339),
			"server": d.serverName,
		})

	case "server/info":
		return successResponse(req.ID, map[string]any{
			"name":      d.serverName,
			"version":   d.version,
			"startedAt": d.started.UTC().Format(time.RFC3339),
			"uptime":    time.Since(d.started).Round(time.Second).String(),
		})

	default:
		return errorResponse(req.ID, NewError(ErrCodeMethodNotFound,
			fmt.Sprintf("unknown method %q", req.Method)))
	}
}

func (d *Dispatcher) dispatchCall(ctx context.Context, req *Request) *Response {
	if len(req.Params) == 0 {
		return errorResponse(req.ID, NewError(ErrCodeInvalidParams, "params required"))
	}

	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, NewError(ErrCodeInvalidParams, err.Error()))
	}
	if params.Name == "" {
		return errorResponse(req.ID, NewError(ErrCodeInvalidParams, "tool name is required"))
	}

	start := time.Now()
	result, err := d.registry.Invoke(ctx, params.Name, params.Arguments)
	if d.record != nil {
		d.record(params.Name, time.Since(start))
	}
	if err != nil {
		return errorResponse(req.ID, NewError(ErrCodeMethodNotFound, err.Error()))
	}

	return successResponse(req.ID, map[string]any{
		"tool":   params.Name,
		"result": result,
	})
}

// DispatchBytes parses raw bytes and dispatches; envelope failures produce
// a -32600 response with a null id when none could be read.
func (d *Dispatcher) DispatchBytes(ctx context.Context, data []byte) *Response {
	req, rpcErr := ParseRequestBytes(data)
	if rpcErr != nil {
		var id any
		var probe struct {
			ID any `json:"id"`
		}
		if json.Unmarshal(data, &probe) == nil {
			id = probe.ID
		}
		return errorResponse(id, rpcErr)
	}
	return d.Dispatch(ctx, req)
}
