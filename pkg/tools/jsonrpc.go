package tools

import "encoding/json"

// JSON-RPC 2.0 error codes used by the dispatcher.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Request is an incoming JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outgoing JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object. Data carries a human-readable
// message describing the failure.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

var errorMessages = map[int]string{
	ErrCodeParseError:     "Parse error",
	ErrCodeInvalidRequest: "Invalid request",
	ErrCodeMethodNotFound: "Method not found",
	ErrCodeInvalidParams:  "Invalid params",
	ErrCodeInternalError:  "Internal error",
}

// NewError creates an error object with the standard message for code.
func NewError(code int, data any) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = "Unknown error"
	}
	return &Error{Code: code, Message: msg, Data: data}
}

// ParseRequestBytes decodes and validates a JSON-RPC request.
func ParseRequestBytes(data []byte) (*Request, *Error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, NewError(ErrCodeInvalidRequest, err.Error())
	}
	if rpcErr := ValidateRequest(&req); rpcErr != nil {
		return nil, rpcErr
	}
	return &req, nil
}

// ValidateRequest checks the envelope fields.
func ValidateRequest(req *Request) *Error {
	if req.JSONRPC != "2.0" {
		return NewError(ErrCodeInvalidRequest, `jsonrpc must be "2.0"`)
	}
	if req.Method == "" {
		return NewError(ErrCodeInvalidRequest, "method is required")
	}
	return nil
}

// successResponse builds a result response echoing the request id.
func successResponse(id, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

// errorResponse builds an error response echoing the request id.
func errorResponse(id any, rpcErr *Error) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: rpcErr}
}
