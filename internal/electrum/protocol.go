// Package electrum implements the line-delimited JSON-RPC 2.0 frontend
// (§6), protocol version 1.4. Grounded on electrum/server.rs's
// Connection/SubscriptionManager pair for the per-connection buffered
// reader and bounded notification channel, and on the teacher's
// pktwallet/rpc/legacyrpc for the handler-table + error-mapping idiom
// (rpcHandlers map of method name to handler function, errors.go's thin
// wrappers translating er.R into a protocol error).
package electrum

import "encoding/json"

// ProtocolVersion is the Electrum protocol version this server negotiates.
const ProtocolVersion = "1.4"

// request is one line of a client's line-delimited JSON-RPC 2.0 stream.
type request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// response is one line written back to the client: either a result or an
// error is ever populated, matching JSON-RPC 2.0.
type response struct {
	ID     json.RawMessage `json:"id"`
	Result interface{}     `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`

	// Method/Params are set instead of ID/Result for a server-initiated
	// notification (e.g. blockchain.headers.subscribe's push).
	Method string      `json:"method,omitempty"`
	Params interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	errCodeParse          = -32700
	errCodeInvalidRequest = -32600
	errCodeMethodNotFound = -32601
	errCodeInvalidParams  = -32602
	errCodeInternal       = -32603
)

func errParse(msg string) *rpcError          { return &rpcError{Code: errCodeParse, Message: msg} }
func errMethodNotFound(m string) *rpcError {
	return &rpcError{Code: errCodeMethodNotFound, Message: "unknown method: " + m}
}
func errInvalidParams(msg string) *rpcError { return &rpcError{Code: errCodeInvalidParams, Message: msg} }
func errInternal(msg string) *rpcError       { return &rpcError{Code: errCodeInternal, Message: msg} }
