package solana

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/condvault/internal/ledger"
)

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

// call issues a raw JSON-RPC request. Errors below the JSON-RPC layer are
// marked ledger.ErrTransport; errors answered by the node become
// *ledger.RPCError with the node's message and simulation logs intact.
func (c *Client) call(ctx context.Context, out any, method string, params ...any) error {
	args := append([]any{method}, params...)
	body, err := c.rpc.RpcClient.Call(ctx, args...)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ledger.ErrTransport, method, err)
	}

	var env rpcEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %s: decode envelope: %v", ledger.ErrTransport, method, err)
	}
	if env.Error != nil {
		msg := env.Error.Message
		if logs := simulationLogs(env.Error.Data); logs != "" {
			msg += ": " + logs
		}
		return &ledger.RPCError{Code: env.Error.Code, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("solana: %s: decode result: %w", method, err)
	}
	return nil
}

// simulationLogs extracts the failing instruction error from a preflight
// failure payload.
func simulationLogs(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var d struct {
		Err  json.RawMessage `json:"err"`
		Logs []string        `json:"logs"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return ""
	}
	if len(d.Logs) > 0 {
		return d.Logs[len(d.Logs)-1]
	}
	return rawErr(d.Err)
}
