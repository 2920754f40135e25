// Package director implements the Director side of the Actor/Director
// contract (§4.8, §9): a pure client that translates Go calls into the
// get_parameters/set_parameters/call_action RPC vocabulary over
// component.Runtime.Ask. It holds no state beyond the receiver address and
// the per-RPC timeout, and never interprets a reply beyond unmarshaling its wire shape.
package director

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"leco/fullname"
	"leco/rpcmsg"
)

// asker is the subset of component.Runtime a Director needs, kept as an
// interface so tests can supply a fake without a real transport.
type asker interface {
	Ask(ctx context.Context, receiver fullname.FullName, method string, params any, timeout time.Duration) (json.RawMessage, *rpcmsg.Error)
}

// Director issues Actor RPCs against one remote receiver.
type Director struct {
	rt       asker
	Receiver fullname.FullName
	Timeout  time.Duration
}

// New creates a Director that calls receiver through rt, using timeout for
// every RPC it issues.
func New(rt asker, receiver fullname.FullName, timeout time.Duration) *Director {
	return &Director{rt: rt, Receiver: receiver, Timeout: timeout}
}

type getParametersArgs struct {
	Parameters []string `json:"parameters"`
}

// GetParameters fetches the named parameters (possibly dotted
// channel-traversal paths) as raw JSON values.
func (d *Director) GetParameters(ctx context.Context, names ...string) (map[string]json.RawMessage, error) {
	result, rpcErr := d.rt.Ask(ctx, d.Receiver, "get_parameters", getParametersArgs{Parameters: names}, d.Timeout)
	if rpcErr != nil {
		return nil, fmt.Errorf("director: get_parameters: %s", rpcErr.Message)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("director: get_parameters: malformed reply: %w", err)
	}
	return out, nil
}

// GetParameter fetches a single named parameter.
func (d *Director) GetParameter(ctx context.Context, name string) (json.RawMessage, error) {
	out, err := d.GetParameters(ctx, name)
	if err != nil {
		return nil, err
	}
	v, ok := out[name]
	if !ok {
		return nil, fmt.Errorf("director: parameter %q missing from reply", name)
	}
	return v, nil
}

// SetParameters sets every named parameter to its corresponding Go value.
func (d *Director) SetParameters(ctx context.Context, values map[string]any) error {
	raw := make(map[string]json.RawMessage, len(values))
	for name, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("director: set_parameters: encoding %q: %w", name, err)
		}
		raw[name] = b
	}
	_, rpcErr := d.rt.Ask(ctx, d.Receiver, "set_parameters", raw, d.Timeout)
	if rpcErr != nil {
		return fmt.Errorf("director: set_parameters: %s", rpcErr.Message)
	}
	return nil
}

// SetParameter sets a single named parameter.
func (d *Director) SetParameter(ctx context.Context, name string, value any) error {
	return d.SetParameters(ctx, map[string]any{name: value})
}

type callActionArgs struct {
	Action string                     `json:"action"`
	Args   []any                      `json:"args"`
	Kwargs map[string]any             `json:"kwargs"`
}
type callActionReply struct {
	Result json.RawMessage `json:"result"`
}

// CallAction invokes a named action with positional and keyword arguments,
// mapping onto call_action(action, *args, **kwargs).
func (d *Director) CallAction(ctx context.Context, action string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	result, rpcErr := d.rt.Ask(ctx, d.Receiver, "call_action", callActionArgs{Action: action, Args: args, Kwargs: kwargs}, d.Timeout)
	if rpcErr != nil {
		return nil, fmt.Errorf("director: call_action %s: %s", action, rpcErr.Message)
	}
	var reply callActionReply
	if err := json.Unmarshal(result, &reply); err != nil {
		return nil, fmt.Errorf("director: call_action %s: malformed reply: %w", action, err)
	}
	return reply.Result, nil
}
