// Package actor implements the explicit attribute registry §9 recommends
// for a statically-typed target: a Registry exposes named Parameters and
// Actions to the three RPC methods an Actor must answer (§4.8) —
// get_parameters, set_parameters, call_action — and supports the
// "ch_A.par1" channel-traversal addressing by nesting child Registries.
package actor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Parameter is one named attribute a Registry exposes. Get/Set wrap
// whatever Go field or computed value the Actor actually controls; the
// registry itself holds no state of its own.
type Parameter struct {
	Get func() (any, error)
	Set func(raw json.RawMessage) error
}

// Action is one named callable a Registry exposes to call_action.
type Action func(args []json.RawMessage, kwargs map[string]json.RawMessage) (any, error)

// Registry maps parameter and action names to their implementations for
// one controlled object, with optional nested channels for traversal.
type Registry struct {
	parameters map[string]Parameter
	actions    map[string]Action
	channels   map[string]*Registry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		parameters: make(map[string]Parameter),
		actions:    make(map[string]Action),
		channels:   make(map[string]*Registry),
	}
}

// Parameter registers a named parameter.
func (r *Registry) Parameter(name string, p Parameter) {
	r.parameters[name] = p
}

// Action registers a named action.
func (r *Registry) Action(name string, a Action) {
	r.actions[name] = a
}

// Channel registers a nested Registry under name, so "name.leaf" paths
// resolve into sub's parameters and actions, per §4.8's traversal rule.
func (r *Registry) Channel(name string, sub *Registry) {
	r.channels[name] = sub
}

// resolve walks a dotted path one channel segment at a time and returns the
// Registry owning the leaf name, per §4.8: "ch_A.par1 means attribute par1
// of attribute ch_A".
func (r *Registry) resolve(path string) (*Registry, string, error) {
	reg := r
	for {
		idx := strings.IndexByte(path, '.')
		if idx < 0 {
			return reg, path, nil
		}
		head, rest := path[:idx], path[idx+1:]
		sub, ok := reg.channels[head]
		if !ok {
			return nil, "", fmt.Errorf("actor: unknown channel %q", head)
		}
		reg, path = sub, rest
	}
}

// GetParametersArgs/Reply mirror get_parameters's wire shape (§4.8):
// get_parameters(parameters: [string]) -> {name: value}.
type GetParametersArgs struct {
	Parameters []string `json:"parameters"`
}
type GetParametersReply map[string]json.RawMessage

// GetParameters implements the get_parameters RPC method. It is registered
// under that name via methods.Registry.RegisterNamed since "get_parameters"
// is not a valid exported Go identifier.
func (r *Registry) GetParameters(args *GetParametersArgs, reply *GetParametersReply) error {
	out := make(GetParametersReply, len(args.Parameters))
	for _, name := range args.Parameters {
		reg, leaf, err := r.resolve(name)
		if err != nil {
			return err
		}
		p, ok := reg.parameters[leaf]
		if !ok {
			return fmt.Errorf("actor: unknown parameter %q", name)
		}
		v, err := p.Get()
		if err != nil {
			return fmt.Errorf("actor: get %q: %w", name, err)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("actor: get %q: %w", name, err)
		}
		out[name] = b
	}
	*reply = out
	return nil
}

// SetParametersArgs/Reply mirror set_parameters's wire shape (§4.8):
// set_parameters({name: value}) -> null.
type SetParametersArgs map[string]json.RawMessage
type SetParametersReply struct{}

// SetParameters implements the set_parameters RPC method.
func (r *Registry) SetParameters(args *SetParametersArgs, reply *SetParametersReply) error {
	for name, raw := range *args {
		reg, leaf, err := r.resolve(name)
		if err != nil {
			return err
		}
		p, ok := reg.parameters[leaf]
		if !ok {
			return fmt.Errorf("actor: unknown parameter %q", name)
		}
		if err := p.Set(raw); err != nil {
			return fmt.Errorf("actor: set %q: %w", name, err)
		}
	}
	*reply = SetParametersReply{}
	return nil
}

// CallActionArgs/Reply mirror call_action's wire shape (§4.8):
// call_action(action: string, *args, **kwargs) -> value.
type CallActionArgs struct {
	Action string                     `json:"action"`
	Args   []json.RawMessage          `json:"args"`
	Kwargs map[string]json.RawMessage `json:"kwargs"`
}
type CallActionReply struct {
	Result json.RawMessage `json:"result"`
}

// CallAction implements the call_action RPC method.
func (r *Registry) CallAction(args *CallActionArgs, reply *CallActionReply) error {
	reg, leaf, err := r.resolve(args.Action)
	if err != nil {
		return err
	}
	a, ok := reg.actions[leaf]
	if !ok {
		return fmt.Errorf("actor: unknown action %q", args.Action)
	}
	result, err := a(args.Args, args.Kwargs)
	if err != nil {
		return fmt.Errorf("actor: call_action %q: %w", args.Action, err)
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("actor: call_action %q: %w", args.Action, err)
	}
	reply.Result = b
	return nil
}

// Register exposes r's three RPC methods on a method registry (the shape
// component.Runtime.RegisterNamed and methods.Registry.RegisterNamed
// provide) under their wire names.
func (r *Registry) Register(reg interface {
	RegisterNamed(name string, fn any) error
}) error {
	if err := reg.RegisterNamed("get_parameters", r.GetParameters); err != nil {
		return err
	}
	if err := reg.RegisterNamed("set_parameters", r.SetParameters); err != nil {
		return err
	}
	if err := reg.RegisterNamed("call_action", r.CallAction); err != nil {
		return err
	}
	return nil
}
