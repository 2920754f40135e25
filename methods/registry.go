// Package methods implements the local RPC method registry used by the
// Component runtime (§4.5). The Coordinator's administrative RPC surface
// (§4.6.2) does not use it; it dispatches in coordinator.callAdmin.
//
// It generalizes the teacher framework's reflection-based service
// dispatch (func(receiver) Method(args *ArgsType, reply *ReplyType) error,
// discovered by scanning a registered struct's exported methods) from a
// two-level "Service.Method" namespace down to a single flat method
// namespace, since on the wire a full name already identifies the
// receiving Component — there is no second "service" level to split on.
package methods

import (
	"encoding/json"
	"fmt"
	"reflect"

	"leco/rpcmsg"
)

// methodType holds the reflection metadata needed to invoke one registered
// method.
type methodType struct {
	method    reflect.Value
	ArgType   reflect.Type
	ReplyType reflect.Type
}

// errorType is used to check a method's return type is exactly `error`.
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Registry maps method names to their reflection metadata. It is written
// only during setup and read during dispatch, so no locking is needed
// once registration is complete (per §5's "Local RPC registry: written
// only during setup; read during dispatch").
type Registry struct {
	methods map[string]*methodType
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{methods: make(map[string]*methodType)}
}

// Register scans rcvr's exported methods for the signature
// func(args *ArgsType, reply *ReplyType) error and adds each one under its
// Go method name. Methods that don't match are silently skipped, matching
// the teacher's RegisterMethods behavior.
func (r *Registry) Register(rcvr any) error {
	val := reflect.ValueOf(rcvr)
	typ := val.Type()
	if typ.Kind() != reflect.Ptr {
		return fmt.Errorf("methods: rcvr must be a pointer, got %s", typ.Kind())
	}

	n := 0
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		mt := m.Type // includes receiver as In(0)
		if mt.NumIn() != 3 || mt.NumOut() != 1 {
			continue
		}
		if mt.Out(0) != errorType {
			continue
		}
		if mt.In(1).Kind() != reflect.Ptr || mt.In(2).Kind() != reflect.Ptr {
			continue
		}
		r.methods[m.Name] = &methodType{
			method:    val.Method(i),
			ArgType:   mt.In(1).Elem(),
			ReplyType: mt.In(2).Elem(),
		}
		n++
	}
	if n == 0 {
		return fmt.Errorf("methods: %T exposes no RPC-compatible methods", rcvr)
	}
	return nil
}

// RegisterNamed registers a single method under an explicit name, for
// wire method names that aren't valid exported Go identifiers (e.g.
// "sign_in", snake_case per §4.6.2) while keeping the underlying Go method
// capitalized. fn must be a bound method value of the shape
// func(*ArgsType, *ReplyType) error.
func (r *Registry) RegisterNamed(name string, fn any) error {
	val := reflect.ValueOf(fn)
	typ := val.Type()
	if typ.Kind() != reflect.Func || typ.NumIn() != 2 || typ.NumOut() != 1 {
		return fmt.Errorf("methods: %s: fn must be func(*Args, *Reply) error", name)
	}
	if typ.Out(0) != errorType {
		return fmt.Errorf("methods: %s: fn must return error", name)
	}
	if typ.In(0).Kind() != reflect.Ptr || typ.In(1).Kind() != reflect.Ptr {
		return fmt.Errorf("methods: %s: both params must be pointers", name)
	}
	r.methods[name] = &methodType{
		method:    val,
		ArgType:   typ.In(0).Elem(),
		ReplyType: typ.In(1).Elem(),
	}
	return nil
}

// Has reports whether a method is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.methods[name]
	return ok
}

// Call invokes a registered method by unmarshaling params into a fresh
// ArgType value, running the method, and marshaling the ReplyType value
// back out. It never panics on a missing method — callers check Has or
// handle the returned error first.
func (r *Registry) Call(name string, params json.RawMessage) (json.RawMessage, *rpcmsg.Error) {
	mt, ok := r.methods[name]
	if !ok {
		return nil, rpcmsg.MethodNotFoundErr(name)
	}

	argv := reflect.New(mt.ArgType)
	if len(params) > 0 {
		if err := json.Unmarshal(params, argv.Interface()); err != nil {
			return nil, rpcmsg.InvalidParamsErr(err.Error())
		}
	}
	replyv := reflect.New(mt.ReplyType)

	results := mt.method.Call([]reflect.Value{argv, replyv})
	if errv := results[0]; !errv.IsNil() {
		return nil, rpcmsg.InternalErrorErr(errv.Interface().(error).Error())
	}

	result, err := json.Marshal(replyv.Interface())
	if err != nil {
		return nil, rpcmsg.InternalErrorErr(err.Error())
	}
	return result, nil
}
