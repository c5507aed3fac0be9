package server

import (
	"context"
	"fmt"
	"reflect"

	"wirerpc/codec"
	"wirerpc/message"
)

// Fault is a dispatch failure: the status for the response envelope plus the
// remote-supplied kind and message carried in its payload. Handlers never
// leak raw transport failures through a Fault.
type Fault struct {
	Status  message.Status
	Kind    string
	Message string
}

// Failure converts the fault into its wire payload form.
func (f *Fault) Failure() message.Failure {
	return message.Failure{Kind: f.Kind, Message: f.Message}
}

// Method is the invocable capability a method name resolves to. It decodes
// the argument payload with the call's codec, runs the handler, and returns
// the encoded result, or a Fault classifying what went wrong.
type Method func(ctx context.Context, c codec.Codec, payload []byte) ([]byte, *Fault)

// service is one named registration: a disjoint method table sharing the
// dispatcher's inbound stream with every other service in the process.
type service struct {
	name    string
	methods map[string]Method
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// newService scans rcvr's exported methods and compiles every one matching
// the RPC signature into the method table.
//
// A method qualifies when it looks like:
//
//	func (s *Svc) Name(args *Args, reply *Reply) error
func newService(name string, rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: receiver must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: receiver must point to a struct, got %s", typ.Elem().Kind())
	}
	if name == "" {
		name = typ.Elem().Name()
	}

	svc := &service{name: name, methods: make(map[string]Method)}
	val := reflect.ValueOf(rcvr)
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		if m.Type.NumIn() != 3 || m.Type.NumOut() != 1 || m.Type.Out(0) != errorType ||
			m.Type.In(1).Kind() != reflect.Ptr || m.Type.In(2).Kind() != reflect.Ptr {
			continue
		}
		svc.methods[m.Name] = compileMethod(val, m)
	}
	if len(svc.methods) == 0 {
		return nil, fmt.Errorf("server: %s has no methods matching func(*Args, *Reply) error", name)
	}
	return svc, nil
}

// compileMethod binds one reflect method into a Method closure. The arg and
// reply types are resolved here, at registration time, so dispatch does no
// name-based lookup beyond the method table itself.
func compileMethod(rcvr reflect.Value, m reflect.Method) Method {
	argType := m.Type.In(1).Elem()
	replyType := m.Type.In(2).Elem()

	return func(_ context.Context, c codec.Codec, payload []byte) ([]byte, *Fault) {
		argv := reflect.New(argType)
		if err := c.Decode(payload, argv.Interface()); err != nil {
			return nil, &Fault{
				Status:  message.StatusDecodeError,
				Kind:    "decode_error",
				Message: err.Error(),
			}
		}

		replyv := reflect.New(replyType)
		results := m.Func.Call([]reflect.Value{rcvr, argv, replyv})
		if ierr := results[0].Interface(); ierr != nil {
			return nil, &Fault{
				Status:  message.StatusApplicationError,
				Kind:    "application_error",
				Message: ierr.(error).Error(),
			}
		}

		out, err := c.Encode(replyv.Interface())
		if err != nil {
			return nil, &Fault{
				Status:  message.StatusApplicationError,
				Kind:    "serialization_error",
				Message: err.Error(),
			}
		}
		return out, nil
	}
}
