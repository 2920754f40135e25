package actor

import (
	"encoding/json"
	"testing"
)

func TestGetAndSetParameters(t *testing.T) {
	r := New()
	value := 10.0
	r.Parameter("par1", Parameter{
		Get: func() (any, error) { return value, nil },
		Set: func(raw json.RawMessage) error { return json.Unmarshal(raw, &value) },
	})

	var reply GetParametersReply
	if err := r.GetParameters(&GetParametersArgs{Parameters: []string{"par1"}}, &reply); err != nil {
		t.Fatalf("GetParameters: %v", err)
	}
	if string(reply["par1"]) != "10" {
		t.Errorf("got %s, want 10", reply["par1"])
	}

	args := SetParametersArgs{"par1": json.RawMessage(`42`)}
	var setReply SetParametersReply
	if err := r.SetParameters(&args, &setReply); err != nil {
		t.Fatalf("SetParameters: %v", err)
	}
	if value != 42 {
		t.Errorf("value = %v, want 42", value)
	}
}

func TestChannelTraversal(t *testing.T) {
	sub := New()
	count := 5.0
	sub.Parameter("par1", Parameter{
		Get: func() (any, error) { return count, nil },
	})
	root := New()
	root.Channel("ch_A", sub)

	var reply GetParametersReply
	if err := root.GetParameters(&GetParametersArgs{Parameters: []string{"ch_A.par1"}}, &reply); err != nil {
		t.Fatalf("GetParameters: %v", err)
	}
	if string(reply["ch_A.par1"]) != "5" {
		t.Errorf("got %s, want 5", reply["ch_A.par1"])
	}
}

func TestGetParametersUnknownChannel(t *testing.T) {
	root := New()
	var reply GetParametersReply
	err := root.GetParameters(&GetParametersArgs{Parameters: []string{"ch_missing.par1"}}, &reply)
	if err == nil {
		t.Fatal("expected an error for an unknown channel")
	}
}

func TestGetParametersUnknownName(t *testing.T) {
	root := New()
	var reply GetParametersReply
	err := root.GetParameters(&GetParametersArgs{Parameters: []string{"ghost"}}, &reply)
	if err == nil {
		t.Fatal("expected an error for an unknown parameter")
	}
}

func TestCallAction(t *testing.T) {
	r := New()
	r.Action("move", func(args []json.RawMessage, kwargs map[string]json.RawMessage) (any, error) {
		var dx int
		json.Unmarshal(args[0], &dx)
		return dx * 2, nil
	})

	var reply CallActionReply
	in := CallActionArgs{Action: "move", Args: []json.RawMessage{json.RawMessage(`3`)}}
	if err := r.CallAction(&in, &reply); err != nil {
		t.Fatalf("CallAction: %v", err)
	}
	if string(reply.Result) != "6" {
		t.Errorf("got %s, want 6", reply.Result)
	}
}

func TestCallActionUnknown(t *testing.T) {
	r := New()
	var reply CallActionReply
	err := r.CallAction(&CallActionArgs{Action: "ghost"}, &reply)
	if err == nil {
		t.Fatal("expected an error for an unknown action")
	}
}

type fakeRegister struct {
	names []string
}

func (f *fakeRegister) RegisterNamed(name string, fn any) error {
	f.names = append(f.names, name)
	return nil
}

func TestRegisterWiresAllThreeMethods(t *testing.T) {
	r := New()
	fr := &fakeRegister{}
	if err := r.Register(fr); err != nil {
		t.Fatalf("Register: %v", err)
	}
	want := []string{"get_parameters", "set_parameters", "call_action"}
	if len(fr.names) != len(want) {
		t.Fatalf("got %v, want %v", fr.names, want)
	}
	for i := range want {
		if fr.names[i] != want[i] {
			t.Fatalf("got %v, want %v", fr.names, want)
		}
	}
}
