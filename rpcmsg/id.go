// Package rpcmsg implements the JSON-RPC 2.0 content layer carried inside
// control-plane envelopes: single requests/responses/notifications and
// batches, with the fixed LECO error code table.
package rpcmsg

import (
	"encoding/json"
	"strconv"
)

// ID is a JSON-RPC request id: either a number or a string, per the
// JSON-RPC 2.0 spec. The zero value is the numeric id 0, which is distinct
// from "no id" (a notification) — callers use Request.IsNotification for
// that distinction.
type ID struct {
	Num      int64
	Str      string
	IsString bool
}

// NewNumID builds a numeric ID.
func NewNumID(n int64) ID { return ID{Num: n} }

// NewStrID builds a string ID.
func NewStrID(s string) ID { return ID{Str: s, IsString: true} }

func (id ID) String() string {
	if id.IsString {
		return strconv.Quote(id.Str)
	}
	return strconv.FormatInt(id.Num, 10)
}

// MarshalJSON renders the id as a bare JSON number or string.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsString {
		return json.Marshal(id.Str)
	}
	return json.Marshal(id.Num)
}

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (id *ID) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = ID{Num: n}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*id = ID{Str: s, IsString: true}
	return nil
}
