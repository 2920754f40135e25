package rpcmsg

import (
	"encoding/json"
	"errors"
)

// Request is a JSON-RPC 2.0 request or notification (ID absent).
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     *ID             `json:"id,omitempty"`
}

// IsNotification reports whether this request carries no id and therefore
// expects no response.
func (r *Request) IsNotification() bool { return r.ID == nil }

// wireRequest adds the mandatory "jsonrpc" field for marshaling.
type wireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *ID             `json:"id,omitempty"`
}

// MarshalJSON renders the request with the "jsonrpc":"2.0" envelope field.
func (r *Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRequest{JSONRPC: "2.0", Method: r.Method, Params: r.Params, ID: r.ID})
}

// NewRequest builds a request with the given id and JSON-encoded params.
func NewRequest(id ID, method string, params json.RawMessage) *Request {
	idCopy := id
	return &Request{Method: method, Params: params, ID: &idCopy}
}

// NewNotification builds a request with no id.
func NewNotification(method string, params json.RawMessage) *Request {
	return &Request{Method: method, Params: params}
}

// Response is a JSON-RPC 2.0 response: exactly one of Result or Error is
// set.
type Response struct {
	ID     ID              `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// MarshalJSON renders the response with the "jsonrpc":"2.0" envelope field.
func (r *Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireResponse{JSONRPC: "2.0", ID: r.ID, Result: r.Result, Error: r.Error})
}

// NewResultResponse builds a success response.
func NewResultResponse(id ID, result json.RawMessage) *Response {
	return &Response{ID: id, Result: result}
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id ID, err *Error) *Response {
	return &Response{ID: id, Error: err}
}

// ErrNotSingleOrBatch is returned by DecodePayload when the top-level JSON
// value is neither an object nor an array.
var ErrNotSingleOrBatch = errors.New("rpcmsg: payload is neither an object nor an array")

// rawEnvelope is used only to distinguish a request from a response by the
// presence of "method" vs "result"/"error" — JSON-RPC 2.0 requests and
// responses share no required field that alone disambiguates them.
type rawEnvelope struct {
	Method *string          `json:"method"`
	Result *json.RawMessage `json:"result"`
	Error  *Error           `json:"error"`
}

// Decoded is one element of a decoded JSON-RPC payload: exactly one of
// Request or Response is set.
type Decoded struct {
	Request  *Request
	Response *Response
}

// DecodePayload parses a JSON-RPC payload frame (§4.2: "single objects and
// batch arrays") into a slice of Decoded elements — length 1 for a single
// object, length N for a batch array — plus whether the payload was
// array-shaped. That flag, not len(decoded), is what callers must use to
// decide the reply shape: a one-element batch array still wants a
// one-element batch array back, per §7's "Batch requests return a batch of
// responses in the original order."
func DecodePayload(data []byte) ([]Decoded, bool, error) {
	trimmed := trimLeadingSpace(data)
	if len(trimmed) == 0 {
		return nil, false, ErrNotSingleOrBatch
	}
	switch trimmed[0] {
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, false, err
		}
		out := make([]Decoded, 0, len(raws))
		for _, raw := range raws {
			d, err := decodeOne(raw)
			if err != nil {
				return nil, false, err
			}
			out = append(out, d)
		}
		return out, true, nil
	case '{':
		d, err := decodeOne(data)
		if err != nil {
			return nil, false, err
		}
		return []Decoded{d}, false, nil
	default:
		return nil, false, ErrNotSingleOrBatch
	}
}

func decodeOne(data []byte) (Decoded, error) {
	var env rawEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Decoded{}, err
	}
	if env.Method != nil {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return Decoded{}, err
		}
		return Decoded{Request: &req}, nil
	}
	if env.Result != nil || env.Error != nil {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return Decoded{}, err
		}
		return Decoded{Response: &resp}, nil
	}
	return Decoded{}, errors.New("rpcmsg: object is neither a request nor a response")
}

// EncodeSingle marshals a single request or response to its JSON payload
// frame form.
func EncodeSingle(v json.Marshaler) ([]byte, error) {
	return v.MarshalJSON()
}

// EncodeBatch marshals a slice of requests/responses to a JSON array
// payload frame.
func EncodeBatch(items []json.Marshaler) ([]byte, error) {
	parts := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		b, err := it.MarshalJSON()
		if err != nil {
			return nil, err
		}
		parts = append(parts, b)
	}
	return json.Marshal(parts)
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}
