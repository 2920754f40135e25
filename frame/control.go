package frame

import (
	"io"

	"leco/fullname"
)

// Version is the only control-plane envelope version this codec speaks.
const Version byte = 0

// ControlHeaderSize is the fixed size of the control-plane header frame:
// conversation_id(16) || message_id(3) || message_type(1).
const ControlHeaderSize = 20

// MessageType identifies how to interpret the payload frames of a control
// envelope.
type MessageType byte

const (
	// MessageTypeUndefined is reserved; frames MUST NOT be sent with it.
	MessageTypeUndefined MessageType = 0
	// MessageTypeJSON marks payload frame 0 as UTF-8 JSON-RPC content.
	MessageTypeJSON MessageType = 1
	// MessageTypeUserBinaryMin is the first value reserved for
	// user-defined binary payload extensions.
	MessageTypeUserBinaryMin MessageType = 128
)

// ConversationID is the 16-byte time-ordered correlation key (UUIDv7).
type ConversationID [16]byte

// IsZero reports whether the id is all-zero, i.e. unset. Every request
// MUST carry a non-zero conversation id.
func (c ConversationID) IsZero() bool {
	return c == ConversationID{}
}

// MessageID is the reserved 3-byte field with no defined semantics.
// Implementers MUST transmit zeros and MUST accept any value.
type MessageID [3]byte

// ControlEnvelope is the parsed form of a control-plane frame sequence:
// version, receiver, sender, header, zero or more payload frames.
type ControlEnvelope struct {
	Receiver       fullname.FullName
	Sender         fullname.FullName
	ConversationID ConversationID
	MessageID      MessageID
	MessageType    MessageType
	Payloads       [][]byte
}

// EncodeControl serializes a ControlEnvelope to its frame sequence and
// writes it to w.
func EncodeControl(w io.Writer, env *ControlEnvelope) error {
	header := make([]byte, ControlHeaderSize)
	copy(header[0:16], env.ConversationID[:])
	copy(header[16:19], env.MessageID[:])
	header[19] = byte(env.MessageType)

	frames := make([][]byte, 0, 4+len(env.Payloads))
	frames = append(frames, []byte{Version}, env.Receiver.Bytes(), env.Sender.Bytes(), header)
	frames = append(frames, env.Payloads...)
	return WriteFrames(w, frames)
}

// DecodeControl reads one control-plane envelope from r.
func DecodeControl(r io.Reader) (*ControlEnvelope, error) {
	frames, err := ReadFrames(r)
	if err != nil {
		return nil, err
	}
	if len(frames) < 4 {
		return nil, &MalformedFrame{Reason: "control envelope needs at least 4 frames"}
	}
	if len(frames[0]) != 1 {
		return nil, &MalformedFrame{Reason: "version frame must be 1 byte"}
	}
	if frames[0][0] != Version {
		return nil, &MalformedFrame{Reason: "unsupported version"}
	}
	if len(frames[3]) != ControlHeaderSize {
		return nil, &MalformedFrame{Reason: "undersized header frame"}
	}

	receiver, err := fullname.Parse(string(frames[1]))
	if err != nil {
		return nil, &MalformedFrame{Reason: err.Error()}
	}
	sender, err := fullname.Parse(string(frames[2]))
	if err != nil {
		return nil, &MalformedFrame{Reason: err.Error()}
	}

	env := &ControlEnvelope{
		Receiver: receiver,
		Sender:   sender,
	}
	copy(env.ConversationID[:], frames[3][0:16])
	copy(env.MessageID[:], frames[3][16:19])
	env.MessageType = MessageType(frames[3][19])
	if len(frames) > 4 {
		env.Payloads = frames[4:]
	}
	return env, nil
}
