package frame

import (
	"io"

	"leco/fullname"
)

// DataHeaderSize is the fixed size of the data-plane header frame:
// conversation_id(16) || message_type(1).
const DataHeaderSize = 17

// DataEnvelope is the parsed form of a data-plane frame sequence: topic,
// header, one or more data frames.
type DataEnvelope struct {
	Topic          fullname.FullName
	ConversationID ConversationID
	MessageType    MessageType
	DataFrames     [][]byte
}

// EncodeData serializes a DataEnvelope to its frame sequence and writes it
// to w. The proxy never calls this — it is pure pass-through — this is
// used by publishers and subscribers on either end.
func EncodeData(w io.Writer, env *DataEnvelope) error {
	header := make([]byte, DataHeaderSize)
	copy(header[0:16], env.ConversationID[:])
	header[16] = byte(env.MessageType)

	frames := make([][]byte, 0, 2+len(env.DataFrames))
	frames = append(frames, env.Topic.Bytes(), header)
	frames = append(frames, env.DataFrames...)
	return WriteFrames(w, frames)
}

// DecodeData reads one data-plane envelope from r.
func DecodeData(r io.Reader) (*DataEnvelope, error) {
	frames, err := ReadFrames(r)
	if err != nil {
		return nil, err
	}
	if len(frames) < 3 {
		return nil, &MalformedFrame{Reason: "data envelope needs at least 3 frames"}
	}
	if len(frames[1]) != DataHeaderSize {
		return nil, &MalformedFrame{Reason: "undersized data header frame"}
	}

	topic, err := fullname.Parse(string(frames[0]))
	if err != nil {
		return nil, &MalformedFrame{Reason: err.Error()}
	}

	env := &DataEnvelope{Topic: topic, DataFrames: frames[2:]}
	copy(env.ConversationID[:], frames[1][0:16])
	env.MessageType = MessageType(frames[1][16])
	return env, nil
}
