// Package logrecord implements the data-plane log record wire shape (§6):
// a JSON array [asctime, levelname, logger_name, text]. It is the
// concrete counterpart to the distilled spec's external "DataLogger"
// collaborator — the DataLogger itself is out of scope, but the wire
// format it reads off the data plane is not.
package logrecord

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireTimeLayout matches §6's "YYYY-MM-DD HH:MM:SS" asctime format.
const wireTimeLayout = "2006-01-02 15:04:05"

// Record is one log entry as published on the data plane.
type Record struct {
	Time   time.Time
	Level  string
	Logger string
	Text   string
}

// Encode renders r as its wire JSON array.
func (r Record) Encode() ([]byte, error) {
	return json.Marshal([4]string{r.Time.Format(wireTimeLayout), r.Level, r.Logger, r.Text})
}

// Decode parses a wire JSON array into a Record.
func Decode(data []byte) (Record, error) {
	var fields []string
	if err := json.Unmarshal(data, &fields); err != nil {
		return Record{}, fmt.Errorf("logrecord: %w", err)
	}
	if len(fields) != 4 {
		return Record{}, fmt.Errorf("logrecord: want 4 fields, got %d", len(fields))
	}
	t, err := time.ParseInLocation(wireTimeLayout, fields[0], time.Local)
	if err != nil {
		return Record{}, fmt.Errorf("logrecord: bad asctime %q: %w", fields[0], err)
	}
	return Record{Time: t, Level: fields[1], Logger: fields[2], Text: fields[3]}, nil
}

// Frames renders r as the single data frame a frame.DataEnvelope carries
// for a log publication.
func (r Record) Frames() ([][]byte, error) {
	b, err := r.Encode()
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

// FromFrames extracts the Record carried in a data-plane envelope's data
// frames.
func FromFrames(frames [][]byte) (Record, error) {
	if len(frames) == 0 {
		return Record{}, fmt.Errorf("logrecord: empty data frames")
	}
	return Decode(frames[0])
}
