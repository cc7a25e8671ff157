package model

import "errors"

var (
	// ErrInputMissing is returned when a stage's input directory does not exist.
	ErrInputMissing = errors.New("input directory not found")
	// ErrNoInputFiles is returned when a stage's input directory holds no candidate files.
	ErrNoInputFiles = errors.New("no input files found")
)

// RawMessage is one complete mail message in wire format, named by the
// provider-assigned identifier.
type RawMessage struct {
	ID  string
	Raw []byte
}

// MessageRecord is the structured form of a RawMessage.
type MessageRecord struct {
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// CombinedRecord is a MessageRecord tagged with the base name of the file it was loaded from.
type CombinedRecord struct {
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	ID      string `json:"id"`
}

// Combined tags the record with id.
func (m MessageRecord) Combined(id string) CombinedRecord {
	return CombinedRecord{
		Sender:  m.Sender,
		Subject: m.Subject,
		Body:    m.Body,
		ID:      id,
	}
}
