// Package queue implements the durable FIFO of pending uploads and its
// single-flight drain loop.
package queue

import (
	"github.com/google/uuid"
)

// PendingUpload is one durable queue entry. The payload lives either inline
// (Data, small assets) or as a reference to a file on stable storage
// (FilePath, large assets), never both, so nothing is stored twice.
//
// IDs are assigned once at creation and never reused, even after removal.
type PendingUpload struct {
	ID       string            `json:"id"`
	Filename string            `json:"filename"`
	MimeType string            `json:"mimeType"`
	Data     []byte            `json:"data,omitempty"`
	FilePath string            `json:"filePath,omitempty"`
	Fields   map[string]string `json:"fields"`
	Token    string            `json:"token,omitempty"`
}

// NewPendingUpload creates an inline-payload entry with a fresh id. The
// token is a snapshot of the credential at enqueue time; it is re-validated
// at send time and superseded by a fresher one when available.
func NewPendingUpload(filename, mimeType string, data []byte, fields map[string]string, token string) PendingUpload {
	return PendingUpload{
		ID:       uuid.NewString(),
		Filename: filename,
		MimeType: mimeType,
		Data:     data,
		Fields:   fields,
		Token:    token,
	}
}

// NewPendingFileUpload creates an entry referencing a file on stable local
// storage instead of carrying the bytes inline.
func NewPendingFileUpload(path, filename, mimeType string, fields map[string]string, token string) PendingUpload {
	return PendingUpload{
		ID:       uuid.NewString(),
		Filename: filename,
		MimeType: mimeType,
		FilePath: path,
		Fields:   fields,
		Token:    token,
	}
}
