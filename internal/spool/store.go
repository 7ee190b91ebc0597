// Package spool holds the raw fragments of in-flight recordings, keyed by
// capture slot. Nothing in a spool survives a process restart.
package spool

// Chunk is one fragment as delivered by a recorder.
type Chunk struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}

type Store interface {
	Create(slot string) error
	Append(slot string, chunk Chunk) error
	// Chunks returns every chunk of slot in append order.
	Chunks(slot string) ([]Chunk, error)
	Size(slot string) (int64, error)
	Count(slot string) (int, error)
	Reset(slot string) error
	Delete(slot string) error
	Exists(slot string) bool
	List() ([]string, error)
}
