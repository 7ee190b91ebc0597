package capture

import (
	"time"

	"github.com/google/uuid"

	"github.com/schovi/mediarec/internal/spool"
)

// Artifact is a finalized capture: the fragments of one recording joined
// in arrival order.
type Artifact struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	MIMEType  string    `json:"mime_type"`
	Data      []byte    `json:"data,omitempty"`
	Duration  int       `json:"duration_seconds"`
	Partial   bool      `json:"partial,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *Artifact) Size() int {
	return len(a.Data)
}

// Info is the artifact without its payload.
func (a *Artifact) Info() ArtifactInfo {
	return ArtifactInfo{
		ID:        a.ID,
		Kind:      a.Kind,
		MIMEType:  a.MIMEType,
		Size:      len(a.Data),
		Duration:  a.Duration,
		Partial:   a.Partial,
		CreatedAt: a.CreatedAt,
	}
}

type ArtifactInfo struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	MIMEType  string    `json:"mime_type"`
	Size      int       `json:"size_bytes"`
	Duration  int       `json:"duration_seconds"`
	Partial   bool      `json:"partial,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// assemble concatenates chunks in order. The media type comes from the
// first chunk; with no chunks the result is empty and typed by kind.
func assemble(kind Kind, chunks []spool.Chunk, duration int, now time.Time) *Artifact {
	mimeType := kind.DefaultMIMEType()
	if len(chunks) > 0 && chunks[0].MIMEType != "" {
		mimeType = chunks[0].MIMEType
	}

	total := 0
	for _, c := range chunks {
		total += len(c.Data)
	}
	data := make([]byte, 0, total)
	for _, c := range chunks {
		data = append(data, c.Data...)
	}

	return &Artifact{
		ID:        uuid.NewString(),
		Kind:      kind,
		MIMEType:  mimeType,
		Data:      data,
		Duration:  duration,
		CreatedAt: now,
	}
}
