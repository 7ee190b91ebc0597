// Package attachment writes finished recordings to disk so they can be
// attached to a complaint, optionally with a YAML manifest beside them.
package attachment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schovi/mediarec/internal/capture"
)

const ManifestExt = ".yaml"

// Manifest describes an attachment file.
type Manifest struct {
	ID              string    `yaml:"id"`
	Slot            string    `yaml:"slot,omitempty"`
	Kind            string    `yaml:"kind"`
	MediaType       string    `yaml:"media_type"`
	File            string    `yaml:"file"`
	SizeBytes       int       `yaml:"size_bytes"`
	DurationSeconds int       `yaml:"duration_seconds"`
	Partial         bool      `yaml:"partial"`
	CreatedAt       time.Time `yaml:"created_at"`
}

func NewManifest(slot string, a *capture.Artifact, file string) Manifest {
	return Manifest{
		ID:              a.ID,
		Slot:            slot,
		Kind:            string(a.Kind),
		MediaType:       a.MIMEType,
		File:            filepath.Base(file),
		SizeBytes:       a.Size(),
		DurationSeconds: a.Duration,
		Partial:         a.Partial,
		CreatedAt:       a.CreatedAt,
	}
}

// Extension maps a recorded media type to a file extension.
func Extension(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(base) {
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "video/mp4", "audio/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}

// FileName is the default attachment name for a slot's artifact.
func FileName(slot string, a *capture.Artifact) string {
	id := a.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s-%s%s", slot, id, Extension(a.MIMEType))
}

func ManifestPath(mediaPath string) string {
	return mediaPath + ManifestExt
}

// Save writes the artifact bytes to path. When withManifest is set it also
// writes path+".yaml" and returns that path.
func Save(path, slot string, a *capture.Artifact, withManifest bool) (string, error) {
	if a == nil {
		return "", fmt.Errorf("no artifact to save")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("creating attachment directory: %w", err)
		}
	}

	if err := writeAtomic(path, a.Data); err != nil {
		return "", fmt.Errorf("writing attachment: %w", err)
	}
	if !withManifest {
		return "", nil
	}

	m := NewManifest(slot, a, path)
	data, err := yaml.Marshal(&m)
	if err != nil {
		return "", fmt.Errorf("marshalling manifest: %w", err)
	}

	manifestPath := ManifestPath(path)
	if err := writeAtomic(manifestPath, data); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return manifestPath, nil
}

func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// writeAtomic leaves either the old file or the complete new one.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
