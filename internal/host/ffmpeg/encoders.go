package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/schovi/mediarec/internal/capture"
)

const encodersTimeout = 5 * time.Second

// codecEncoders maps a codecs= token to the ffmpeg encoder and the stream
// option that selects it.
var codecEncoders = map[string]struct {
	encoder string
	option  string
}{
	"opus":   {"libopus", "-c:a"},
	"vorbis": {"libvorbis", "-c:a"},
	"vp8":    {"libvpx", "-c:v"},
	"vp9":    {"libvpx-vp9", "-c:v"},
}

// genericEncoders lists encoders of which at least one must exist for a
// container type without a codecs parameter.
var genericEncoders = map[string][]string{
	"audio/webm": {"libopus", "libvorbis"},
	"video/webm": {"libvpx", "libvpx-vp9"},
}

// parseMIMEType splits "audio/webm;codecs=vp8,opus" into its base type and
// codec tokens. mime.ParseMediaType rejects the unquoted comma list that
// recorders use, so the parameter is split by hand.
func parseMIMEType(mimeType string) (string, []string) {
	base, params, _ := strings.Cut(mimeType, ";")
	base = strings.ToLower(strings.TrimSpace(base))

	var codecs []string
	for _, p := range strings.Split(params, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "codecs") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		for _, c := range strings.Split(value, ",") {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				codecs = append(codecs, c)
			}
		}
	}
	return base, codecs
}

// outputArgs returns the ffmpeg output options producing mimeType.
func outputArgs(mimeType string) ([]string, error) {
	base, codecs := parseMIMEType(mimeType)
	if _, ok := genericEncoders[base]; !ok {
		return nil, fmt.Errorf("%w: %s", capture.ErrUnsupportedFormat, mimeType)
	}

	var args []string
	if base == "audio/webm" {
		args = append(args, "-vn")
	}
	for _, c := range codecs {
		enc, ok := codecEncoders[c]
		if !ok {
			return nil, fmt.Errorf("%w: codec %q", capture.ErrUnsupportedFormat, c)
		}
		if base == "audio/webm" && enc.option == "-c:v" {
			return nil, fmt.Errorf("%w: video codec %q in audio container", capture.ErrUnsupportedFormat, c)
		}
		args = append(args, enc.option, enc.encoder)
	}
	return args, nil
}

// IsTypeSupported reports whether the local ffmpeg build has the encoders
// mimeType needs. The encoder list is read once per Devices.
func (d *Devices) IsTypeSupported(mimeType string) bool {
	d.encodersOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), encodersTimeout)
		defer cancel()

		out, err := d.listEncoders(ctx)
		if err != nil {
			d.logger.Warn("failed to list ffmpeg encoders", "error", err.Error())
			d.encoders = map[string]bool{}
			return
		}
		d.encoders = parseEncoders(out)
		d.logger.Debug("ffmpeg encoders loaded", "count", len(d.encoders))
	})

	base, codecs := parseMIMEType(mimeType)
	generic, ok := genericEncoders[base]
	if !ok {
		return false
	}
	if _, err := outputArgs(mimeType); err != nil {
		return false
	}

	if len(codecs) == 0 {
		for _, enc := range generic {
			if d.encoders[enc] {
				return true
			}
		}
		return false
	}
	for _, c := range codecs {
		if !d.encoders[codecEncoders[c].encoder] {
			return false
		}
	}
	return true
}

func (d *Devices) runEncoders(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, d.path, "-hide_banner", "-encoders").Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg -encoders: %w", err)
	}
	return string(out), nil
}

// parseEncoders reads the table printed by `ffmpeg -encoders`. Entries
// follow the "------" separator as "<flags> <name> <description>".
func parseEncoders(out string) map[string]bool {
	encoders := make(map[string]bool)
	inTable := false

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "---") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}
