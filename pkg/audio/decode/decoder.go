// ABOUTME: Decoder interface and input selection
// ABOUTME: Opens files, URLs or the test tone by name
package decode

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
	"github.com/charmbracelet/log"
)

// ErrUnsupportedInput is returned by Open for unknown file types
var ErrUnsupportedInput = errors.New("unsupported input")

// Decoder produces interleaved PCM
type Decoder interface {
	// Read fills p with PCM bytes in Format. It returns io.EOF at the end.
	Read(p []byte) (int, error)

	// Format describes the PCM produced by Read
	Format() audio.Format

	// Close releases the decoder and its input
	Close() error
}

// Open picks a decoder for the input. An empty name plays the test tone
// in raw's format; .pcm and .raw files are read as raw.
func Open(name string, raw audio.Format) (Decoder, error) {
	if name == "" {
		tone, err := NewTone(raw, DefaultToneFrequency)
		if err != nil {
			return nil, err
		}
		return tone, nil
	}
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		return openHTTPMP3(name)
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}

	var dec Decoder
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".mp3":
		dec, err = NewMP3(f)
	case ".flac":
		dec, err = NewFLAC(f)
	case ".opus", ".ogg":
		dec, err = NewOpus(f)
	case ".pcm", ".raw":
		dec, err = NewPCM(f, raw)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedInput, ext)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	log.Info("Loaded input", "file", filepath.Base(name), "format", dec.Format())
	return dec, nil
}

func openHTTPMP3(url string) (Decoder, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch stream: HTTP %d", resp.StatusCode)
	}

	dec, err := NewMP3(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	log.Info("Streaming MP3", "url", url, "format", dec.Format())
	return dec, nil
}
