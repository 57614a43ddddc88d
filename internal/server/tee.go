package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/attribute"
)

func channelAttr(tag byte) attribute.KeyValue {
	if tag == channelSystem {
		return attribute.String("channel", "system")
	}
	return attribute.String("channel", "mic")
}

// audioTee captures raw ingress PCM to one file per channel so transcription
// issues can be replayed offline. Frames are appended as received, before
// resampling.
type audioTee struct {
	mu     sync.Mutex
	mic    *os.File
	system *os.File
}

func newAudioTee(dir, sessionID string) (*audioTee, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("server: create debug audio dir: %w", err)
	}

	mic, err := os.Create(filepath.Join(dir, sessionID+"-mic.pcm"))
	if err != nil {
		return nil, fmt.Errorf("server: create mic capture: %w", err)
	}
	system, err := os.Create(filepath.Join(dir, sessionID+"-system.pcm"))
	if err != nil {
		mic.Close()
		return nil, fmt.Errorf("server: create system capture: %w", err)
	}
	return &audioTee{mic: mic, system: system}, nil
}

func (t *audioTee) write(tag byte, pcm []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := t.mic
	if tag == channelSystem {
		f = t.system
	}
	// Capture is best effort; a full disk must not break the session.
	f.Write(pcm)
}

func (t *audioTee) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return errors.Join(t.mic.Close(), t.system.Close())
}
