// Package storage persists camera frames and their classification results
// to a user-defined directory. Each saved frame is a JPEG tagged with a
// millisecond monotonic identifier, with the top label embedded as EXIF
// ImageDescription, plus a correlated line in an append-only results log.
package storage

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/feederwatch/classifier/internal/classify"
)

// SampleKind distinguishes deterrent-mode event captures from
// training-mode collection captures.
type SampleKind int

const (
	SampleEvent SampleKind = iota
	SampleTraining
)

func (k SampleKind) prefix() string {
	if k == SampleTraining {
		return "train"
	}
	return "img"
}

const jpegQuality = 90

// Saver writes frames and a results log to a storage directory.
type Saver struct {
	mu          sync.Mutex
	dir         string
	resultsLog  *os.File
	start       time.Time
	startMillis int64
	lastTag     int64
	saved       uint64
}

// NewSaver creates the storage directory if needed and opens the
// append-only results log. Errors here are startup-fatal for the caller.
func NewSaver(dir string) (*Saver, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory not configured")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	logPath := filepath.Join(dir, "results.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open results log: %w", err)
	}

	return &Saver{
		dir:         dir,
		resultsLog:  f,
		start:       time.Now(),
		startMillis: time.Now().UnixMilli() % 10_000_000_000,
	}, nil
}

// Save encodes the frame as JPEG with the top label embedded as EXIF
// ImageDescription, writes it under a monotonic millisecond tag, and
// appends a correlating record to the results log. Returns the stored
// file path.
func (s *Saver) Save(img image.Image, result []classify.Class, kind SampleKind) (string, error) {
	if len(result) == 0 {
		return "", fmt.Errorf("refusing to save frame without a result")
	}

	tag := s.nextTag()
	name := fmt.Sprintf("%s-%010d.jpg", kind.prefix(), tag)
	path := filepath.Join(s.dir, name)

	data, err := encodeJPEG(img)
	if err != nil {
		return "", fmt.Errorf("failed to encode frame: %w", err)
	}

	// Best effort: a frame without EXIF is still worth keeping.
	if tagged, err := withImageDescription(data, result[0].Label); err == nil {
		data = tagged
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write frame: %w", err)
	}

	s.mu.Lock()
	s.saved++
	fmt.Fprintf(s.resultsLog, "%s Image: %010d Results: %v\n",
		time.Now().Format("2006-01-02 15:04:05.000"), tag, result)
	s.mu.Unlock()

	return path, nil
}

// nextTag returns a strictly increasing 10-digit millisecond tag
// anchored to the process monotonic clock.
func (s *Saver) nextTag() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag := (s.startMillis + time.Since(s.start).Milliseconds()) % 10_000_000_000
	if tag <= s.lastTag {
		tag = s.lastTag + 1
	}
	s.lastTag = tag
	return tag
}

// Saved returns the number of frames written so far.
func (s *Saver) Saved() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// Dir returns the storage directory.
func (s *Saver) Dir() string {
	return s.dir
}

// Close closes the results log.
func (s *Saver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultsLog == nil {
		return nil
	}
	err := s.resultsLog.Close()
	s.resultsLog = nil
	return err
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
