package source

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feederwatch/classifier/internal/logger"
)

// DirSource replays a directory of JPEG/PNG frames at a fixed interval.
// Intended for development and tests: the decision loop behaves exactly
// as with a live camera, minus the camera.
type DirSource struct {
	dir         string
	interval    time.Duration
	inputWidth  int
	inputHeight int
	loop        bool
}

// NewDirSource creates a directory replay source. interval is the pause
// between frames; inputWidth/inputHeight is the model input size the
// processed image is scaled to.
func NewDirSource(dir string, interval time.Duration, inputWidth, inputHeight int, loop bool) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("frame directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("frame directory %s is not a directory", dir)
	}
	return &DirSource{
		dir:         dir,
		interval:    interval,
		inputWidth:  inputWidth,
		inputHeight: inputHeight,
		loop:        loop,
	}, nil
}

// Run delivers the directory's frames in filename order until the
// context is cancelled or, when not looping, the files are exhausted.
func (d *DirSource) Run(ctx context.Context, cb Callback) error {
	files, err := d.listFrames()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("frame directory %s contains no images", d.dir)
	}

	var seq uint64
	for {
		for _, path := range files {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.interval):
			}

			img, err := decodeImage(path)
			if err != nil {
				logger.Warn("Source", "Skipping %s: %v", filepath.Base(path), err)
				continue
			}

			seq++
			cb(Frame{
				Processed: scaleRGBA(img, d.inputWidth, d.inputHeight),
				Full:      img,
				Seq:       seq,
				Timestamp: time.Now(),
				TraceID:   uuid.New().String(),
			})
		}
		if !d.loop {
			return nil
		}
	}
}

func (d *DirSource) listFrames() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(d.dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	return img, nil
}
