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

	"github.com/crowdvision/people-counter/internal/logger"
	"github.com/crowdvision/people-counter/pkg/types"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// DirSource replays a directory of still images at a fixed rate, looping
// forever. Useful for recorded footage exported as frames and for demos.
type DirSource struct {
	files  []string
	ticker *time.Ticker
	index  int
	number uint64
}

// NewDirSource scans dir for image files and replays them at fps.
func NewDirSource(dir string, fps int) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, ok := imageExtensions[ext]; ok {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files in %s", dir)
	}
	sort.Strings(files)

	return &DirSource{
		files:  files,
		ticker: time.NewTicker(time.Second / time.Duration(fps)),
	}, nil
}

// Next returns the next frame in sequence, waiting out the frame interval.
func (s *DirSource) Next(ctx context.Context) (types.Frame, error) {
	select {
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	case <-s.ticker.C:
	}

	// A file that fails to decode is skipped rather than wedging the loop.
	for attempts := 0; attempts < len(s.files); attempts++ {
		path := s.files[s.index]
		s.index = (s.index + 1) % len(s.files)

		img, err := decodeFile(path)
		if err != nil {
			logger.Warn("DirSource", "Skipping %s: %v", path, err)
			continue
		}

		s.number++
		return types.Frame{
			Image:     img,
			Timestamp: time.Now(),
			Number:    s.number,
		}, nil
	}

	return types.Frame{}, fmt.Errorf("no decodable frames left in source")
}

// Close stops the replay ticker.
func (s *DirSource) Close() error {
	s.ticker.Stop()
	return nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
