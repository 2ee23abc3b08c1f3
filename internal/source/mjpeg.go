package source

import (
	"context"
	"fmt"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/crowdvision/people-counter/internal/logger"
	"github.com/crowdvision/people-counter/pkg/types"
)

// MJPEGSource pulls frames from an IP camera's multipart MJPEG endpoint. It
// connects lazily and redials on the next read after a stream error.
type MJPEGSource struct {
	url    string
	client *http.Client

	resp   *http.Response
	reader *multipart.Reader
	number uint64
}

// NewMJPEGSource creates a source for the given stream URL.
func NewMJPEGSource(url string) *MJPEGSource {
	return &MJPEGSource{
		url: url,
		// No overall timeout: the response body is a never-ending stream.
		client: &http.Client{},
	}
}

func (s *MJPEGSource) connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		return fmt.Errorf("not an MJPEG stream (content-type %q)", resp.Header.Get("Content-Type"))
	}

	s.resp = resp
	s.reader = multipart.NewReader(resp.Body, params["boundary"])
	logger.Info("MJPEGSource", "Connected to %s", s.url)
	return nil
}

// Next reads the next JPEG part from the stream.
func (s *MJPEGSource) Next(ctx context.Context) (types.Frame, error) {
	if s.reader == nil {
		if err := s.connect(ctx); err != nil {
			return types.Frame{}, err
		}
	}

	part, err := s.reader.NextPart()
	if err != nil {
		s.disconnect()
		return types.Frame{}, fmt.Errorf("read stream part: %w", err)
	}
	defer part.Close()

	img, err := jpeg.Decode(part)
	if err != nil {
		return types.Frame{}, fmt.Errorf("decode stream frame: %w", err)
	}

	s.number++
	return types.Frame{
		Image:     img,
		Timestamp: time.Now(),
		Number:    s.number,
	}, nil
}

func (s *MJPEGSource) disconnect() {
	if s.resp != nil {
		s.resp.Body.Close()
	}
	s.resp = nil
	s.reader = nil
}

// Close terminates the stream connection.
func (s *MJPEGSource) Close() error {
	s.disconnect()
	return nil
}
