package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/afero"

	"github.com/nexusfield/uploadq/internal/logging"
	"github.com/nexusfield/uploadq/internal/uploader/multipart"
)

// HTTPSession is the in-process Session adapter: it streams the payload
// from disk on its own goroutine with an hours-scale timeout, the closest
// analog of an OS background URL session this runtime offers. The file is
// never buffered whole in memory.
type HTTPSession struct {
	fs        afero.Fs
	uploadURL string
	client    *http.Client
	log       logging.Logger

	complete func(taskID string, statusCode int, transportErr error)
}

func NewHTTPSession(fs afero.Fs, uploadURL string, timeout time.Duration, log logging.Logger) *HTTPSession {
	return &HTTPSession{
		fs:        fs,
		uploadURL: uploadURL,
		client:    &http.Client{Timeout: timeout},
		log:       log,
	}
}

// OnComplete registers the completion callback, normally the delegate's
// Complete method. Must be set before the first Enqueue.
func (s *HTTPSession) OnComplete(fn func(taskID string, statusCode int, transportErr error)) {
	s.complete = fn
}

// Enqueue validates the payload file and starts the transfer. It returns
// before any bytes move; the result arrives through the completion
// callback.
func (s *HTTPSession) Enqueue(t Task) error {
	f, err := s.fs.Open(t.Path)
	if err != nil {
		return fmt.Errorf("open payload %s: %w", t.Path, err)
	}
	go s.run(t, f)
	return nil
}

func (s *HTTPSession) run(t Task, f afero.File) {
	defer f.Close()
	ctx := context.Background()

	body, boundary, err := multipart.Stream(t.Fields, t.Filename, t.MimeType, f)
	if err != nil {
		s.finish(t.ID, 0, err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.uploadURL, body)
	if err != nil {
		s.finish(t.ID, 0, err)
		return
	}
	req.Header.Set("Content-Type", multipart.ContentType(boundary))
	if t.Token != "" {
		req.Header.Set("Authorization", "JWT "+t.Token)
	}

	s.log.Debug(ctx, "background transfer started", "task", t.ID, "filename", t.Filename)

	resp, err := s.client.Do(req)
	if err != nil {
		s.finish(t.ID, 0, err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	s.finish(t.ID, resp.StatusCode, nil)
}

func (s *HTTPSession) finish(id string, statusCode int, err error) {
	if s.complete != nil {
		s.complete(id, statusCode, err)
	}
}
