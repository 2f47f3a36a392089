// Package router decides how a fresh submission reaches the CMS: sent
// directly in the foreground, handed to the background session, or parked
// in the durable queue when the direct attempt fails.
package router

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/nexusfield/uploadq/internal/common"
	"github.com/nexusfield/uploadq/internal/fieldx"
	"github.com/nexusfield/uploadq/internal/logging"
	"github.com/nexusfield/uploadq/internal/uploader/auth"
	"github.com/nexusfield/uploadq/internal/uploader/cms"
	"github.com/nexusfield/uploadq/internal/uploader/events"
	"github.com/nexusfield/uploadq/internal/uploader/multipart"
	"github.com/nexusfield/uploadq/internal/uploader/queue"
	"github.com/nexusfield/uploadq/internal/uploader/transfer"
)

// DefaultVideoThreshold is the payload size above which a direct submission
// is routed to the background session even when it is not a video.
const DefaultVideoThreshold = 15 << 20

var now = time.Now

// Request is one asset the user wants uploaded. Exactly one of Path and
// Data carries the payload. Filename and MimeType are optional; missing
// values are synthesized from the content.
type Request struct {
	Path     string
	Data     []byte
	Filename string
	MimeType string
	Fields   map[string]string
}

// Route names the path a submission took.
type Route int

const (
	SentForeground Route = iota
	SentBackground
	Queued
)

func (r Route) String() string {
	switch r {
	case SentForeground:
		return "sent"
	case SentBackground:
		return "background"
	case Queued:
		return "queued"
	default:
		return "unknown"
	}
}

// Outcome reports where a submission ended up. Result is set only for
// foreground sends, TaskID only for background handoffs, ItemID only for
// queued fallbacks.
type Outcome struct {
	Route    Route
	Filename string
	MimeType string
	Result   *cms.UploadResult
	TaskID   string
	ItemID   string
}

// Sender performs a foreground upload.
type Sender interface {
	Upload(ctx context.Context, fields map[string]string, file multipart.File, token string) (*cms.UploadResult, error)
}

// Enqueuer parks a failed submission for later delivery.
type Enqueuer interface {
	Enqueue(item queue.PendingUpload) error
}

// BackgroundTransfer hands a file to the background session.
type BackgroundTransfer interface {
	EnqueueFile(req transfer.Request) (string, error)
}

// Options wires a Router's collaborators. Sender, Queue, Tokens, Bus, Fs
// and Log are required; Transfer is optional and without it every
// submission goes foreground first.
type Options struct {
	Sender   Sender
	Queue    Enqueuer
	Transfer BackgroundTransfer
	Tokens   auth.TokenSource
	Bus      *events.Bus
	Log      logging.Logger
	Fs       afero.Fs
	SpoolDir string

	VideoThreshold int64 // defaults to DefaultVideoThreshold
	TokenLeeway    time.Duration
}

// Router classifies submissions by size and kind and dispatches them.
type Router struct {
	sender   Sender
	queue    Enqueuer
	transfer BackgroundTransfer
	tokens   auth.TokenSource
	bus      *events.Bus
	log      logging.Logger
	fs       afero.Fs
	spoolDir string

	videoThreshold int64
	tokenLeeway    time.Duration
}

func New(o Options) *Router {
	if o.VideoThreshold <= 0 {
		o.VideoThreshold = DefaultVideoThreshold
	}
	return &Router{
		sender:         o.Sender,
		queue:          o.Queue,
		transfer:       o.Transfer,
		tokens:         o.Tokens,
		bus:            o.Bus,
		log:            o.Log,
		fs:             o.Fs,
		spoolDir:       o.SpoolDir,
		videoThreshold: o.VideoThreshold,
		tokenLeeway:    o.TokenLeeway,
	}
}

// Submit dispatches one asset.
//
// Videos and payloads above the size threshold go straight to the
// background session. Everything else is tried in the foreground once; a
// non-auth failure parks the item in the durable queue instead of
// surfacing an error, so the submission is never lost. A missing or
// expired credential stops the submission before any bytes move.
func (r *Router) Submit(ctx context.Context, req Request) (*Outcome, error) {
	if req.Path == "" && len(req.Data) == 0 {
		return nil, common.ErrEmptyPayload
	}

	token, err := r.tokens.Current()
	if err != nil {
		return nil, fmt.Errorf("read credential: %w", err)
	}
	if auth.IsExpired(token, r.tokenLeeway) {
		r.bus.Publish(events.Event{Topic: events.AuthExpired})
		return nil, fmt.Errorf("submit upload: %w", common.ErrorUnauthorized)
	}

	data := req.Data
	size := int64(len(data))
	if req.Path != "" {
		info, err := r.fs.Stat(req.Path)
		if err != nil {
			return nil, fmt.Errorf("stat payload: %w", err)
		}
		size = info.Size()
	}

	mimeType, err := r.resolveMimeType(req)
	if err != nil {
		return nil, err
	}
	filename := req.Filename
	if filename == "" {
		filename = synthesizeFilename(req.Path, mimeType)
	}
	fields := fieldx.Normalize(req.Fields)

	if r.transfer != nil && (strings.HasPrefix(mimeType, "video/") || size > r.videoThreshold) {
		return r.submitBackground(ctx, req, filename, mimeType, fields, token)
	}

	if req.Path != "" {
		data, err = afero.ReadFile(r.fs, req.Path)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}

	res, err := r.sender.Upload(ctx, fields, multipart.File{Name: filename, MimeType: mimeType, Data: data}, token)
	if err == nil {
		r.log.Info(ctx, "upload sent", "filename", filename)
		return &Outcome{Route: SentForeground, Filename: filename, MimeType: mimeType, Result: res}, nil
	}

	if errors.Is(err, common.ErrorUnauthorized) {
		r.bus.Publish(events.Event{Topic: events.AuthExpired})
		return nil, fmt.Errorf("submit upload: %w", err)
	}

	// The direct attempt failed for a transient-looking reason; park the
	// asset so the drain loop can deliver it once conditions improve.
	item := r.pendingItem(req, filename, mimeType, data, fields, token)
	if qerr := r.queue.Enqueue(item); qerr != nil {
		return nil, fmt.Errorf("queue after failed send: %w", qerr)
	}
	r.log.Warn(ctx, "direct send failed, upload queued", "filename", filename, "error", err)
	return &Outcome{Route: Queued, Filename: filename, MimeType: mimeType, ItemID: item.ID}, nil
}

func (r *Router) pendingItem(req Request, filename, mimeType string, data []byte, fields map[string]string, token string) queue.PendingUpload {
	if req.Path != "" {
		return queue.NewPendingFileUpload(req.Path, filename, mimeType, fields, token)
	}
	return queue.NewPendingUpload(filename, mimeType, data, fields, token)
}

// submitBackground ensures the payload is file-backed and hands it to the
// background session. Inline payloads are spooled first; if the handoff
// then fails they are queued like any other failed submission.
func (r *Router) submitBackground(ctx context.Context, req Request, filename, mimeType string, fields map[string]string, token string) (*Outcome, error) {
	path := req.Path
	spooled := false

	if path == "" {
		if err := r.fs.MkdirAll(r.spoolDir, 0o770); err != nil {
			return nil, fmt.Errorf("create spool dir: %w", err)
		}
		path = filepath.Join(r.spoolDir, "direct-"+uuid.NewString()+".bin")
		if err := afero.WriteFile(r.fs, path, req.Data, 0o600); err != nil {
			return nil, fmt.Errorf("spool payload: %w", err)
		}
		spooled = true
	}

	taskID, err := r.transfer.EnqueueFile(transfer.Request{
		Path:     path,
		Filename: filename,
		MimeType: mimeType,
		Fields:   fields,
		Token:    token,
		Spooled:  spooled,
	})
	if err == nil {
		r.log.Info(ctx, "upload handed to background session", "filename", filename, "task", taskID)
		return &Outcome{Route: SentBackground, Filename: filename, MimeType: mimeType, TaskID: taskID}, nil
	}

	item := r.pendingItem(req, filename, mimeType, req.Data, fields, token)
	if qerr := r.queue.Enqueue(item); qerr != nil {
		return nil, fmt.Errorf("queue after failed handoff: %w", qerr)
	}
	r.log.Warn(ctx, "background handoff failed, upload queued", "filename", filename, "error", err)
	return &Outcome{Route: Queued, Filename: filename, MimeType: mimeType, ItemID: item.ID}, nil
}

// resolveMimeType keeps an explicit type and sniffs the content otherwise.
func (r *Router) resolveMimeType(req Request) (string, error) {
	if req.MimeType != "" {
		return req.MimeType, nil
	}

	var (
		mt  *mimetype.MIME
		err error
	)
	if req.Path != "" {
		f, oerr := r.fs.Open(req.Path)
		if oerr != nil {
			return "", fmt.Errorf("open payload: %w", oerr)
		}
		defer f.Close()
		mt, err = mimetype.DetectReader(f)
	} else {
		mt = mimetype.Detect(req.Data)
	}
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", err)
	}
	return mt.String(), nil
}

// synthesizeFilename names a payload that arrived without one. Path-backed
// payloads reuse their base name; inline captures get a timestamped name
// with an extension matching the detected type.
func synthesizeFilename(path, mimeType string) string {
	if path != "" {
		return filepath.Base(path)
	}
	ext := ".bin"
	if mt := mimetype.Lookup(mimeType); mt != nil && mt.Extension() != "" {
		ext = mt.Extension()
	}
	return "capture-" + now().UTC().Format("2006-01-02T15-04-05Z") + ext
}
