package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/nexusfield/uploadq/internal/fieldx"
	"github.com/nexusfield/uploadq/internal/logging"
	"github.com/nexusfield/uploadq/internal/uploader/auth"
	"github.com/nexusfield/uploadq/internal/uploader/backoff"
	"github.com/nexusfield/uploadq/internal/uploader/cms"
	"github.com/nexusfield/uploadq/internal/uploader/events"
	"github.com/nexusfield/uploadq/internal/uploader/multipart"
	"github.com/nexusfield/uploadq/internal/uploader/transfer"
)

// DefaultLargeFileThreshold is the payload size above which a queued item
// is spooled to disk and handed to the background session instead of being
// encoded in memory.
const DefaultLargeFileThreshold = 10 << 20

// Sender performs one foreground upload attempt for a queue item.
type Sender interface {
	Upload(ctx context.Context, fields map[string]string, file multipart.File, token string) (*cms.UploadResult, error)
}

// BackgroundTransfer hands file-backed payloads to the OS-level background
// upload mechanism. The returned string is the durable task identifier.
type BackgroundTransfer interface {
	EnqueueFile(req transfer.Request) (string, error)
}

// Options wires a Queue's collaborators. Store, Sender, Tokens, Bus, Fs and
// Log are required.
type Options struct {
	Store    *Store
	Sender   Sender
	Tokens   auth.TokenSource
	Transfer BackgroundTransfer // optional; without it everything goes foreground
	Bus      *events.Bus
	Policy   *backoff.Policy // defaults to backoff.Default()
	Log      logging.Logger
	Fs       afero.Fs
	SpoolDir string

	LargeFileThreshold int64 // defaults to DefaultLargeFileThreshold
	TokenLeeway        time.Duration
}

// Queue is the durable FIFO of pending uploads.
//
// Items are attempted strictly in insertion order; a retried item keeps its
// place at the head. At most one drain cycle runs at a time, enforced by
// the processing guard, so a given queue never has two concurrent send
// attempts in flight. Every mutation is persisted through the Store before
// the in-memory list is considered authoritative.
type Queue struct {
	store    *Store
	sender   Sender
	tokens   auth.TokenSource
	transfer BackgroundTransfer
	bus      *events.Bus
	policy   *backoff.Policy
	log      logging.Logger
	fs       afero.Fs
	spoolDir string

	largeThreshold int64
	tokenLeeway    time.Duration

	mu         sync.Mutex
	items      []PendingUpload
	processing bool
	attempt    int // retry counter for the current drain session
	timer      *time.Timer
}

// New loads the persisted queue state and returns a ready Queue. The drain
// loop does not start until the first trigger (Kick, enqueue, or a
// reachability transition).
func New(o Options) (*Queue, error) {
	items, err := o.Store.Load()
	if err != nil {
		return nil, err
	}

	if o.Policy == nil {
		o.Policy = backoff.Default()
	}
	if o.LargeFileThreshold <= 0 {
		o.LargeFileThreshold = DefaultLargeFileThreshold
	}

	return &Queue{
		store:          o.Store,
		sender:         o.Sender,
		tokens:         o.Tokens,
		transfer:       o.Transfer,
		bus:            o.Bus,
		policy:         o.Policy,
		log:            o.Log,
		fs:             o.Fs,
		spoolDir:       o.SpoolDir,
		largeThreshold: o.LargeFileThreshold,
		tokenLeeway:    o.TokenLeeway,
		items:          items,
	}, nil
}

// AttachTransfer binds the background transfer delegate. Called once during
// composition, before any drain trigger; it exists because the delegate
// needs the queue (to detach completed items) and the queue needs the
// delegate.
func (q *Queue) AttachTransfer(t BackgroundTransfer) {
	q.mu.Lock()
	q.transfer = t
	q.mu.Unlock()
}

// Enqueue appends item to the tail and durably records the new list before
// acknowledging. If persisting fails the item is NOT accepted: a "saved for
// later" promise the storage cannot back would be worse than an immediate
// error. A successful enqueue kicks the drain loop.
func (q *Queue) Enqueue(item PendingUpload) error {
	q.mu.Lock()
	next := make([]PendingUpload, 0, len(q.items)+1)
	next = append(next, q.items...)
	next = append(next, item)
	if err := q.store.Save(next); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("persist queue: %w", err)
	}
	q.items = next
	q.mu.Unlock()

	q.log.Info(context.Background(), "upload queued", "id", item.ID, "filename", item.Filename)
	q.Kick()
	return nil
}

// Remove deletes the item with the given id and cancels its future
// retries. Removing an unknown id is a no-op, not an error: the item may
// have completed (or been removed) while the caller was deciding, and an
// in-flight result for it is simply discarded.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(id)
}

func (q *Queue) removeLocked(id string) error {
	next := make([]PendingUpload, 0, len(q.items))
	for _, it := range q.items {
		if it.ID != id {
			next = append(next, it)
		}
	}
	if len(next) == len(q.items) {
		return nil
	}
	if err := q.store.Save(next); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	q.items = next
	return nil
}

// Items returns a snapshot of the pending list in retry order.
func (q *Queue) Items() []PendingUpload {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingUpload, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Kick starts a drain cycle unless one is already running or there is
// nothing to do. Safe to call from any goroutine, any number of times.
func (q *Queue) Kick() {
	q.mu.Lock()
	if q.processing || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	q.processing = true
	q.mu.Unlock()

	go q.drain()
}

// Stop cancels any scheduled retry wake-up. In-flight attempts finish on
// their own.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()
}

type sendOutcome int

const (
	sendSucceeded sendOutcome = iota
	sendRetry
	sendAuthBlocked
	sendDropped // item is gone (terminal, already surfaced)
)

// drain attempts the head-of-line item until the queue empties or a stop
// condition ends the cycle. Per-item transitions:
//
//	Pending -> Sending -> Succeeded (removed)
//	                   -> Requeued  (stays at head, retried after backoff)
//	                   -> AuthBlocked (stays, waits for a fresh credential)
func (q *Queue) drain() {
	ctx := context.Background()

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		head := q.items[0]
		q.mu.Unlock()

		switch q.attemptSend(ctx, head) {
		case sendSucceeded:
			q.mu.Lock()
			err := q.removeLocked(head.ID)
			q.attempt = 0
			q.mu.Unlock()
			if err != nil {
				// The upload landed but the local record survived; retrying
				// later re-sends it, which at-least-once delivery permits.
				q.log.Error(ctx, "queue state not persisted after success", "id", head.ID, "error", err)
				q.scheduleRetry(ctx)
				return
			}
			q.log.Info(ctx, "upload delivered", "id", head.ID, "filename", head.Filename)
			// Drain the remaining backlog without delay.

		case sendDropped:
			q.mu.Lock()
			_ = q.removeLocked(head.ID)
			q.mu.Unlock()

		case sendAuthBlocked:
			q.log.Warn(ctx, "session expired, queue paused", "id", head.ID)
			q.bus.Publish(events.Event{Topic: events.AuthExpired})
			q.stopProcessing()
			return

		case sendRetry:
			q.scheduleRetry(ctx)
			return
		}
	}
}

func (q *Queue) stopProcessing() {
	q.mu.Lock()
	q.processing = false
	q.mu.Unlock()
}

// scheduleRetry ends the current cycle and arms a timer for the next one.
// The attempt counter grows the delay up to the policy cap and resets on
// the next successful send.
func (q *Queue) scheduleRetry(ctx context.Context) {
	q.mu.Lock()
	q.attempt++
	delay := q.policy.Delay(q.attempt)
	q.processing = false
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(delay, q.Kick)
	attempt := q.attempt
	q.mu.Unlock()

	q.log.Info(ctx, "retry scheduled", "attempt", attempt, "delay", delay)
}

// attemptSend runs one send attempt for item. Field normalization happens
// here so every attempt, not just the first, satisfies the CMS schema.
func (q *Queue) attemptSend(ctx context.Context, item PendingUpload) sendOutcome {
	fields := fieldx.Normalize(item.Fields)

	// Prefer a fresh credential over the enqueue-time snapshot.
	token := item.Token
	if t, err := q.tokens.Current(); err == nil && t != "" {
		token = t
	}
	if auth.IsExpired(token, q.tokenLeeway) {
		return sendAuthBlocked
	}

	// Large or file-backed payloads skip in-memory encoding entirely.
	if q.transfer != nil && (item.FilePath != "" || int64(len(item.Data)) > q.largeThreshold) {
		return q.handOff(ctx, item, fields, token)
	}

	data := item.Data
	if item.FilePath != "" {
		b, err := afero.ReadFile(q.fs, item.FilePath)
		if err != nil {
			if os.IsNotExist(err) {
				// The referenced file is gone for good; retrying forever
				// would wedge the queue behind it.
				q.log.Error(ctx, "queued file vanished, dropping item", "id", item.ID, "path", item.FilePath)
				q.bus.Publish(events.Event{
					Topic: events.UploadFailed,
					Title: "Upload failed",
					Body:  fmt.Sprintf("%s is no longer on disk and was removed from the queue", item.Filename),
				})
				return sendDropped
			}
			q.log.Error(ctx, "cannot read queued file", "id", item.ID, "error", err)
			return sendRetry
		}
		data = b
	}

	_, err := q.sender.Upload(ctx, fields, multipart.File{Name: item.Filename, MimeType: item.MimeType, Data: data}, token)
	if err == nil {
		return sendSucceeded
	}

	var se *cms.StatusError
	if errors.As(err, &se) && se.AuthExpired() {
		return sendAuthBlocked
	}

	// Transport errors, 5xx and non-auth 4xx all retry: the remote schema
	// is still in flux, so no response is treated as permanently failed.
	q.log.Warn(ctx, "upload attempt failed", "id", item.ID, "error", err)
	return sendRetry
}

// handOff spools an inline payload to stable storage (file-backed items
// already live there) and transfers ownership to the background session.
// Success here means the local queue entry can go: the durable task record
// now carries the upload.
func (q *Queue) handOff(ctx context.Context, item PendingUpload, fields map[string]string, token string) sendOutcome {
	path := item.FilePath
	spooled := false

	if path == "" {
		if err := q.fs.MkdirAll(q.spoolDir, 0o770); err != nil {
			q.log.Error(ctx, "cannot create spool dir", "error", err)
			return sendRetry
		}
		path = filepath.Join(q.spoolDir, "queue-"+item.ID+".bin")
		if err := afero.WriteFile(q.fs, path, item.Data, 0o600); err != nil {
			q.log.Error(ctx, "cannot spool payload", "id", item.ID, "error", err)
			return sendRetry
		}
		spooled = true
	}

	_, err := q.transfer.EnqueueFile(transfer.Request{
		Path:     path,
		Filename: item.Filename,
		MimeType: item.MimeType,
		Fields:   fields,
		Token:    token,
		ItemID:   item.ID,
		Spooled:  spooled,
	})
	if err != nil {
		q.log.Error(ctx, "background handoff failed", "id", item.ID, "error", err)
		return sendRetry
	}

	q.log.Info(ctx, "upload handed to background session", "id", item.ID, "filename", item.Filename)
	return sendSucceeded
}
