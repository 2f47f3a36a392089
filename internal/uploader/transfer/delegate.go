// Package transfer manages uploads delegated to a background session and
// reconciles their terminal results with local queue state.
//
// The Session is an abstract capability standing in for the OS background
// URL session of the original mobile app: enqueue must return quickly, and
// the terminal result arrives later through the delegate's Complete method.
// Task records are durable, so a completion can be matched even after the
// process was torn down and restarted in between.
package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/nexusfield/uploadq/internal/logging"
	"github.com/nexusfield/uploadq/internal/uploader/events"
)

// Request describes a file handed to the background session.
type Request struct {
	Path     string
	Filename string
	MimeType string
	Fields   map[string]string
	Token    string
	ItemID   string // owning queue entry, if any
	Spooled  bool   // Path is a spool file the delegate deletes when done
}

// Task is one delegated transfer, persisted until its terminal completion.
type Task struct {
	ID       string            `json:"id"`
	Path     string            `json:"path"`
	Filename string            `json:"filename"`
	MimeType string            `json:"mimeType"`
	Fields   map[string]string `json:"fields"`
	Token    string            `json:"token,omitempty"`
	ItemID   string            `json:"itemId,omitempty"`
	Spooled  bool              `json:"spooled"`
}

// Session moves the bytes. Implementations must not block in Enqueue; they
// report the terminal result through the completion callback with the
// task's id.
type Session interface {
	Enqueue(task Task) error
}

// ItemRemover detaches a completed task's owning queue entry.
type ItemRemover interface {
	Remove(id string) error
}

// ItemRemoverFunc adapts a function to the ItemRemover interface.
type ItemRemoverFunc func(id string) error

func (f ItemRemoverFunc) Remove(id string) error { return f(id) }

// Delegate owns the durable task registry and the completion handling.
type Delegate struct {
	fs      afero.Fs
	path    string
	session Session
	remover ItemRemover
	bus     *events.Bus
	log     logging.Logger

	mu    sync.Mutex
	tasks map[string]Task
}

// NewDelegate loads the task registry from path and returns a ready
// Delegate. Call Resume afterwards to re-submit tasks that were in flight
// when the previous process died.
func NewDelegate(fs afero.Fs, path string, session Session, remover ItemRemover, bus *events.Bus, log logging.Logger) (*Delegate, error) {
	d := &Delegate{
		fs:      fs,
		path:    path,
		session: session,
		remover: remover,
		bus:     bus,
		log:     log,
		tasks:   make(map[string]Task),
	}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

// EnqueueFile registers a durable task for req and hands it to the session.
// The task record is persisted before the session sees it, so a crash
// between the two cannot orphan an untracked transfer.
func (d *Delegate) EnqueueFile(req Request) (string, error) {
	t := Task{
		ID:       uuid.NewString(),
		Path:     req.Path,
		Filename: req.Filename,
		MimeType: req.MimeType,
		Fields:   req.Fields,
		Token:    req.Token,
		ItemID:   req.ItemID,
		Spooled:  req.Spooled,
	}

	d.mu.Lock()
	d.tasks[t.ID] = t
	err := d.saveLocked()
	d.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("persist transfer task: %w", err)
	}

	if err := d.session.Enqueue(t); err != nil {
		d.mu.Lock()
		delete(d.tasks, t.ID)
		_ = d.saveLocked()
		d.mu.Unlock()
		return "", fmt.Errorf("enqueue background transfer: %w", err)
	}

	d.log.Info(context.Background(), "background transfer enqueued", "task", t.ID, "filename", t.Filename)
	return t.ID, nil
}

// Resume re-submits every task recorded before a previous shutdown. Tasks
// whose payload file no longer exists complete immediately as failures.
func (d *Delegate) Resume() {
	d.mu.Lock()
	pending := make([]Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		pending = append(pending, t)
	}
	d.mu.Unlock()

	for _, t := range pending {
		if err := d.session.Enqueue(t); err != nil {
			d.Complete(t.ID, 0, err)
		}
	}
}

// Complete reconciles a terminal result reported by the session. Unknown
// task ids are discarded as no-ops: the user may have cancelled while the
// transfer was in flight.
//
// On success the owning queue entry, if any, is detached. On failure the
// task is NOT requeued automatically: the payload may be a spool file the
// OS has already reclaimed, so a blind requeue could enqueue a dangling
// reference. The failure is surfaced on the bus for manual retry instead.
func (d *Delegate) Complete(taskID string, statusCode int, transportErr error) {
	ctx := context.Background()

	d.mu.Lock()
	t, ok := d.tasks[taskID]
	if ok {
		delete(d.tasks, taskID)
		if err := d.saveLocked(); err != nil {
			d.log.Error(ctx, "task registry not persisted", "task", taskID, "error", err)
		}
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	if t.Spooled {
		if err := d.fs.Remove(t.Path); err != nil && !os.IsNotExist(err) {
			d.log.Warn(ctx, "spool file not removed", "path", t.Path, "error", err)
		}
	}

	if transportErr == nil && statusCode >= 200 && statusCode < 300 {
		if t.ItemID != "" && d.remover != nil {
			if err := d.remover.Remove(t.ItemID); err != nil {
				d.log.Error(ctx, "queue item not detached after background success", "item", t.ItemID, "error", err)
			}
		}
		d.log.Info(ctx, "background transfer delivered", "task", t.ID, "filename", t.Filename)
		return
	}

	if statusCode == 401 || statusCode == 403 {
		d.bus.Publish(events.Event{Topic: events.AuthExpired})
	}

	d.log.Error(ctx, "background transfer failed", "task", t.ID, "status", statusCode, "error", transportErr)
	d.bus.Publish(events.Event{
		Topic: events.UploadFailed,
		Title: "Upload failed",
		Body:  fmt.Sprintf("%s could not be uploaded in the background", t.Filename),
	})
}

// Tasks returns the registered tasks, ordered by filename for stable
// display.
func (d *Delegate) Tasks() []Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

func (d *Delegate) load() error {
	b, err := afero.ReadFile(d.fs, d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read task registry: %w", err)
	}
	var tasks []Task
	if err := json.Unmarshal(b, &tasks); err != nil {
		return fmt.Errorf("decode task registry: %w", err)
	}
	for _, t := range tasks {
		d.tasks[t.ID] = t
	}
	return nil
}

// saveLocked atomically replaces the registry file. Callers hold d.mu.
func (d *Delegate) saveLocked() error {
	tasks := make([]Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	b, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task registry: %w", err)
	}
	if err := d.fs.MkdirAll(filepath.Dir(d.path), 0o770); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp := d.path + ".tmp"
	if err := afero.WriteFile(d.fs, tmp, b, 0o600); err != nil {
		return fmt.Errorf("write task registry: %w", err)
	}
	if err := d.fs.Rename(tmp, d.path); err != nil {
		return fmt.Errorf("replace task registry: %w", err)
	}
	return nil
}
