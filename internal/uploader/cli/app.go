package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/nexusfield/uploadq/internal/logging"
	"github.com/nexusfield/uploadq/internal/netx"
	"github.com/nexusfield/uploadq/internal/uploader/auth"
	"github.com/nexusfield/uploadq/internal/uploader/cms"
	"github.com/nexusfield/uploadq/internal/uploader/config"
	"github.com/nexusfield/uploadq/internal/uploader/events"
	"github.com/nexusfield/uploadq/internal/uploader/queue"
	"github.com/nexusfield/uploadq/internal/uploader/router"
	"github.com/nexusfield/uploadq/internal/uploader/transfer"
)

// App is the composition root of the uploader CLI: it wires the CMS client,
// the durable queue, the background transfer delegate and the reachability
// monitor, and drives them from a small interactive loop.
type App struct {
	config   *config.Config
	log      logging.Logger
	client   *cms.Client
	tokens   *auth.Store
	bus      *events.Bus
	queue    *queue.Queue
	delegate *transfer.Delegate
	router   *router.Router
	monitor  *netx.Monitor
	reader   *bufio.Reader
	userName string
}

func NewApp(cfg *config.Config, log logging.Logger) (*App, error) {
	fs := afero.NewOsFs()

	if err := fs.MkdirAll(cfg.DataDir, 0o770); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	client := cms.New(cfg.OriginURL, cfg.RequestTimeout, log)
	tokens := auth.NewStore(fs, cfg.TokenPath())
	bus := events.NewBus()

	q, err := queue.New(queue.Options{
		Store:              queue.NewStore(fs, cfg.QueuePath()),
		Sender:             client,
		Tokens:             tokens,
		Bus:                bus,
		Log:                log,
		Fs:                 fs,
		SpoolDir:           cfg.SpoolDir(),
		LargeFileThreshold: cfg.LargeFileThreshold,
		TokenLeeway:        cfg.TokenLeeway,
	})
	if err != nil {
		return nil, err
	}

	session := transfer.NewHTTPSession(fs, client.UploadURL(), cfg.BackgroundTimeout, log)
	delegate, err := transfer.NewDelegate(fs, cfg.TaskRegistryPath(), session, transfer.ItemRemoverFunc(q.Remove), bus, log)
	if err != nil {
		return nil, err
	}
	session.OnComplete(delegate.Complete)
	q.AttachTransfer(delegate)

	r := router.New(router.Options{
		Sender:         client,
		Queue:          q,
		Transfer:       delegate,
		Tokens:         tokens,
		Bus:            bus,
		Log:            log,
		Fs:             fs,
		SpoolDir:       cfg.SpoolDir(),
		VideoThreshold: cfg.VideoThreshold,
		TokenLeeway:    cfg.TokenLeeway,
	})

	app := &App{
		config:   cfg,
		log:      log,
		client:   client,
		tokens:   tokens,
		bus:      bus,
		queue:    q,
		delegate: delegate,
		router:   r,
		reader:   bufio.NewReader(os.Stdin),
	}
	app.monitor = netx.NewMonitor(client, cfg.OnlineCheckInterval, q.Kick, log)
	return app, nil
}

// Run resumes interrupted background transfers, starts the reachability
// watcher and the alert printer, and enters the interactive loop. It
// returns when the user exits or the context is cancelled.
func (a *App) Run(ctx context.Context) {
	defer a.queue.Stop()

	a.delegate.Resume()
	go a.monitor.Run(ctx)
	go a.watchAlerts(ctx)

	a.Root(ctx)
}

func (a *App) isLoggedIn() bool {
	tok, err := a.tokens.Current()
	return err == nil && tok != "" && !auth.IsExpired(tok, a.config.TokenLeeway)
}

// watchAlerts surfaces queue and transfer events to the terminal, the
// closest analog of the mobile app's local notifications.
func (a *App) watchAlerts(ctx context.Context) {
	expired := a.bus.Subscribe(events.AuthExpired)
	failed := a.bus.Subscribe(events.UploadFailed)

	for {
		select {
		case <-ctx.Done():
			return
		case <-expired:
			printlnFn("\n! Session expired. Queued uploads are on hold until you log in again.")
		case e := <-failed:
			printlnFn(fmt.Sprintf("\n! %s: %s", e.Title, e.Body))
		}
	}
}
