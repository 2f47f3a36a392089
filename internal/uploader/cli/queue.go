package cli

import (
	"context"
	"fmt"
)

// List prints the pending queue and the in-flight background transfers.
func (a *App) List(ctx context.Context) error {
	items := a.queue.Items()
	tasks := a.delegate.Tasks()

	if len(items) == 0 && len(tasks) == 0 {
		printlnFn("Nothing pending.")
		return nil
	}

	if len(items) > 0 {
		printlnFn(fmt.Sprintf("Queued (%d):", len(items)))
		for i, it := range items {
			size := len(it.Data)
			loc := "inline"
			if it.FilePath != "" {
				loc = it.FilePath
			}
			printlnFn(fmt.Sprintf("  %d. %s  %s  %s  %d bytes  [%s]", i+1, it.ID, it.Filename, it.MimeType, size, loc))
		}
	}
	if len(tasks) > 0 {
		printlnFn(fmt.Sprintf("In background (%d):", len(tasks)))
		for _, t := range tasks {
			printlnFn(fmt.Sprintf("  - %s  %s", t.ID, t.Filename))
		}
	}
	return nil
}

// Retry kicks the drain loop immediately instead of waiting out the backoff.
func (a *App) Retry(ctx context.Context) error {
	if a.queue.Len() == 0 {
		printlnFn("Nothing to retry.")
		return nil
	}
	a.queue.Kick()
	printlnFn("Retrying queued uploads.")
	return nil
}

// Remove drops a queued upload by id: "remove <id>".
func (a *App) Remove(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printlnFn("Usage: remove <id>")
		return nil
	}
	if err := a.queue.Remove(args[0]); err != nil {
		printlnFn("Remove failed:", err.Error())
		return err
	}
	printlnFn("Removed.")
	return nil
}

// Status reports connectivity and queue depth.
func (a *App) Status(ctx context.Context) error {
	state := "offline"
	if a.monitor.Online() {
		state = "online"
	}
	printlnFn(fmt.Sprintf("%s, %d queued, %d in background", state, a.queue.Len(), len(a.delegate.Tasks())))
	return nil
}
