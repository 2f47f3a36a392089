package cli

import (
	"context"
	"fmt"

	"github.com/nexusfield/uploadq/internal/fieldx"
	"github.com/nexusfield/uploadq/internal/uploader/router"
)

// Upload submits one file: "upload <path> [name=value ...]". Editorial
// fields from the command line are layered over the configured defaults.
func (a *App) Upload(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printlnFn("Usage: upload <path> [name=value ...]")
		return nil
	}

	overrides, err := ParseFieldArgs(args[1:])
	if err != nil {
		printlnFn(err.Error())
		return nil
	}
	fields := fieldx.Merge(a.config.ExtraFields, overrides)

	out, err := a.router.Submit(ctx, router.Request{Path: args[0], Fields: fields})
	if err != nil {
		printlnFn("Upload failed:", err.Error())
		return err
	}

	switch out.Route {
	case router.SentForeground:
		doc := out.Result.Doc
		printlnFn(fmt.Sprintf("Uploaded %s (%s MB)", doc.Filename, doc.FilesizeMB))
		printlnFn("Admin: " + a.client.AdminAssetURL(doc.AssetID()))
	case router.SentBackground:
		printlnFn(fmt.Sprintf("Transferring %s in the background (task %s).", out.Filename, out.TaskID))
	case router.Queued:
		printlnFn(fmt.Sprintf("Could not send %s right now; saved to the queue.", out.Filename))
	}
	return nil
}
