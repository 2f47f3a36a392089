// Package cli implements the interactive uploader client: a small REPL
// over the CMS client, the durable upload queue and the background
// transfer delegate.
package cli
