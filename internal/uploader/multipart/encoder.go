// Package multipart builds multipart/form-data request bodies for the CMS
// media endpoint.
//
// Body layout, in order: one part per metadata field (sorted by key, so the
// layout is stable), a JSON part named "_payload" mirroring the alt/title
// pair the media collection schema requires, then exactly one file part
// named "file".
package multipart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"sort"

	"github.com/google/uuid"
)

// File describes the asset part of an upload body.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// payload is the structured part the CMS validates against its media schema.
type payload struct {
	Alt   string `json:"alt"`
	Title string `json:"title"`
}

// Encode builds a complete body in memory and returns it together with the
// boundary token. The boundary is unique per call. The file bytes are
// written into the body exactly once.
func Encode(fields map[string]string, file File) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	boundary, err := setBoundary(w)
	if err != nil {
		return nil, "", err
	}

	if err := writeParts(w, fields, file.Name, file.MimeType, bytes.NewReader(file.Data)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}

	return buf.Bytes(), boundary, nil
}

// Stream builds the same body Encode does, but copies the file part from r
// instead of holding it in memory. The returned reader produces the request
// body; it reports any copy error on Read. Intended for the background
// transfer path, where payloads are too large to buffer.
func Stream(fields map[string]string, filename, mimeType string, r io.Reader) (io.ReadCloser, string, error) {
	pr, pw := io.Pipe()
	w := multipart.NewWriter(pw)

	boundary, err := setBoundary(w)
	if err != nil {
		return nil, "", err
	}

	go func() {
		err := writeParts(w, fields, filename, mimeType, r)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	return pr, boundary, nil
}

// ContentType returns the Content-Type header value for a body built with
// the given boundary.
func ContentType(boundary string) string {
	return "multipart/form-data; boundary=" + boundary
}

func setBoundary(w *multipart.Writer) (string, error) {
	boundary := "Boundary-" + uuid.NewString()
	if err := w.SetBoundary(boundary); err != nil {
		return "", fmt.Errorf("set boundary: %w", err)
	}
	return boundary, nil
}

func writeParts(w *multipart.Writer, fields map[string]string, filename, mimeType string, r io.Reader) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return fmt.Errorf("write field %q: %w", k, err)
		}
	}

	pl, err := json.Marshal(payload{Alt: fields["alt"], Title: fields["title"]})
	if err != nil {
		return fmt.Errorf("marshal _payload: %w", err)
	}
	if err := w.WriteField("_payload", string(pl)); err != nil {
		return fmt.Errorf("write _payload: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("write file part: %w", err)
	}

	return nil
}
