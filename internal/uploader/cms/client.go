// Package cms implements the HTTP client for the content-management API:
// media uploads, user login and a reachability probe.
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nexusfield/uploadq/internal/common"
	"github.com/nexusfield/uploadq/internal/logging"
	"github.com/nexusfield/uploadq/internal/uploader/multipart"
)

// maxErrorBody bounds how much of an error response is kept for diagnostics.
const maxErrorBody = 2048

// Doc is the media document the CMS returns for a stored asset. Older
// deployments report the identifier as "_id".
type Doc struct {
	ID         string `json:"id"`
	LegacyID   string `json:"_id"`
	URL        string `json:"url"`
	Filename   string `json:"filename"`
	FilesizeMB string `json:"filesizeMB"`
	CreatedAt  string `json:"createdAt"`
}

// AssetID returns the document identifier regardless of API vintage.
func (d Doc) AssetID() string {
	if d.ID != "" {
		return d.ID
	}
	return d.LegacyID
}

// UploadResult is the 2xx response body of the media endpoint.
type UploadResult struct {
	Doc Doc `json:"doc"`
}

// StatusError reports a non-2xx CMS response. Body holds a snippet of the
// response text for diagnostics.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cms: http %d: %s", e.StatusCode, e.Body)
}

// AuthExpired reports whether the response means the session credential was
// rejected.
func (e *StatusError) AuthExpired() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Unwrap lets errors.Is(err, common.ErrorUnauthorized) match auth rejections.
func (e *StatusError) Unwrap() error {
	if e.AuthExpired() {
		return common.ErrorUnauthorized
	}
	return nil
}

// Client talks to one CMS origin. The foreground timeout is generous:
// field uploads ride poor cellular links and a multi-megabyte photo can
// legitimately take minutes.
type Client struct {
	origin string
	http   *http.Client
	log    logging.Logger
}

func New(origin string, timeout time.Duration, log logging.Logger) *Client {
	return &Client{
		origin: strings.TrimRight(origin, "/"),
		http:   &http.Client{Timeout: timeout},
		log:    log,
	}
}

// UploadURL returns the media collection endpoint.
func (c *Client) UploadURL() string {
	return c.origin + "/api/media"
}

// AdminAssetURL returns the CMS admin page for a stored media document.
func (c *Client) AdminAssetURL(assetID string) string {
	return c.origin + "/admin/collections/media/" + assetID
}

// Upload posts one asset with its metadata as multipart/form-data. The
// token may be empty for anonymous-write deployments.
func (c *Client) Upload(ctx context.Context, fields map[string]string, file multipart.File, token string) (*UploadResult, error) {
	body, boundary, err := multipart.Encode(fields, file)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.UploadURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", multipart.ContentType(boundary))
	setAuth(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", file.Name, err)
	}
	defer resp.Body.Close()

	return decodeUploadResponse(resp)
}

// Login authenticates against the users collection and returns the issued
// JWT.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.origin+"/api/users/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read login response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: snippet(b)}
	}

	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(b, &parsed); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if parsed.Token == "" {
		return "", errors.New("login response carried no token")
	}
	return parsed.Token, nil
}

// Ping reports whether the CMS origin answers at all. Any HTTP response
// counts as reachable; only transport-level failures do not.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.origin+"/", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	resp.Body.Close()
	return nil
}

// setAuth applies the CMS auth header scheme. Payload expects "JWT", not
// "Bearer".
func setAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "JWT "+token)
	}
}

func decodeUploadResponse(resp *http.Response) (*UploadResult, error) {
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet(b)}
	}

	var res UploadResult
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &res, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	if s == "" {
		s = "<empty body>"
	}
	return s
}
