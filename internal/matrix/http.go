package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"peerlink/internal/domain"
)

const apiPrefix = "/_matrix/client/r0"

// apiError is a non-2xx response from the homeserver.
type apiError struct {
	Method  string
	Path    string
	Status  int
	Errcode string `json:"errcode"`
	Message string `json:"error"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("matrix %s %s: %d %s %s", e.Method, e.Path, e.Status, e.Errcode, e.Message)
}

// Unwrap maps substrate-level rejections onto the shared sentinel so
// callers can test with errors.Is.
func (e *apiError) Unwrap() error {
	if e.Status == http.StatusForbidden || e.Errcode == "M_FORBIDDEN" {
		return domain.ErrForbidden
	}
	return nil
}

// do performs one API call. in is JSON-encoded when non-nil, out is
// JSON-decoded when non-nil, token is sent as a Bearer header when set.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		apiErr := &apiError{Method: method, Path: path, Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
