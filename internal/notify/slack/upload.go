package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// apiResponse is the envelope every Slack Web API method returns.
type apiResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	UploadURL string `json:"upload_url,omitempty"`
	FileID    string `json:"file_id,omitempty"`
}

// upload runs Slack's external upload flow: reserve an upload URL, send the
// bytes, then complete the upload and share it to the channel.
func (n *Notifier) upload(ctx context.Context, filename, title, comment string, content []byte) error {
	form := url.Values{}
	form.Set("filename", filename)
	form.Set("length", strconv.Itoa(len(content)))

	var reserved apiResponse
	if err := n.callAPI(ctx, "files.getUploadURLExternal", "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()), &reserved); err != nil {
		return err
	}
	if reserved.UploadURL == "" || reserved.FileID == "" {
		return fmt.Errorf("slack: files.getUploadURLExternal: missing upload_url or file_id")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reserved.UploadURL, bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("slack: create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := n.client.Do(req) //nolint:gosec // G704: upload URL is issued by the Slack API
	if err != nil {
		return fmt.Errorf("slack: upload file: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack: upload returned %d", resp.StatusCode)
	}

	complete := map[string]any{
		"files":           []map[string]string{{"id": reserved.FileID, "title": title}},
		"initial_comment": comment,
	}
	if n.channel != "" {
		complete["channel_id"] = n.channel
	}
	body, err := json.Marshal(complete)
	if err != nil {
		return fmt.Errorf("slack: marshal complete request: %w", err)
	}
	var done apiResponse
	return n.callAPI(ctx, "files.completeUploadExternal", "application/json; charset=utf-8", bytes.NewReader(body), &done)
}

func (n *Notifier) callAPI(ctx context.Context, method, contentType string, body io.Reader, out *apiResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiBase+"/"+method, body)
	if err != nil {
		return fmt.Errorf("slack: create %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+n.botToken)
	req.Header.Set("Content-Type", contentType)

	resp, err := n.client.Do(req) //nolint:gosec // G704: apiBase is from trusted config
	if err != nil {
		return fmt.Errorf("slack: %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: %s returned %d: %s", method, resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("slack: decode %s response: %w", method, err)
	}
	if !out.OK {
		return fmt.Errorf("slack: %s: %s", method, out.Error)
	}
	return nil
}
