package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// HTTPSender posts records to their endpoints: JSON bodies normally, a
// multipart form when the record carries a file attachment.
type HTTPSender struct {
	client *http.Client
}

func NewHTTPSender() *HTTPSender {
	return &HTTPSender{client: &http.Client{Timeout: 15 * time.Second}}
}

func (s *HTTPSender) Post(ctx context.Context, rec Record) error {
	var body io.Reader
	var contentType string

	if rec.Attachment != "" {
		b, ct, err := multipartBody(rec)
		if err != nil {
			return err
		}
		body, contentType = b, ct
	} else {
		raw, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		body, contentType = bytes.NewReader(raw), "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rec.Endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", rec.Endpoint, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", rec.Endpoint, resp.StatusCode)
	}
	return nil
}

// multipartBody writes the attachment under the "avatar" field and every
// payload field as a form value.
func multipartBody(rec Record) (io.Reader, string, error) {
	raw, err := json.Marshal(rec.Payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode payload: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, "", fmt.Errorf("multipart payload must be an object: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	f, err := os.Open(rec.Attachment)
	if err != nil {
		return nil, "", fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	part, err := w.CreateFormFile("avatar", filepath.Base(rec.Attachment))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy attachment: %w", err)
	}

	for key, value := range fields {
		if value == nil {
			value = ""
		}
		if err := w.WriteField(key, fmt.Sprint(value)); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
