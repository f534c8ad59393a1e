package queue_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avkor/facility/internal/queue"
)

func TestHTTPSenderPostsJSON(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := queue.NewHTTPSender()
	rec := queue.NewRecord(srv.URL, map[string]any{"id": "F1-7", "is_won": true})
	require.NoError(t, sender.Post(context.Background(), rec))

	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"id":"F1-7","is_won":true}`, string(gotBody))
}

func TestHTTPSenderPostsMultipartWithAttachment(t *testing.T) {
	dir := t.TempDir()
	avatar := filepath.Join(dir, "avatar.png")
	require.NoError(t, os.WriteFile(avatar, []byte("png-bytes"), 0o644))

	var gotFile string
	var gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("avatar")
		require.NoError(t, err)
		defer f.Close()
		raw, _ := io.ReadAll(f)
		gotFile = string(raw)
		gotName = r.FormValue("name")
		_ = hdr
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := queue.NewHTTPSender()
	rec := queue.NewRecord(srv.URL, map[string]any{"name": "P1"})
	rec.Attachment = avatar
	require.NoError(t, sender.Post(context.Background(), rec))

	assert.Equal(t, "png-bytes", gotFile)
	assert.Equal(t, "P1", gotName)
}

func TestHTTPSenderRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := queue.NewHTTPSender()
	err := sender.Post(context.Background(), queue.NewRecord(srv.URL, nil))
	assert.ErrorContains(t, err, "unexpected status 502")
}

func TestHTTPSenderMissingAttachment(t *testing.T) {
	sender := queue.NewHTTPSender()
	rec := queue.NewRecord("http://unused", map[string]any{})
	rec.Attachment = "/does/not/exist.png"
	err := sender.Post(context.Background(), rec)
	assert.ErrorContains(t, err, "open attachment")
}
