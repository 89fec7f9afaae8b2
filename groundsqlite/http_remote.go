// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package groundsqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/anileshwar12/go-groundsync/groundsync"
)

// HTTPRemote is a RemoteStore talking to a groundsync server over HTTP.
type HTTPRemote struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	HTTP    *http.Client
}

// NewHTTPRemote returns a remote store client for baseURL. tok may be nil
// when the server runs without authentication.
func NewHTTPRemote(baseURL string, tok func(ctx context.Context) (string, error)) *HTTPRemote {
	return &HTTPRemote{
		BaseURL: baseURL,
		Token:   tok,
		HTTP:    &http.Client{Timeout: 120 * time.Second}, // media uploads can be slow on field links
	}
}

// PushMutation POSTs the mutation document to the server's mutation endpoint.
func (r *HTTPRemote) PushMutation(ctx context.Context, doc *groundsync.MutationUpload) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", r.BaseURL+"/sync/mutations", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := r.authorize(ctx, httpReq); err != nil {
		return err
	}

	resp, err := r.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var ack groundsync.MutationAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return fmt.Errorf("failed to decode mutation ack: %w", err)
	}
	if ack.MutationID != doc.MutationID {
		return fmt.Errorf("server acked wrong mutation: sent %s, got %s", doc.MutationID, ack.MutationID)
	}
	return nil
}

// UploadMedia PUTs the file bytes under destKey and returns the remote key
// assigned by the server.
func (r *HTTPRemote) UploadMedia(ctx context.Context, localPath, destKey string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open media file %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat media file %s: %w", localPath, err)
	}

	uploadURL := fmt.Sprintf("%s/sync/media?key=%s", r.BaseURL, url.QueryEscape(destKey))
	httpReq, err := http.NewRequestWithContext(ctx, "PUT", uploadURL, f)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.ContentLength = info.Size()
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	if err := r.authorize(ctx, httpReq); err != nil {
		return "", err
	}

	resp, err := r.HTTP.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var ack groundsync.MediaAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return "", fmt.Errorf("failed to decode media ack: %w", err)
	}
	return ack.Key, nil
}

func (r *HTTPRemote) authorize(ctx context.Context, req *http.Request) error {
	if r.Token == nil {
		return nil
	}
	token, err := r.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get JWT token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
