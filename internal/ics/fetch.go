package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "fieldcal/internal/log"
)

// Subscription is a remote calendar imported into one schedule.
type Subscription struct {
	ID         string `yaml:"id"`
	URL        string `yaml:"url"`
	ScheduleID int64  `yaml:"schedule_id"`
}

// Payload is the body of one fetched subscription.
type Payload struct {
	Subscription Subscription
	Body         []byte
	// FromCache is set when the body came from disk after a 304 or a
	// failed request.
	FromCache bool
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads subscriptions with conditional requests and keeps the
// last good body on disk.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// Fetch returns the subscription's current body. A cached body is served
// on 304, on network errors and on non-OK statuses when one exists.
func (f *Fetcher) Fetch(ctx context.Context, sub Subscription) (Payload, error) {
	if sub.URL == "" {
		return Payload{}, errors.New("ics: subscription url is empty")
	}

	dir := f.cachePath(sub.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Payload{}, fmt.Errorf("ics: cache dir: %w", err)
	}
	meta := f.loadMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	fallback := func(reason error) (Payload, error) {
		if len(cached) == 0 {
			return Payload{}, reason
		}
		appLog.Warn("ics: serving cached body", "id", sub.ID, "url", redactURL(sub.URL), "reason", reason.Error())
		return Payload{Subscription: sub, Body: cached, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sub.URL, nil)
	if err != nil {
		return Payload{}, fmt.Errorf("ics: request: %w", err)
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(fmt.Errorf("ics: fetch %s: %w", redactURL(sub.URL), err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fallback(fmt.Errorf("ics: read body: %w", err))
		}
		next := cacheMeta{
			URL:          sub.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := f.save(dir, next, body); err != nil {
			appLog.Error("ics: cache save failed", err, "id", sub.ID)
		}
		appLog.Info("ics: fetched", "id", sub.ID, "url", redactURL(sub.URL), "bytes", len(body))
		return Payload{Subscription: sub, Body: body}, nil
	case http.StatusNotModified:
		if len(cached) == 0 {
			return Payload{}, errors.New("ics: 304 without cached body")
		}
		appLog.Debug("ics: not modified", "id", sub.ID)
		return Payload{Subscription: sub, Body: cached, FromCache: true}, nil
	default:
		return fallback(fmt.Errorf("ics: fetch %s: %s", redactURL(sub.URL), resp.Status))
	}
}

func (f *Fetcher) cachePath(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:]))
}

func (f *Fetcher) loadMeta(dir string) cacheMeta {
	var m cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return m
	}
	if err := json.Unmarshal(data, &m); err != nil {
		appLog.Warn("ics: cache meta unreadable", "dir", dir)
		return cacheMeta{}
	}
	return m
}

func (f *Fetcher) save(dir string, meta cacheMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; subscription paths often embed
// private tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
