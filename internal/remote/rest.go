package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// RESTStore talks to a collaboration backend over HTTP. Listener semantics
// are emulated by polling: each subscription re-fetches its query on an
// interval and delivers a snapshot whenever the result set changed.
type RESTStore struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	pollInterval time.Duration
}

func NewRESTStore(baseURL, token string, pollInterval time.Duration) *RESTStore {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &RESTStore{
		baseURL:      baseURL,
		token:        token,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		pollInterval: pollInterval,
	}
}

type restError struct {
	Message string `json:"message"`
}

func (s *RESTStore) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		var apiErr restError
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Message)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (s *RESTStore) CreateDocument(ctx context.Context, collection string, fields map[string]any) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := s.do(ctx, http.MethodPost, "/v1/"+collection, fields, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (s *RESTStore) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.do(ctx, http.MethodPatch, "/v1/"+collection+"/"+id, fields, nil)
}

func (s *RESTStore) DeleteDocument(ctx context.Context, collection, id string) error {
	return s.do(ctx, http.MethodDelete, "/v1/"+collection+"/"+id, nil, nil)
}

func (s *RESTStore) CurrentUser(ctx context.Context) (User, error) {
	var user User
	if err := s.do(ctx, http.MethodGet, "/v1/me", nil, &user); err != nil {
		return User{}, err
	}
	if user.ID == "" {
		return User{}, ErrNoUser
	}
	return user, nil
}

func (s *RESTStore) fetch(ctx context.Context, query Query) ([]Document, error) {
	path := "/v1/" + query.Collection
	if query.Field != "" {
		path += "?" + url.Values{
			"field": {query.Field},
			"value": {query.Value},
		}.Encode()
	}
	var out struct {
		Documents []Document `json:"documents"`
	}
	if err := s.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// Subscribe polls the query until the subscription is closed or ctx is done.
// The first successful fetch is always delivered; later fetches only when the
// result set changed. Poll failures are logged and retried on the next tick.
func (s *RESTStore) Subscribe(ctx context.Context, query Query) (*Subscription, error) {
	docs, err := s.fetch(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("attach listener %s: %w", query, err)
	}

	ch := make(chan Snapshot, 1)
	subCtx, cancel := context.WithCancel(ctx)
	ch <- Snapshot{Query: query, Docs: docs}
	last, _ := json.Marshal(docs)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
			}

			docs, err := s.fetch(subCtx, query)
			if err != nil {
				if subCtx.Err() == nil {
					log.Printf("remote: poll %s: %v", query, err)
				}
				continue
			}
			raw, _ := json.Marshal(docs)
			if bytes.Equal(raw, last) {
				continue
			}
			last = raw
			select {
			case ch <- Snapshot{Query: query, Docs: docs}:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return NewSubscription(ch, cancel), nil
}
