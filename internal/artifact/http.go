package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/canectors/basic-cleaning/internal/errhandling"
	"github.com/canectors/basic-cleaning/internal/logger"
)

const (
	defaultHTTPTimeout  = 30 * time.Second
	defaultUserAgent    = "basic-cleaning/1.0"
	bearerAuthPrefix    = "Bearer "
	maxErrorBodySize    = 64 * 1024
	maxMetadataBodySize = 1 * 1024 * 1024
)

// HTTPStore is a Store backed by a remote artifact service.
//
// Endpoints:
//
//	POST /runs                                  register a run
//	GET  /artifacts/{name}                      list versions
//	POST /artifacts/{name}                      publish a version (raw body)
//	GET  /artifacts/{name}/{version|alias}      version metadata
//	GET  /artifacts/{name}/{version}/file       version content
//
// Non-2xx responses are classified with errhandling.ClassifyHTTPStatus.
type HTTPStore struct {
	baseURL *url.URL
	token   string
	client  *http.Client
}

// NewHTTPStore creates a client for the service at endpoint. A zero timeout
// uses the default of 30s.
func NewHTTPStore(endpoint, token string, timeout time.Duration) (*HTTPStore, error) {
	if endpoint == "" {
		return nil, errors.New("http store endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing store endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("store endpoint %q must use http or https", endpoint)
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPStore{
		baseURL: u,
		token:   token,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// BeginRun registers run with the service.
func (s *HTTPStore) BeginRun(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return errors.New("run ID is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encoding run: %w", err)
	}
	resp, err := s.do(ctx, http.MethodPost, s.endpoint(nil, "runs"), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("registering run %s: %w", run.ID, err)
	}
	drain(resp)
	return nil
}

// Use fetches the version metadata, then opens the file download. The run
// ID travels as a query parameter so the service records the usage.
func (s *HTTPStore) Use(ctx context.Context, runID string, ref Ref) (*Artifact, io.ReadCloser, error) {
	if err := ValidateName(ref.Name); err != nil {
		return nil, nil, err
	}

	var a Artifact
	if err := s.getJSON(ctx, s.endpoint(nil, "artifacts", ref.Name, ref.Qualifier()), &a); err != nil {
		return nil, nil, fmt.Errorf("resolving %s: %w", ref, err)
	}

	q := url.Values{"run": {runID}}
	resp, err := s.do(ctx, http.MethodGet, s.endpoint(q, "artifacts", a.Name, a.VersionTag(), "file"), "", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("downloading %s:%s: %w", a.Name, a.VersionTag(), err)
	}
	return &a, resp.Body, nil
}

// Log uploads the content of r. The body is buffered so that empty content
// is rejected locally and the digest can be sent for verification.
func (s *HTTPStore) Log(ctx context.Context, runID string, spec Spec, r io.Reader) (*Artifact, error) {
	if err := ValidateName(spec.Name); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, errhandling.NewIOError("reading artifact content", err)
	}
	if buf.Len() == 0 {
		return nil, ErrEmptyArtifact
	}
	sum := sha256.Sum256(buf.Bytes())

	fileName := spec.FileName
	if fileName == "" {
		fileName = spec.Name
	}
	q := url.Values{
		"run":    {runID},
		"file":   {fileName},
		"digest": {"sha256:" + hex.EncodeToString(sum[:])},
	}
	if spec.Type != "" {
		q.Set("type", spec.Type)
	}
	if spec.Description != "" {
		q.Set("description", spec.Description)
	}
	for _, alias := range spec.Aliases {
		q.Add("alias", alias)
	}

	resp, err := s.do(ctx, http.MethodPost, s.endpoint(q, "artifacts", spec.Name), "application/octet-stream", &buf)
	if err != nil {
		return nil, fmt.Errorf("publishing %s: %w", spec.Name, err)
	}
	defer drain(resp)

	var a Artifact
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataBodySize)).Decode(&a); err != nil {
		return nil, fmt.Errorf("decoding published artifact: %w", err)
	}
	return &a, nil
}

// Versions lists the versions of name.
func (s *HTTPStore) Versions(ctx context.Context, name string) ([]*Artifact, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	var out []*Artifact
	if err := s.getJSON(ctx, s.endpoint(nil, "artifacts", name), &out); err != nil {
		return nil, fmt.Errorf("listing %s: %w", name, err)
	}
	return out, nil
}

// Close releases idle connections.
func (s *HTTPStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *HTTPStore) endpoint(q url.Values, segments ...string) string {
	u := *s.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(segments, "/")
	u.RawPath = ""
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (s *HTTPStore) getJSON(ctx context.Context, endpoint string, v any) error {
	resp, err := s.do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return err
	}
	defer drain(resp)
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataBodySize)).Decode(v); err != nil {
		return fmt.Errorf("decoding response from %s: %w", endpoint, err)
	}
	return nil
}

// do executes a request and returns the response for 2xx statuses. Any other
// status is returned as a *errhandling.ClassifiedError with the body closed.
func (s *HTTPStore) do(ctx context.Context, method, endpoint, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating http request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s.token != "" {
		req.Header.Set("Authorization", bearerAuthPrefix+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Error("artifact store request failed",
			slog.String("endpoint", endpoint),
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		logger.Debug("artifact store request completed",
			slog.String("endpoint", endpoint),
			slog.String("method", method),
			slog.Int("status_code", resp.StatusCode),
		)
		return resp, nil
	}

	defer drain(resp)
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	ce := errhandling.ClassifyHTTPStatus(resp.StatusCode, errorMessage(respBody))
	if resp.StatusCode == http.StatusNotFound {
		ce.OriginalErr = ErrNotFound
	}
	return nil, ce
}

// errorMessage extracts {"error": "..."} or {"message": "..."} from a
// response body, falling back to the trimmed text.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(body))
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
	if err := resp.Body.Close(); err != nil {
		logger.Debug("failed to close response body", slog.String("error", err.Error()))
	}
}
