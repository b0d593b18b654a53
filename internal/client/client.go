package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gridxfer/internal/core"

	"github.com/go-resty/resty/v2"
)

const (
	uploadPath = "/grid-transfers/upload"
	statsPath  = "/grid-transfers/stats"
)

var ErrServer = errors.New("gridxfer server")

// Options configures a Client. User and Password are sent as HTTP basic auth
// when User is set.
type Options struct {
	BaseURL  string
	User     string
	Password string
	Timeout  time.Duration
}

// Client talks to the transfer log service.
type Client struct {
	http *resty.Client
}

func New(opts Options) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("User-Agent", "gridxfer")
	if opts.Timeout > 0 {
		c.SetTimeout(opts.Timeout)
	}
	if opts.User != "" {
		c.SetBasicAuth(opts.User, opts.Password)
	}
	return &Client{http: c}
}

// Probe asks whether a log with the given digest was already ingested.
func (c *Client) Probe(ctx context.Context, digest string) (bool, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"sha1hash": digest}).
		Post(uploadPath)
	if err != nil {
		return false, fmt.Errorf("probe request failed: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return true, nil
	case http.StatusNoContent:
		return false, nil
	default:
		return false, responseError(resp)
	}
}

// Upload sends the log file at path for ingestion.
func (c *Client) Upload(ctx context.Context, path string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFile("logfile", path).
		Post(uploadPath)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return responseError(resp)
	}
	return nil
}

// SubmitStatus says what Submit did with a file.
type SubmitStatus string

const (
	StatusUploaded SubmitStatus = "uploaded"
	StatusKnown    SubmitStatus = "already ingested"
)

type SubmitResult struct {
	Path   string
	Digest string
	Size   int64
	Status SubmitStatus
}

// Submit hashes the file at path, probes the server with the digest and
// uploads the file only when the server has not seen it.
func (c *Client) Submit(ctx context.Context, path string) (*SubmitResult, error) {
	digest, size, err := core.DigestFile(path)
	if err != nil {
		return nil, err
	}
	result := &SubmitResult{Path: path, Digest: digest, Size: size, Status: StatusKnown}

	known, err := c.Probe(ctx, digest)
	if err != nil {
		return nil, err
	}
	if known {
		return result, nil
	}

	if err := c.Upload(ctx, path); err != nil {
		return nil, err
	}
	result.Status = StatusUploaded
	return result, nil
}

// Stats fetches a report and returns the raw JSON body.
func (c *Client) Stats(ctx context.Context, statType string, args ...string) ([]byte, error) {
	parts := []string{statsPath, url.PathEscape(statType)}
	for _, a := range args {
		parts = append(parts, url.PathEscape(a))
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(strings.Join(parts, "/"))
	if err != nil {
		return nil, fmt.Errorf("stats request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, responseError(resp)
	}
	return resp.Body(), nil
}

// responseError turns a non-success response into an error carrying the
// server's plain text message.
func responseError(resp *resty.Response) error {
	msg := strings.TrimSpace(resp.String())
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	return fmt.Errorf("%w: (HTTP Status: %d) %s", ErrServer, resp.StatusCode(), msg)
}
