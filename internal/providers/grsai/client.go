package grsai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"soragen/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("grsai: api key is required")

// APIError carries a non-zero code from the Grsai response envelope.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("grsai: api error %d: %s", e.Code, e.Message)
}

// MalformedResponseError flags a response body that does not match the
// documented envelope shape, so a decode problem is never misread as a job
// outcome.
type MalformedResponseError struct {
	Endpoint string
	Reason   string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("grsai: malformed response from %s: %s", e.Endpoint, e.Reason)
}

// Options configures the Grsai Sora client.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	// RequestSpacing is the minimum gap between API calls. The provider asks
	// clients to stay at or above one call per second.
	RequestSpacing time.Duration
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Grsai Sora video API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
	limiter    *rate.Limiter
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://grsai.dakka.com.cn"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "sora-2"
	}
	spacing := opts.RequestSpacing
	if spacing <= 0 {
		spacing = time.Second
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Every(spacing), 1),
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// SubmitVideo submits one generation job and returns the provider task ID.
func (c *Client) SubmitVideo(ctx context.Context, req VideoRequest) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("grsai: prompt is required")
	}
	if img := strings.TrimSpace(req.ImageURL); img != "" {
		if parsed, err := url.Parse(img); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return "", fmt.Errorf("grsai: invalid image url: %s", img)
		}
	}
	aspect := strings.TrimSpace(req.AspectRatio)
	if aspect == "" {
		aspect = "16:9"
	}
	duration := req.Duration
	if duration <= 0 {
		duration = 15
	}
	// webHook "-1" tells the API to return the task ID immediately so the
	// caller can poll for the result.
	webhook := strings.TrimSpace(req.WebhookURL)
	if webhook == "" {
		webhook = "-1"
	}
	payload := submitRequest{
		Model:        c.model,
		Prompt:       prompt,
		URL:          strings.TrimSpace(req.ImageURL),
		AspectRatio:  aspect,
		Duration:     duration,
		Size:         "small",
		ShutProgress: false,
		WebHook:      webhook,
	}

	var data submitData
	if err := c.postJSON(ctx, "/v1/video/sora-video", payload, &data); err != nil {
		return "", err
	}
	if data.ID == "" {
		return "", &MalformedResponseError{Endpoint: "/v1/video/sora-video", Reason: "missing task id"}
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("task_id", data.ID).
		Msg("grsai: submitted video job")
	return data.ID, nil
}

// TaskResult queries the status of a submitted job.
func (c *Client) TaskResult(ctx context.Context, taskID string) (*TaskResult, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, errors.New("grsai: task id is required")
	}

	var data ResultData
	if err := c.postJSON(ctx, "/v1/draw/result", resultRequest{ID: taskID}, &data); err != nil {
		return nil, err
	}
	if data.Status == "" {
		return nil, &MalformedResponseError{Endpoint: "/v1/draw/result", Reason: "missing status"}
	}
	res := data.Normalize()
	if res.ID == "" {
		res.ID = taskID
	}
	return &res, nil
}

// Credits fetches the remaining credit balance for the configured key.
func (c *Client) Credits(ctx context.Context) (int, error) {
	if !c.HasCredentials() {
		return 0, ErrMissingAPIKey
	}
	endpoint := c.baseURL + "/client/common/getCredits?apikey=" + url.QueryEscape(c.apiKey)
	var data creditsData
	if err := c.getJSON(ctx, endpoint, "/client/common/getCredits", &data); err != nil {
		return 0, err
	}
	return data.Credits, nil
}

// ModelStatus reports whether the configured model is currently available.
func (c *Client) ModelStatus(ctx context.Context) (bool, error) {
	endpoint := c.baseURL + "/client/common/getModelStatus?model=" + url.QueryEscape(c.model)
	var data modelStatusData
	if err := c.getJSON(ctx, endpoint, "/client/common/getModelStatus", &data); err != nil {
		return false, err
	}
	return data.Status, nil
}

// DownloadVideo streams the generated asset. The caller owns the returned
// body. Downloads bypass the API rate limiter.
func (c *Client) DownloadVideo(ctx context.Context, videoURL string) (io.ReadCloser, int64, error) {
	parsed, err := url.Parse(strings.TrimSpace(videoURL))
	if err != nil || parsed.Scheme == "" {
		return nil, 0, fmt.Errorf("grsai: invalid video url: %s", videoURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("grsai: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("grsai: download video: %w", err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("grsai: download status %d", resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("grsai: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("grsai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(httpReq, path, out)
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("grsai: build request: %w", err)
	}
	return c.do(httpReq, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("grsai: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("grsai: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var env envelope
		if err := json.Unmarshal(raw, &env); err == nil && env.Msg != "" {
			return fmt.Errorf("grsai: status %d: %s", resp.StatusCode, env.Msg)
		}
		return fmt.Errorf("grsai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &MalformedResponseError{Endpoint: path, Reason: err.Error()}
	}
	if env.Code == nil {
		return &MalformedResponseError{Endpoint: path, Reason: "missing code"}
	}
	if *env.Code != 0 {
		return &APIError{Code: *env.Code, Message: env.Msg}
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 {
		return &MalformedResponseError{Endpoint: path, Reason: "missing data"}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &MalformedResponseError{Endpoint: path, Reason: err.Error()}
	}
	return nil
}
