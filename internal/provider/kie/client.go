// Package kie is the HTTP client for the external image and video
// generation API. It only submits tasks; results arrive asynchronously on
// the callback URL passed with each submission.
package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tbourn/genstudio-backend/internal/config"
)

const (
	DefaultBaseURL = "https://api.kie.ai"

	imagePath = "/api/v1/jobs/createTask"
	videoPath = "/api/v1/veo/generate"

	// maxErrorBody caps how much of an error response is kept in SubmissionError.
	maxErrorBody = 4 << 10
)

// SubmissionError reports a rejected submission: a non-2xx response or a
// 2xx response whose envelope code is not 200.
type SubmissionError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *SubmissionError) Error() string {
	if e.Code != 0 && e.Code != e.HTTPStatus {
		return fmt.Sprintf("kie: submission rejected (http %d, code %d): %s", e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("kie: submission rejected (http %d): %s", e.HTTPStatus, e.Message)
}

// Client submits generation tasks.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New builds a client from cfg with a traced transport.
func New(cfg config.KieConfig) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: base,
		APIKey:  cfg.APIKey,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type imageInput struct {
	Prompt       string   `json:"prompt"`
	ImageURLs    []string `json:"image_urls"`
	InputURLs    []string `json:"input_urls"`
	OutputFormat string   `json:"output_format"`
	ImageSize    string   `json:"image_size"`
	AspectRatio  string   `json:"aspect_ratio"`
	Resolution   string   `json:"resolution"`
	Quality      string   `json:"quality"`
}

type imageRequest struct {
	Model       string     `json:"model"`
	CallBackURL string     `json:"callBackUrl"`
	Input       imageInput `json:"input"`
}

type videoRequest struct {
	Model          string   `json:"model"`
	Prompt         string   `json:"prompt"`
	ImageURLs      []string `json:"imageUrls"`
	AspectRatio    string   `json:"aspectRatio"`
	CallBackURL    string   `json:"callBackUrl"`
	GenerationType string   `json:"generationType"`
}

type envelope struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Message string `json:"message"`
	Data    *struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

// SubmitImageJob creates an image task and returns its task id. The input
// block carries the union of fields understood by the supported models.
func (c *Client) SubmitImageJob(ctx context.Context, model, prompt string, imageURLs []string, aspectRatio, callbackURL string) (string, error) {
	if imageURLs == nil {
		imageURLs = []string{}
	}
	return c.post(ctx, imagePath, imageRequest{
		Model:       strings.TrimSpace(model),
		CallBackURL: callbackURL,
		Input: imageInput{
			Prompt:       prompt,
			ImageURLs:    imageURLs,
			InputURLs:    imageURLs,
			OutputFormat: "png",
			ImageSize:    aspectRatio,
			AspectRatio:  aspectRatio,
			Resolution:   "1K",
			Quality:      "basic",
		},
	})
}

// SubmitVideoJob creates a reference-to-video task and returns its task id.
func (c *Client) SubmitVideoJob(ctx context.Context, model, prompt string, imageURLs []string, aspectRatio, callbackURL string) (string, error) {
	if imageURLs == nil {
		imageURLs = []string{}
	}
	return c.post(ctx, videoPath, videoRequest{
		Model:          strings.TrimSpace(model),
		Prompt:         prompt,
		ImageURLs:      imageURLs,
		AspectRatio:    aspectRatio,
		CallBackURL:    callbackURL,
		GenerationType: "REFERENCE_2_VIDEO",
	})
}

func (c *Client) post(ctx context.Context, path string, body any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("kie: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("kie: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("kie: post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &SubmissionError{HTTPStatus: resp.StatusCode, Message: msg}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("kie: decode response: %w", err)
	}
	if env.Code != 200 {
		msg := env.Message
		if msg == "" {
			msg = env.Msg
		}
		return "", &SubmissionError{HTTPStatus: resp.StatusCode, Code: env.Code, Message: msg}
	}
	if env.Data == nil || strings.TrimSpace(env.Data.TaskID) == "" {
		return "", &SubmissionError{HTTPStatus: resp.StatusCode, Code: env.Code, Message: "response carries no taskId"}
	}
	return strings.TrimSpace(env.Data.TaskID), nil
}
