package assemblyai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client implements the upload → create job → poll transcription protocol.
// Polling is bounded so a single invocation stays within its execution budget;
// exhausting the budget is a hard failure for the attempt and the outer retry
// policy takes over.
type Client struct {
	baseURL      string
	apiKey       string
	language     string
	pollInterval time.Duration
	pollMax      int
	httpClient   *http.Client
	sleep        func(context.Context, time.Duration) error
}

type Options struct {
	Language        string
	PollInterval    time.Duration
	PollMaxAttempts int
	Timeout         time.Duration
}

func New(baseURL, apiKey string, options Options) *Client {
	pollInterval := options.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	pollMax := options.PollMaxAttempts
	if pollMax <= 0 {
		pollMax = 48
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	language := options.Language
	if language == "" {
		language = "pt"
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		language:     language,
		pollInterval: pollInterval,
		pollMax:      pollMax,
		httpClient:   &http.Client{Timeout: timeout},
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type transcriptJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	uploadURL, err := c.upload(ctx, audio)
	if err != nil {
		return "", err
	}

	jobID, err := c.createJob(ctx, uploadURL)
	if err != nil {
		return "", err
	}

	return c.poll(ctx, jobID)
}

func (c *Client) upload(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/upload", bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var response struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.do(req, &response, "upload"); err != nil {
		return "", err
	}
	if response.UploadURL == "" {
		return "", fmt.Errorf("transcribe upload: empty upload_url")
	}
	return response.UploadURL, nil
}

func (c *Client) createJob(ctx context.Context, audioURL string) (string, error) {
	payload := map[string]any{
		"audio_url":     audioURL,
		"language_code": c.language,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal transcript request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create transcript request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var job transcriptJob
	if err := c.do(req, &job, "create_job"); err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", fmt.Errorf("transcribe create_job: empty job id")
	}
	return job.ID, nil
}

func (c *Client) poll(ctx context.Context, jobID string) (string, error) {
	for attempt := 0; attempt < c.pollMax; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.pollInterval); err != nil {
				return "", err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/transcript/"+jobID, nil)
		if err != nil {
			return "", fmt.Errorf("create poll request: %w", err)
		}
		req.Header.Set("Authorization", c.apiKey)

		var job transcriptJob
		if err := c.do(req, &job, "poll"); err != nil {
			return "", err
		}

		switch job.Status {
		case "completed":
			return strings.TrimSpace(job.Text), nil
		case "error":
			return "", fmt.Errorf("transcription job %s failed: %s", jobID, job.Error)
		case "queued", "processing":
			// keep polling
		default:
			return "", fmt.Errorf("transcription job %s unknown status: %s", jobID, job.Status)
		}
	}
	return "", fmt.Errorf("transcription job %s: poll budget exhausted after %d attempts", jobID, c.pollMax)
}

func (c *Client) do(req *http.Request, out any, operation string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transcribe %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			return fmt.Errorf("transcribe %s status: %s", operation, resp.Status)
		}
		return fmt.Errorf("transcribe %s status: %s: %s", operation, resp.Status, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
