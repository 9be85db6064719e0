package vision

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zapdesk/media-extractor/internal/infrastructure/resilience"
)

// Client talks to a Google-Vision-style annotate endpoint. OCR and label
// detection both go through images:annotate with different feature types.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, apiKey string) *Client {
	return NewWithOptions(baseURL, apiKey, Options{})
}

func NewWithOptions(baseURL, apiKey string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image   imageSource `json:"image"`
	Features []feature  `json:"features"`
}

type imageSource struct {
	Source sourceURI `json:"source"`
}

type sourceURI struct {
	ImageURI string `json:"imageUri"`
}

type feature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults,omitempty"`
}

type annotateResponse struct {
	Responses []imageResponse `json:"responses"`
}

type imageResponse struct {
	TextAnnotations  []annotation `json:"textAnnotations"`
	LabelAnnotations []annotation `json:"labelAnnotations"`
	Error            *statusError `json:"error"`
}

type annotation struct {
	Description string `json:"description"`
}

type statusError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// DetectText runs OCR against the image at the given URL. An empty string
// with nil error means the service recognized nothing.
func (c *Client) DetectText(ctx context.Context, imageURL string) (string, error) {
	resp, err := c.annotate(ctx, imageURL, "TEXT_DETECTION", 0, "detect_text")
	if err != nil {
		return "", err
	}
	if len(resp.TextAnnotations) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.TextAnnotations[0].Description), nil
}

func (c *Client) DetectLabels(ctx context.Context, imageURL string) ([]string, error) {
	resp, err := c.annotate(ctx, imageURL, "LABEL_DETECTION", 10, "detect_labels")
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(resp.LabelAnnotations))
	for _, label := range resp.LabelAnnotations {
		if label.Description != "" {
			labels = append(labels, label.Description)
		}
	}
	return labels, nil
}

func (c *Client) annotate(ctx context.Context, imageURL, featureType string, maxResults int, operation string) (*imageResponse, error) {
	request := annotateRequest{
		Requests: []imageRequest{{
			Image:    imageSource{Source: sourceURI{ImageURI: imageURL}},
			Features: []feature{{Type: featureType, MaxResults: maxResults}},
		}},
	}

	var response annotateResponse
	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/v1/images:annotate", request, &response, operation)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "vision."+operation, call, classifyVisionError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}

	if len(response.Responses) == 0 {
		return nil, fmt.Errorf("vision %s: empty responses", operation)
	}
	first := &response.Responses[0]
	if first.Error != nil {
		return nil, fmt.Errorf("vision %s error: %s (code %d)", operation, first.Error.Message, first.Error.Code)
	}
	return first, nil
}
