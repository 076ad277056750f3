// Package stt is the speech-to-text collaborator: one synchronous, unary call
// per audio chunk.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ErrUpstream marks failures of the speech-to-text endpoint itself.
var ErrUpstream = errors.New("speech-to-text service error")

// Transcriber turns a WAV-encoded chunk into text. Unintelligible audio yields
// an empty string, not an error.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Config describes an OpenAI-compatible /audio/transcriptions endpoint. When
// APIVersion is set the Azure OpenAI conventions are used instead.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Language   string
	APIVersion string
	Timeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.openai.com/v1",
		Model:   "whisper-1",
		Timeout: 60 * time.Second,
	}
}

// Client calls the transcription endpoint over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("speech-to-text API key is required")
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads one chunk and returns the recognised text.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}

	fields := map[string]string{
		"model":           c.cfg.Model,
		"response_format": "json",
	}
	if c.cfg.Language != "" {
		fields["language"] = c.cfg.Language
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIVersion != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: speech-to-text request: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response body: %w", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: speech-to-text HTTP %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var tr transcriptionResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", fmt.Errorf("%w: parse speech-to-text response: %w", ErrUpstream, err)
	}
	return tr.Text, nil
}

func (c *Client) endpoint() string {
	if c.cfg.APIVersion != "" {
		return fmt.Sprintf("%s/openai/deployments/%s/audio/transcriptions?api-version=%s",
			c.cfg.BaseURL, c.cfg.Model, c.cfg.APIVersion)
	}
	return c.cfg.BaseURL + "/audio/transcriptions"
}
