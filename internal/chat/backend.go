package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/metrics"
	"github.com/normanking/talkingavatar/internal/resilience"
)

// BackendConfig points at an existing chat backend.
type BackendConfig struct {
	URL     string
	Timeout time.Duration
	Retry   resilience.RetryConfig
}

// BackendClient talks to a JSON chat endpoint that replies with
// {response, audio_blob, use_browser_tts, error}.
type BackendClient struct {
	url    string
	client *http.Client
	retry  resilience.RetryConfig
	logger zerolog.Logger
}

// statusError is a non-200 response.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("chat backend error %d: %s", e.code, e.msg)
}

type backendRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

type backendResponse struct {
	Response      string `json:"response"`
	AudioBlob     string `json:"audio_blob,omitempty"`
	UseBrowserTTS bool   `json:"use_browser_tts,omitempty"`
	Error         string `json:"error,omitempty"`
}

// NewBackendClient creates a client for cfg.URL.
func NewBackendClient(cfg BackendConfig, logger zerolog.Logger) *BackendClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	return &BackendClient{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		retry:  cfg.Retry,
		logger: logger.With().Str("component", "chat").Str("provider", "backend").Logger(),
	}
}

// Send implements Client. Transport failures and 5xx responses are retried.
func (c *BackendClient) Send(ctx context.Context, userID, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	body, err := json.Marshal(backendRequest{Message: message, UserID: userOrDefault(userID)})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var out backendResponse
	err = resilience.Retry(ctx, c.retry, isTransient, func(ctx context.Context) error {
		out = backendResponse{}
		return c.post(ctx, body, &out)
	})
	if err != nil {
		metrics.ChatRequests.WithLabelValues("backend", "error").Inc()
		return nil, err
	}

	reply := &Reply{Text: strings.TrimSpace(out.Response), Mode: ModePlatformTTS}
	if out.AudioBlob != "" && !out.UseBrowserTTS {
		audio, err := base64.StdEncoding.DecodeString(out.AudioBlob)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Invalid audio blob, switching to platform TTS")
		} else {
			reply.Mode = ModeAudio
			reply.Audio = audio
			reply.Format = "mp3"
		}
	}
	if reply.Text == "" {
		metrics.ChatRequests.WithLabelValues("backend", "error").Inc()
		return nil, ErrEmptyReply
	}

	metrics.ChatRequests.WithLabelValues("backend", string(reply.Mode)).Inc()
	return reply, nil
}

func (c *BackendClient) post(ctx context.Context, body []byte, out *backendResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil && resp.StatusCode == http.StatusOK {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return &statusError{code: resp.StatusCode, msg: msg}
	}
	if out.Error != "" {
		return &statusError{code: resp.StatusCode, msg: out.Error}
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return true
}
