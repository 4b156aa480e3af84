package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrRateLimited means the endpoint kept answering 429 through the
	// whole backoff schedule.
	ErrRateLimited = errors.New("scoring endpoint rate limited")
	// ErrUnavailable means the endpoint failed for reasons other than
	// throttling after all retries.
	ErrUnavailable = errors.New("scoring endpoint unavailable")
)

const (
	maxAttempts        = 5
	rateLimitBaseDelay = 60 * time.Second
	transientBaseDelay = 10 * time.Second
)

// Client calls an OpenAI-compatible chat-completions endpoint. It is
// stateless across calls; callers serialize requests themselves because
// the shared per-minute quota is the binding constraint.
type Client struct {
	BaseURL     string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
	Logger      zerolog.Logger

	// Sleep is swappable in tests; nil means time.Sleep.
	Sleep func(time.Duration)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) Score(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(c.BaseURL) == "" {
		return "", fmt.Errorf("scoring base URL is not set")
	}
	if strings.TrimSpace(c.Model) == "" {
		return "", fmt.Errorf("scoring model is not set")
	}

	payload := chatRequest{
		Model:       c.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	}
	body, _ := json.Marshal(payload)
	url := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	sleep := c.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		if strings.TrimSpace(c.APIKey) != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts-1 {
				sleep(transientBaseDelay * time.Duration(attempt+1))
				continue
			}
			return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			// Quota headers are logged for diagnostics only; the backoff
			// schedule does not depend on them.
			c.Logger.Warn().
				Int("attempt", attempt+1).
				Str("retry_after", resp.Header.Get("Retry-After")).
				Str("limit", resp.Header.Get("X-Ratelimit-Limit-Requests")).
				Str("remaining", resp.Header.Get("X-Ratelimit-Remaining-Requests")).
				Str("reset", resp.Header.Get("X-Ratelimit-Reset-Requests")).
				Msg("scoring endpoint throttled")
			resp.Body.Close()
			if attempt < maxAttempts-1 {
				sleep(rateLimitBaseDelay * (1 << attempt))
				continue
			}
			return "", ErrRateLimited
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			lastErr = fmt.Errorf("scoring http status %d", resp.StatusCode)
			if attempt < maxAttempts-1 {
				sleep(transientBaseDelay * time.Duration(attempt+1))
				continue
			}
			return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
		}

		// A 200 with a garbled or empty body is treated like any other
		// transient failure and retried on the linear schedule.
		var res chatResponse
		err = json.NewDecoder(resp.Body).Decode(&res)
		resp.Body.Close()
		switch {
		case err != nil:
			lastErr = fmt.Errorf("decode response: %v", err)
		case len(res.Choices) == 0:
			lastErr = fmt.Errorf("empty response")
		default:
			return res.Choices[0].Message.Content, nil
		}
		if attempt < maxAttempts-1 {
			sleep(transientBaseDelay * time.Duration(attempt+1))
			continue
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
	}

	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}
