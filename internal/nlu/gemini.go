package nlu

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bot-financas/internal/cache"
	"bot-financas/internal/metrics"
	"bot-financas/internal/repo"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash"
	cachePrefix    = "nlu:intent:"
)

var (
	// ErrNoKeys is returned when every configured key is cooling down or none exist.
	ErrNoKeys = errors.New("no gemini api key available")
	// ErrEmptyResponse is returned when the model answered without content.
	ErrEmptyResponse = errors.New("gemini returned empty response")

	errRateLimited = errors.New("gemini key rate limited")
)

// KeyStore provides the Gemini API keys and records their cooldowns.
type KeyStore interface {
	ListActiveGeminiKeys(ctx context.Context) ([]repo.APIKey, error)
	SetCooldownUntil(ctx context.Context, id string, until time.Time) error
	ClearCooldown(ctx context.Context, id string) error
}

// Config holds Gemini client configuration.
type Config struct {
	BaseURL  string
	Model    string
	Timeout  time.Duration
	Cooldown time.Duration
	CacheTTL time.Duration
}

// Request is a message to interpret. Image is optional.
type Request struct {
	Text     string
	Image    []byte
	MimeType string
}

// Client extracts intents through the Gemini generateContent API.
type Client struct {
	keys     KeyStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cache    *cache.Redis
	http     *http.Client
	baseURL  string
	model    string
	cooldown time.Duration
	cacheTTL time.Duration
	now      func() time.Time
}

// New creates a Gemini client. redis may be nil to disable result caching.
func New(keys KeyStore, logger *slog.Logger, m *metrics.Metrics, redis *cache.Redis, cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Client{
		keys:     keys,
		logger:   logger.With("component", "nlu"),
		metrics:  m,
		cache:    redis,
		http:     &http.Client{Timeout: timeout},
		baseURL:  base,
		model:    model,
		cooldown: cooldown,
		cacheTTL: cfg.CacheTTL,
		now:      time.Now,
	}
}

// Extract interprets req and returns the structured intent.
func (c *Client) Extract(ctx context.Context, req Request) (*Intent, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" && len(req.Image) == 0 {
		return &Intent{Intent: IntentUnknown}, nil
	}

	cacheable := c.cache != nil && c.cacheTTL > 0 && len(req.Image) == 0
	cacheKey := c.cacheKey(text)
	if cacheable {
		var cached Intent
		ok, err := c.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			c.logger.Warn("read intent cache failed", "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	body, err := json.Marshal(c.buildRequest(text, req.Image, req.MimeType))
	if err != nil {
		return nil, fmt.Errorf("encode gemini request: %w", err)
	}

	raw, err := c.generate(ctx, body)
	if err != nil {
		return nil, err
	}

	intent, err := decodeIntent(raw)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := c.cache.SetJSON(ctx, cacheKey, intent, c.cacheTTL); err != nil {
			c.logger.Warn("set intent cache failed", "error", err)
		}
	}
	return intent, nil
}

// Ping reports whether at least one key is usable.
func (c *Client) Ping(ctx context.Context) error {
	keys, err := c.usableKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return ErrNoKeys
	}
	return nil
}

func (c *Client) generate(ctx context.Context, body []byte) (string, error) {
	keys, err := c.usableKeys(ctx)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", ErrNoKeys
	}

	var lastErr error
	for _, key := range keys {
		text, err := c.call(ctx, key.Value, body)
		if errors.Is(err, errRateLimited) {
			until := c.now().Add(c.cooldown)
			c.logger.Warn("gemini key cooling down", "key_id", key.ID, "until", until)
			if cerr := c.keys.SetCooldownUntil(ctx, key.ID, until); cerr != nil {
				c.logger.Error("failed to set key cooldown", "key_id", key.ID, "error", cerr)
			}
			lastErr = err
			continue
		}
		if err != nil {
			return "", err
		}
		if key.CooldownUntil != nil {
			if cerr := c.keys.ClearCooldown(ctx, key.ID); cerr != nil {
				c.logger.Warn("failed to clear key cooldown", "key_id", key.ID, "error", cerr)
			}
		}
		return text, nil
	}
	return "", fmt.Errorf("%w: %v", ErrNoKeys, lastErr)
}

func (c *Client) usableKeys(ctx context.Context) ([]repo.APIKey, error) {
	keys, err := c.keys.ListActiveGeminiKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list gemini keys: %w", err)
	}
	now := c.now()
	usable := keys[:0:0]
	for _, k := range keys {
		if k.CooldownUntil != nil && k.CooldownUntil.After(now) {
			continue
		}
		usable = append(usable, k)
	}
	return usable, nil
}

func (c *Client) call(ctx context.Context, apiKey string, body []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.observe("error", start)
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer res.Body.Close()
	c.observe(strconv.Itoa(res.StatusCode), start)

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: status=%d", errRateLimited, res.StatusCode)
	}
	if res.StatusCode >= 400 {
		return "", fmt.Errorf("gemini error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(data)))
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	for _, cand := range out.Candidates {
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
		if s := strings.TrimSpace(sb.String()); s != "" {
			return s, nil
		}
	}
	return "", ErrEmptyResponse
}

func (c *Client) observe(status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.GeminiRequests.WithLabelValues(status).Inc()
	c.metrics.GeminiLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func (c *Client) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + strings.ToLower(text)))
	return cachePrefix + hex.EncodeToString(sum[:])
}

func (c *Client) buildRequest(text string, image []byte, mimeType string) generateRequest {
	parts := []part{}
	if text != "" {
		parts = append(parts, part{Text: text})
	}
	if len(image) > 0 {
		if mimeType == "" {
			mimeType = http.DetectContentType(image)
		}
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(image),
		}})
	}
	return generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: systemPrompt(c.now())}}},
		Contents:          []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			Temperature:      0.1,
		},
	}
}

func decodeIntent(raw string) (*Intent, error) {
	raw = stripCodeFence(raw)
	if raw == "" {
		return nil, ErrEmptyResponse
	}
	var intent Intent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		return nil, fmt.Errorf("decode intent: %w", err)
	}
	intent.Normalise()
	if intent.Intent == "" {
		intent.Intent = IntentUnknown
	}
	return &intent, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}
