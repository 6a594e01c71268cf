// Package api предоставляет клиент удалённого API витрины: заказы, кошелёк, авторизацию, каталог и промокоды.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrRejected означает, что сервер ответил success=false. Это прикладная ошибка, а не сбой транспорта.
	ErrRejected = errors.New("request rejected")
	// ErrTransport означает сетевой сбой или неразборчивый ответ сервера.
	ErrTransport = errors.New("transport failure")
)

// RejectedError содержит сообщение сервера, которое можно показать пользователю.
type RejectedError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: rejected: %s", e.Op, e.Message)
}

// Is позволяет сравнивать ошибку с ErrRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// TransportError описывает сбой транспорта или неожиданный ответ.
type TransportError struct {
	Op  string
	Err error
	// RetryAfter задан, если сервер ответил 429 и указал, через сколько повторить запрос.
	RetryAfter time.Duration
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is позволяет сравнивать ошибку с ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// UserMessage возвращает текст ошибки для пользователя.
func UserMessage(err error) string {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Message
	}
	return "Something went wrong, please try again"
}

// TokenFunc возвращает текущий токен авторизации или пустую строку.
type TokenFunc func(ctx context.Context) string

// Client инкапсулирует HTTP-взаимодействие с удалённым API витрины.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenFunc
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option настраивает Client.
type Option func(*Client)

// WithTimeout задаёт таймаут одного запроса.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit ограничивает частоту запросов к API. Нулевое значение снимает ограничение.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger задаёт логгер клиента.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient создаёт клиент API по базовому адресу.
func NewClient(baseURL string, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	c := &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTokenFunc задаёт источник токена авторизации.
func (c *Client) SetTokenFunc(fn TokenFunc) {
	c.token = fn
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

const maxBodySize = 4 << 20

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	op := method + " " + path

	if c == nil || c.baseURL == "" {
		return &TransportError{Op: op, Err: errors.New("api client not configured")}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("rate limit wait: %w", err)}
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if token := c.token(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &TransportError{Op: op, Err: errors.New("too many requests"), RetryAfter: retryAfter}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("unexpected response (status %d): %w", resp.StatusCode, err)}
	}

	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.logger.Debug("api request rejected",
			zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("message", msg))
		return &RejectedError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}

	return nil
}
