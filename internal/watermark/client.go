// Пакет watermark — HTTP-клиент внешнего сервиса водяных знаков.
// Операция: POST /v1/watermark?text=... (тело — исходное изображение,
// ответ — изображение с водяным знаком).
package watermark

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/bigkaa/goartstore/paywall-module/internal/breaker"
)

// ErrDisabled — сервис водяных знаков не настроен (PW_WATERMARK_URL пуст).
var ErrDisabled = errors.New("сервис водяных знаков не настроен")

// Config — параметры клиента.
type Config struct {
	// BaseURL — базовый URL сервиса (пусто — клиент отключён)
	BaseURL string
	// Timeout — таймаут одного запроса
	Timeout time.Duration
	// MaxResultSize — ограничение размера ответа в байтах
	MaxResultSize int64
	// BreakerFailureThreshold — ошибок подряд до размыкания breaker
	BreakerFailureThreshold uint32
	// BreakerOpenTimeout — время в состоянии open
	BreakerOpenTimeout time.Duration
}

// Client — клиент сервиса водяных знаков.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
}

// New создаёт клиент сервиса водяных знаков.
func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cb: breaker.New[[]byte](breaker.Settings{
			Name:             "watermark",
			FailureThreshold: cfg.BreakerFailureThreshold,
			OpenTimeout:      cfg.BreakerOpenTimeout,
		}, logger),
		logger: logger.With(slog.String("component", "watermark_client")),
	}
}

// Apply накладывает водяной знак text на изображение из src.
func (c *Client) Apply(ctx context.Context, src io.Reader, contentType, text string) ([]byte, error) {
	if c.cfg.BaseURL == "" {
		return nil, ErrDisabled
	}

	// Тело читается заранее: breaker не должен держать открытый reader
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("чтение исходного изображения: %w", err)
	}

	result, err := c.cb.Execute(func() ([]byte, error) {
		return c.do(ctx, data, contentType, text)
	})
	if err != nil {
		if breaker.IsOpen(err) {
			return nil, fmt.Errorf("сервис водяных знаков недоступен (circuit breaker): %w", err)
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, data []byte, contentType, text string) ([]byte, error) {
	reqURL := c.cfg.BaseURL + "/v1/watermark?text=" + url.QueryEscape(text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("создание запроса к сервису водяных знаков: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос к сервису водяных знаков: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("сервис водяных знаков вернул статус %d: %s", resp.StatusCode, string(body))
	}

	limit := c.cfg.MaxResultSize
	if limit <= 0 {
		limit = 64 << 20
	}
	out, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("чтение ответа сервиса водяных знаков: %w", err)
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("ответ сервиса водяных знаков превышает %d байт", limit)
	}
	if len(out) == 0 {
		return nil, errors.New("сервис водяных знаков вернул пустой ответ")
	}

	c.logger.Debug("Водяной знак наложен",
		slog.Int("input_bytes", len(data)),
		slog.Int("output_bytes", len(out)),
		slog.Duration("duration", time.Since(start)),
	)
	return out, nil
}
