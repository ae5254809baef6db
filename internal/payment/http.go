package payment

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/bigkaa/goartstore/paywall-module/internal/breaker"
	"github.com/bigkaa/goartstore/paywall-module/internal/domain/model"
)

// errRejected — провайдер отклонил запрос (4xx). Не считается отказом зависимости.
var errRejected = errors.New("запрос отклонён провайдером")

// maxResponseBody — ограничение размера ответа провайдера.
const maxResponseBody = 1 << 20

// HTTPConfig — параметры HTTP-провайдера.
type HTTPConfig struct {
	// BaseURL — базовый URL API провайдера (без trailing slash)
	BaseURL string
	// APIKey — ключ API (Authorization: Bearer)
	APIKey string
	// Timeout — таймаут одного запроса
	Timeout time.Duration
	// CACertPath — путь к CA-сертификату (пустая строка — системный пул)
	CACertPath string
	// BreakerFailureThreshold — ошибок подряд до размыкания breaker
	BreakerFailureThreshold uint32
	// BreakerOpenTimeout — время в состоянии open
	BreakerOpenTimeout time.Duration
}

// HTTPGateway — клиент внешнего провайдера платежей.
//
// API провайдера:
//   - POST /v1/charges — синхронное списание
//   - POST /v1/payment_intents — отложенный платёж
//   - GET  /v1/payments/{reference} — состояние операции
//
// Reference передаётся в заголовке Idempotency-Key: повторный запрос
// с тем же reference не приводит к повторному списанию.
type HTTPGateway struct {
	cfg        HTTPConfig
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[*apiResponse]
	logger     *slog.Logger
}

// apiResponse — прочитанный ответ провайдера.
type apiResponse struct {
	StatusCode int
	Body       []byte
}

// chargeBody — тело запросов POST /v1/charges и /v1/payment_intents.
type chargeBody struct {
	Reference   string `json:"reference"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
	Customer    string `json:"customer"`
}

// paymentObject — объект платежа в ответах провайдера.
type paymentObject struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	CheckoutURL   string `json:"checkout_url,omitempty"`
}

// NewHTTPGateway создаёт клиент HTTP-провайдера.
func NewHTTPGateway(cfg HTTPConfig, logger *slog.Logger) (*HTTPGateway, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	if cfg.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата провайдера: %w", err)
		}
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	return &HTTPGateway{
		cfg:        cfg,
		httpClient: httpClient,
		cb: breaker.New[*apiResponse](breaker.Settings{
			Name:             "payment-provider",
			FailureThreshold: cfg.BreakerFailureThreshold,
			OpenTimeout:      cfg.BreakerOpenTimeout,
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, errRejected)
			},
		}, logger),
		logger: logger.With(slog.String("component", "payment_gateway")),
	}, nil
}

// Name возвращает имя провайдера.
func (g *HTTPGateway) Name() string { return "http" }

// Method возвращает способ оплаты provider.
func (g *HTTPGateway) Method() model.PaymentMethod { return model.MethodProvider }

// Charge выполняет синхронное списание.
//
// 402 — отказ в списании (failed), прочие 4xx — ErrNotAttempted.
// 5xx и сетевые ошибки — результат неизвестен, возвращается ошибка без ErrNotAttempted.
func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	resp, err := g.call(ctx, http.MethodPost, "/v1/charges", req.Reference, newChargeBody(req))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusPaymentRequired {
			obj, _ := decodePayment(resp.Body)
			return &ChargeResult{Status: StatusFailed, ProviderRef: obj.ID, Reason: declineReason(obj)}, nil
		}
		return nil, err
	}

	obj, err := decodePayment(resp.Body)
	if err != nil {
		return nil, err
	}

	switch Status(obj.Status) {
	case StatusSucceeded:
		return &ChargeResult{Status: StatusSucceeded, ProviderRef: obj.ID}, nil
	case StatusFailed:
		return &ChargeResult{Status: StatusFailed, ProviderRef: obj.ID, Reason: declineReason(obj)}, nil
	case StatusPending:
		return &ChargeResult{Status: StatusPending, ProviderRef: obj.ID}, nil
	default:
		return nil, fmt.Errorf("провайдер вернул неизвестный статус %q", obj.Status)
	}
}

// Initiate создаёт отложенный платёж.
func (g *HTTPGateway) Initiate(ctx context.Context, req ChargeRequest) (*InitiateResult, error) {
	resp, err := g.call(ctx, http.MethodPost, "/v1/payment_intents", req.Reference, newChargeBody(req))
	if err != nil {
		return nil, err
	}

	obj, err := decodePayment(resp.Body)
	if err != nil {
		return nil, err
	}
	if obj.ID == "" {
		return nil, errors.New("провайдер не вернул идентификатор платежа")
	}
	return &InitiateResult{ProviderRef: obj.ID, CheckoutURL: obj.CheckoutURL}, nil
}

// Status запрашивает состояние операции. 404 — StatusUnknown.
func (g *HTTPGateway) Status(ctx context.Context, reference string) (*StatusResult, error) {
	resp, err := g.call(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(reference), "", nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return &StatusResult{Status: StatusUnknown}, nil
		}
		return nil, err
	}

	obj, err := decodePayment(resp.Body)
	if err != nil {
		return nil, err
	}

	status := Status(obj.Status)
	switch status {
	case StatusPending, StatusSucceeded, StatusFailed:
	default:
		status = StatusUnknown
	}
	return &StatusResult{Status: status, ProviderRef: obj.ID, Reason: declineReason(obj)}, nil
}

// call выполняет запрос к провайдеру через circuit breaker.
// Для 4xx возвращает прочитанный ответ вместе с ошибкой.
func (g *HTTPGateway) call(ctx context.Context, method, path, idempotencyKey string, body any) (*apiResponse, error) {
	resp, err := g.cb.Execute(func() (*apiResponse, error) {
		return g.do(ctx, method, path, idempotencyKey, body)
	})
	if err != nil {
		if breaker.IsOpen(err) {
			g.logger.Warn("Запрос к провайдеру отклонён circuit breaker",
				slog.String("path", path),
			)
			return nil, fmt.Errorf("%w: провайдер платежей недоступен (circuit breaker)", ErrNotAttempted)
		}
		if errors.Is(err, errRejected) {
			return resp, fmt.Errorf("%w: %w", ErrNotAttempted, err)
		}
		return resp, err
	}
	return resp, nil
}

// do выполняет один HTTP-запрос и читает ответ.
func (g *HTTPGateway) do(ctx context.Context, method, path, idempotencyKey string, body any) (*apiResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация запроса к провайдеру: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса к провайдеру: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	httpResp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос %s %s к провайдеру: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("чтение ответа провайдера: %w", err)
	}
	resp := &apiResponse{StatusCode: httpResp.StatusCode, Body: data}

	switch {
	case httpResp.StatusCode >= 500:
		return resp, fmt.Errorf("провайдер вернул статус %d: %s", httpResp.StatusCode, truncate(data))
	case httpResp.StatusCode >= 400:
		return resp, fmt.Errorf("%w: статус %d: %s", errRejected, httpResp.StatusCode, truncate(data))
	}
	return resp, nil
}

func newChargeBody(req ChargeRequest) chargeBody {
	return chargeBody{
		Reference:   req.Reference,
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		Description: req.Description,
		Customer:    req.UserID,
	}
}

func decodePayment(data []byte) (*paymentObject, error) {
	obj := &paymentObject{}
	if err := json.Unmarshal(data, obj); err != nil {
		return obj, fmt.Errorf("декодирование ответа провайдера: %w", err)
	}
	return obj, nil
}

func declineReason(obj *paymentObject) string {
	if obj == nil || obj.FailureReason == "" {
		return "declined"
	}
	return obj.FailureReason
}

// truncate обрезает тело ответа для сообщений об ошибках.
func truncate(data []byte) string {
	const limit = 256
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}
