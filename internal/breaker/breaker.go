// Пакет breaker — circuit breaker для исходящих HTTP-вызовов
// (провайдер платежей, сервис водяных знаков) на базе sony/gobreaker.
package breaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pw_circuit_breaker_state",
		Help: "Состояние circuit breaker (0 — closed, 1 — half-open, 2 — open)",
	}, []string{"name"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pw_circuit_breaker_transitions_total",
		Help: "Количество переходов circuit breaker между состояниями",
	}, []string{"name", "from", "to"})
)

// Settings — параметры circuit breaker.
type Settings struct {
	// Name — имя (лейбл метрик и логов)
	Name string
	// FailureThreshold — количество ошибок подряд до размыкания
	FailureThreshold uint32
	// OpenTimeout — время в состоянии open до пробного запроса
	OpenTimeout time.Duration
	// IsSuccessful — какие ошибки не считаются отказом зависимости (опционально)
	IsSuccessful func(err error) bool
}

// New создаёт circuit breaker.
// Размыкается после FailureThreshold ошибок подряд,
// в состоянии half-open пропускает один запрос.
func New[T any](s Settings, logger *slog.Logger) *gobreaker.CircuitBreaker[T] {
	log := logger.With(slog.String("component", "circuit_breaker"), slog.String("name", s.Name))
	breakerState.WithLabelValues(s.Name).Set(0)

	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Смена состояния circuit breaker",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateToFloat(to))
			breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		IsSuccessful: s.IsSuccessful,
	})
}

// IsOpen проверяет, что запрос отклонён разомкнутым circuit breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// stateToFloat преобразует состояние в значение метрики.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
