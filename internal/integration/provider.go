// Package integration defines the contract every billing provider adapter implements
// and the helpers they share.
package integration

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/scoutflow-billing/internal/domain"
)

// VerificationResult итог проверки подписи вебхука
type VerificationResult string

const (
	VerificationVerified     VerificationResult = "verified"
	VerificationInvalid      VerificationResult = "invalid"
	VerificationMissing      VerificationResult = "missing"
	VerificationUnconfigured VerificationResult = "unconfigured"
)

// Verification результат проверки подписи с причиной для логов
type Verification struct {
	Result VerificationResult
	Reason string
}

// Verified сокращение для успешной проверки
func Verified() Verification { return Verification{Result: VerificationVerified} }

// Invalid сокращение для неверной подписи
func Invalid(format string, args ...interface{}) Verification {
	return Verification{Result: VerificationInvalid, Reason: fmt.Sprintf(format, args...)}
}

// Missing сокращение для отсутствующего заголовка
func Missing(header string) Verification {
	return Verification{Result: VerificationMissing, Reason: header + " header is missing"}
}

// Unconfigured сокращение для случая, когда секрет не задан
func Unconfigured() Verification {
	return Verification{Result: VerificationUnconfigured, Reason: "webhook secret is not configured"}
}

// Provider - адаптер одного платежного провайдера
type Provider interface {
	// Name возвращает имя провайдера, оно же сегмент URL вебхука
	Name() string
	// SignatureHeader возвращает имя заголовка с подписью
	SignatureHeader() string
	// Verify проверяет подпись тела запроса
	Verify(header string, payload []byte, now time.Time) Verification
	// Parse разбирает тело вебхука в нормализованное событие.
	// Неизвестные типы событий не являются ошибкой: Kind = unknown.
	Parse(payload []byte) (*domain.BillingEvent, error)
}

// CheckoutRequest запрос на создание сессии оплаты
type CheckoutRequest struct {
	UserID      string
	Email       string
	RedirectURL string
}

// CheckoutCreator создает сессию оплаты у провайдера и возвращает URL для редиректа
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (string, error)
}

// Registry хранит зарегистрированных провайдеров по имени
type Registry struct {
	providers map[string]Provider
}

// NewRegistry создает реестр провайдеров
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get возвращает провайдера по имени
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names возвращает отсортированный список имен
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StatusTable - полная таблица соответствия статусов провайдера внутренним статусам.
// Любое неизвестное значение отображается в Fallback.
type StatusTable struct {
	Known    map[string]domain.SubscriptionStatus
	Fallback domain.SubscriptionStatus
}

// Map возвращает внутренний статус и признак того, что значение было в таблице
func (t StatusTable) Map(raw string) (domain.SubscriptionStatus, bool) {
	if st, ok := t.Known[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return st, true
	}
	return t.Fallback, false
}

// HMACSHA256Hex считает HMAC-SHA256 от склеенных частей и возвращает hex
func HMACSHA256Hex(secret string, parts ...[]byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// EqualSignatures сравнивает hex-подписи за постоянное время
func EqualSignatures(expected, actual string) bool {
	return hmac.Equal([]byte(strings.ToLower(expected)), []byte(strings.ToLower(strings.TrimSpace(actual))))
}

// ParseTime разбирает RFC3339 время; пустая строка или мусор дают nil
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// UnixTime переводит unix-секунды во время; ноль дает nil
func UnixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// Stringify приводит значения из произвольного JSON к строке.
// Провайдеры присылают идентификаторы то строками, то числами.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprint(val)
	}
}

// UserIDFromCustomData достает user_id из пользовательских метаданных события
func UserIDFromCustomData(data map[string]interface{}) string {
	if data == nil {
		return ""
	}
	for _, key := range []string{"user_id", "userId"} {
		if v := Stringify(data[key]); v != "" {
			return v
		}
	}
	return ""
}
