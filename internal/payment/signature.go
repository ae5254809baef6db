package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader — заголовок с подписью webhook.
// Формат: t=<unix seconds>,v1=<hex hmac-sha256(secret, t + "." + body)>
const SignatureHeader = "X-Paywall-Signature"

// ErrInvalidSignature — подпись webhook отсутствует, некорректна или устарела.
var ErrInvalidSignature = errors.New("недействительная подпись webhook")

// Sign формирует значение заголовка SignatureHeader для тела body.
func Sign(secret string, body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + computeMAC(secret, ts, body)
}

// VerifySignature проверяет заголовок подписи.
// Подпись старше tolerance (или из будущего больше чем на tolerance) отклоняется.
// Допускается несколько значений v1 (ротация секрета у провайдера).
func VerifySignature(secret, header string, body []byte, now time.Time, tolerance time.Duration) error {
	if header == "" {
		return fmt.Errorf("%w: заголовок %s отсутствует", ErrInvalidSignature, SignatureHeader)
	}

	var (
		ts         string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if ts == "" || len(signatures) == 0 {
		return fmt.Errorf("%w: некорректный формат заголовка", ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: некорректная метка времени", ErrInvalidSignature)
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > tolerance || age < -tolerance {
		return fmt.Errorf("%w: метка времени вне допустимого окна", ErrInvalidSignature)
	}

	expected, _ := hex.DecodeString(computeMAC(secret, ts, body))
	for _, sig := range signatures {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: подпись не совпадает", ErrInvalidSignature)
}

func computeMAC(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
