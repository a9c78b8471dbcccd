package http

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
)

const signatureHeader = "X-Event-Signature"

// maxEventBody ограничивает размер подписанного события.
const maxEventBody = 64 << 10

// EventAuthMiddleware проверяет HMAC-подпись тела запроса по общему секрету.
// Неподписанные события не должны запускать быстрый путь планирования.
func EventAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				WriteError(w, http.StatusServiceUnavailable, "подпись событий не настроена")
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
			if err != nil {
				WriteError(w, http.StatusBadRequest, "не удалось прочитать тело")
				return
			}
			_ = r.Body.Close()
			if !ValidateEventSignature(body, r.Header.Get(signatureHeader), key) {
				WriteError(w, http.StatusUnauthorized, "подпись недействительна")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// ValidateEventSignature сверяет hex-подпись HMAC-SHA256 тела запроса.
func ValidateEventSignature(body []byte, signature string, key []byte) bool {
	if signature == "" {
		return false
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, key)
	h.Write(body)
	return hmac.Equal(h.Sum(nil), expected)
}
