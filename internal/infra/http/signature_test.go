package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(body []byte, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func TestValidateEventSignature(t *testing.T) {
	key := []byte("secret")
	body := []byte(`{"event_id":"e1"}`)
	if !ValidateEventSignature(body, sign(body, key), key) {
		t.Fatalf("корректная подпись должна проходить проверку")
	}
	if ValidateEventSignature(body, sign(body, []byte("other")), key) {
		t.Fatalf("подпись чужим ключом не должна проходить")
	}
	if ValidateEventSignature(body, "", key) {
		t.Fatalf("пустая подпись не должна проходить")
	}
	if ValidateEventSignature(body, "не hex", key) {
		t.Fatalf("мусор вместо подписи не должен проходить")
	}
}
