// Package gateway は外部サービス（決済・配送・CEP・メール・画像保存・イベント）との約束。
// 実装は internal/infra 以下にある。
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

var (
	//未設定のプロバイダを呼んだ
	ErrNotConfigured = errors.New("provider not configured")
	//アクセストークンが無効（MP の 401 など）
	ErrInvalidCredentials = errors.New("provider rejected credentials")
	//Webhook本文/クエリが読めない、必須項目が無い
	ErrMalformedWebhook = errors.New("malformed webhook")
	//署名・トークン不一致
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrCEPNotFound      = errors.New("cep not found")
)

// ProviderError はプロバイダが 2xx 以外を返したときのエラー
type ProviderError struct {
	Provider string
	Op       string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Op, e.Status, e.Body)
}

// WebhookRequest は受信したWebhookの生データ
type WebhookRequest struct {
	Body   []byte
	Header http.Header
	Query  url.Values
}
