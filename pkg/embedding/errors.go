package embedding

import "errors"

var (
	// ErrProviderUnavailable はAPIキーが設定されていない場合のエラー
	ErrProviderUnavailable = errors.New("embedding provider unavailable: OPENAI_API_KEY not set")

	// ErrProvider はリトライ対象外のプロバイダーエラー
	ErrProvider = errors.New("embedding provider error")

	// ErrProviderRateLimited はリトライ回数を使い切ったレート制限エラー
	ErrProviderRateLimited = errors.New("embedding provider rate limited")

	// ErrProviderServerError はリトライ回数を使い切ったサーバーエラー
	ErrProviderServerError = errors.New("embedding provider server error")

	// ErrInvalidEmbedding は次元数不一致または非有限値を含むベクトルのエラー
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrDimensionMismatch は次元の異なるベクトル同士を比較した場合のエラー
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
