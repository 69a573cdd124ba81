package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	// MaxBatchSize はプロバイダーが1回のリクエストで受け付ける最大テキスト数
	MaxBatchSize = 100

	// MaxInputChars は1テキストあたりの最大文字数（超過分は切り詰める）
	MaxInputChars = 8000

	// MaxRetries はレート制限・サーバーエラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 1 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second
)

// embeddingAPI はEmbeddings APIの呼び出しを抽象化します（テスト差し替え用）
type embeddingAPI interface {
	New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// Result は単一テキストのEmbedding結果
type Result struct {
	Vector []float32
	Model  string
	Tokens int
}

// BatchResult はバッチEmbeddingの結果
// ベクトルの順序は入力テキストの順序と一致します
type BatchResult struct {
	Vectors     [][]float32
	Model       string
	TotalTokens int
}

// Client はOpenAI Embeddings APIのクライアントです
// バッチ分割・順序復元・リトライ・コスト計上を担います
type Client struct {
	api       embeddingAPI
	model     string
	dimension int
	logger    *slog.Logger
}

// NewClient は新しいClientを作成します
// APIキーが空の場合はErrProviderUnavailableを返します
func NewClient(apiKey, model string, dimension int) (*Client, error) {
	if apiKey == "" {
		return nil, ErrProviderUnavailable
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))

	return &Client{
		api:       &client.Embeddings,
		model:     model,
		dimension: dimension,
		logger:    slog.Default(),
	}, nil
}

// newClientWithAPI はAPI実装を差し替えてClientを作成します（テスト用）
func newClientWithAPI(api embeddingAPI, model string, dimension int) *Client {
	return &Client{
		api:       api,
		model:     model,
		dimension: dimension,
		logger:    slog.Default(),
	}
}

// SetLogger はカスタムロガーを設定します（nil の場合は無視）
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Model はEmbeddingモデル名を返します
func (c *Client) Model() string {
	return c.model
}

// Dimension はベクトル次元数を返します
func (c *Client) Dimension() int {
	return c.dimension
}

// NormalizeQuery は検索クエリを正規化します（小文字化・前後空白除去）
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// normalizeInput はEmbedding入力テキストを正規化します
// 長すぎる説明文は文字数上限で切り詰めます
func normalizeInput(text string) string {
	text = strings.TrimSpace(text)
	// マルチバイト文字を壊さないよう文字数（ルーン数）で切り詰める
	if runes := []rune(text); len(runes) > MaxInputChars {
		text = string(runes[:MaxInputChars])
	}
	return text
}

// Embed は単一テキストのEmbeddingを生成します
func (c *Client) Embed(ctx context.Context, text string) (*Result, error) {
	batch, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(batch.Vectors) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProvider)
	}

	return &Result{
		Vector: batch.Vectors[0],
		Model:  batch.Model,
		Tokens: batch.TotalTokens,
	}, nil
}

// EmbedBatch は複数テキストのEmbeddingをまとめて生成します
// 入力はMaxBatchSizeごとに分割してプロバイダーに送信し、
// 各チャンクの結果はプロバイダーが返すインデックスで入力順に復元します
// （プロバイダーは応答の順序を保証しない）
func (c *Client) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	result := &BatchResult{
		Vectors: make([][]float32, 0, len(texts)),
		Model:   c.model,
	}

	for start := 0; start < len(texts); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		chunk := make([]string, 0, end-start)
		for _, text := range texts[start:end] {
			chunk = append(chunk, normalizeInput(text))
		}

		vectors, tokens, err := c.embedChunk(ctx, chunk)
		if err != nil {
			return nil, err
		}

		result.Vectors = append(result.Vectors, vectors...)
		result.TotalTokens += tokens
	}

	return result, nil
}

// embedChunk は1チャンク分のEmbeddingを生成します（リトライ付き）
func (c *Client) embedChunk(ctx context.Context, texts []string) ([][]float32, int, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.model),
	}

	// Input を設定（単一または配列）
	if len(texts) == 1 {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(texts[0]),
		}
	} else {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		}
	}

	// dimensionパラメータを追加（text-embedding-3-smallなどで有効）
	if c.dimension > 0 {
		params.Dimensions = openai.Int(int64(c.dimension))
	}

	resp, err := c.callWithRetry(ctx, params)
	if err != nil {
		return nil, 0, err
	}

	// レスポンスのインデックスで入力順に復元する
	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		idx := int(data.Index)
		if idx < 0 || idx >= len(texts) {
			return nil, 0, fmt.Errorf("%w: embedding index %d out of range", ErrProvider, idx)
		}

		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		vectors[idx] = vector
	}

	for i, vector := range vectors {
		if vector == nil {
			return nil, 0, fmt.Errorf("%w: missing embedding for input %d", ErrProvider, i)
		}
	}

	return vectors, int(resp.Usage.TotalTokens), nil
}

// callWithRetry はレート制限（429）とサーバーエラー（5xx）を
// Exponential Backoffでリトライしながらプロバイダーを呼び出します
func (c *Client) callWithRetry(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := BaseBackoff << (attempt - 1)
			if backoff > MaxBackoff {
				backoff = MaxBackoff
			}

			c.logger.Warn("embedding API retrying",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", lastErr.Error()),
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.api.New(ctx, params)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		switch {
		case isRateLimitError(err):
			continue
		case isServerError(err):
			continue
		default:
			// それ以外のエラークラスはリトライせず即時伝播する
			return nil, fmt.Errorf("%w: %v", ErrProvider, err)
		}
	}

	if isRateLimitError(lastErr) {
		return nil, fmt.Errorf("%w: %v", ErrProviderRateLimited, lastErr)
	}
	return nil, fmt.Errorf("%w: %v", ErrProviderServerError, lastErr)
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

func isServerError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return false
}
