package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// OpenAI設定（Embeddings用）
	OpenAI OpenAIConfig

	// 推薦エンジンのチューニング設定
	Engine EngineConfig

	// バッチEmbedding処理の設定
	Batch BatchConfig

	// ログ出力の設定
	Log LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
}

// EngineConfig は推薦エンジンのチューニング設定
type EngineConfig struct {
	// SimilarityThreshold は通常検索の類似度しきい値
	SimilarityThreshold float64

	// PersonalizationOffset はパーソナライズ検索でしきい値から引く値
	// パーソナライズは意図的に広めに候補を取る
	PersonalizationOffset float64

	// HalfLifeDays は行動の重みが半減するまでの日数
	HalfLifeDays float64

	// ProfileCacheTTLMinutes は嗜好プロファイルキャッシュのTTL（分）
	ProfileCacheTTLMinutes int

	// DiversityThreshold はMMR多様化の強さ（0で無効相当）
	DiversityThreshold float64

	// ExplorationFactor はMMRの探索ボーナス上限
	ExplorationFactor float64
}

// BatchConfig はバッチEmbedding処理の設定
type BatchConfig struct {
	BatchSize         int
	Concurrency       int
	InterBatchDelayMS int
}

// LogConfig はログ出力の設定
type LogConfig struct {
	// Level はログレベル（debug/info/warn/error）
	Level string

	// Format は出力形式（json/text）
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "giftrec"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "giftrec"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
		},
		Engine: EngineConfig{
			SimilarityThreshold:    getEnvAsFloat("ENGINE_SIMILARITY_THRESHOLD", 0.5),
			PersonalizationOffset:  getEnvAsFloat("ENGINE_PERSONALIZATION_OFFSET", 0.2),
			HalfLifeDays:           getEnvAsFloat("ENGINE_HALF_LIFE_DAYS", 30),
			ProfileCacheTTLMinutes: getEnvAsInt("ENGINE_PROFILE_CACHE_TTL_MINUTES", 30),
			DiversityThreshold:     getEnvAsFloat("ENGINE_DIVERSITY_THRESHOLD", 0.3),
			ExplorationFactor:      getEnvAsFloat("ENGINE_EXPLORATION_FACTOR", 0.1),
		},
		Batch: BatchConfig{
			BatchSize:         getEnvAsInt("BATCH_SIZE", 100),
			Concurrency:       getEnvAsInt("BATCH_CONCURRENCY", 3),
			InterBatchDelayMS: getEnvAsInt("BATCH_INTER_BATCH_DELAY_MS", 100),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
