package preference

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/gift-rec/pkg/models"
)

// DefaultCacheTTL は嗜好プロファイルキャッシュのデフォルトTTL
const DefaultCacheTTL = 30 * time.Minute

// Cache は嗜好プロファイルキャッシュのポート
// 書き込み経路は更新ではなく必ず無効化を行い、次回読み出しで再計算させます
type Cache interface {
	Get(userID uuid.UUID) (*models.UserPreferenceProfile, bool)
	Set(userID uuid.UUID, profile *models.UserPreferenceProfile)
	Invalidate(userID uuid.UUID)
}

type cacheEntry struct {
	profile   *models.UserPreferenceProfile
	expiresAt time.Time
}

// memoryCache はシングルプロセス用のTTL付きインメモリキャッシュ
type memoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uuid.UUID]cacheEntry
	now     func() time.Time
}

// NewMemoryCache は新しいインメモリキャッシュを作成します
func NewMemoryCache(ttl time.Duration) Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &memoryCache{
		ttl:     ttl,
		entries: make(map[uuid.UUID]cacheEntry),
		now:     time.Now,
	}
}

// newMemoryCacheWithClock は時刻関数を差し替えてキャッシュを作成します（テスト用）
func newMemoryCacheWithClock(ttl time.Duration, now func() time.Time) *memoryCache {
	return &memoryCache{
		ttl:     ttl,
		entries: make(map[uuid.UUID]cacheEntry),
		now:     now,
	}
}

func (c *memoryCache) Get(userID uuid.UUID) (*models.UserPreferenceProfile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[userID]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, userID)
		return nil, false
	}
	return entry.profile, true
}

func (c *memoryCache) Set(userID uuid.UUID, profile *models.UserPreferenceProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = cacheEntry{
		profile:   profile,
		expiresAt: c.now().Add(c.ttl),
	}
}

func (c *memoryCache) Invalidate(userID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}
