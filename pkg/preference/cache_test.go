package preference

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/gift-rec/pkg/models"
)

func TestMemoryCache(t *testing.T) {
	userID := uuid.New()
	profile := &models.UserPreferenceProfile{UserID: userID, InteractionCount: 3}

	t.Run("正常: SetしたプロファイルをGetできる", func(t *testing.T) {
		clock := time.Now()
		cache := newMemoryCacheWithClock(30*time.Minute, func() time.Time { return clock })

		cache.Set(userID, profile)
		got, ok := cache.Get(userID)
		require.True(t, ok)
		assert.Equal(t, profile, got)
	})

	t.Run("正常: TTL経過後はミスになる", func(t *testing.T) {
		clock := time.Now()
		cache := newMemoryCacheWithClock(30*time.Minute, func() time.Time { return clock })

		cache.Set(userID, profile)
		clock = clock.Add(31 * time.Minute)

		_, ok := cache.Get(userID)
		assert.False(t, ok)
	})

	t.Run("正常: TTL以内なら有効", func(t *testing.T) {
		clock := time.Now()
		cache := newMemoryCacheWithClock(30*time.Minute, func() time.Time { return clock })

		cache.Set(userID, profile)
		clock = clock.Add(29 * time.Minute)

		_, ok := cache.Get(userID)
		assert.True(t, ok)
	})

	t.Run("正常: Invalidateで即座に無効化される", func(t *testing.T) {
		clock := time.Now()
		cache := newMemoryCacheWithClock(30*time.Minute, func() time.Time { return clock })

		cache.Set(userID, profile)
		cache.Invalidate(userID)

		_, ok := cache.Get(userID)
		assert.False(t, ok)
	})

	t.Run("正常: 未登録のユーザーはミス", func(t *testing.T) {
		cache := NewMemoryCache(time.Minute)
		_, ok := cache.Get(uuid.New())
		assert.False(t, ok)
	})
}
