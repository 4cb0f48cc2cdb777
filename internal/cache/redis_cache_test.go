package cache_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rohanverma-dev/kartify-backend/internal/cache"
	"github.com/rohanverma-dev/kartify-backend/internal/config"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCacheTest(t *testing.T) (cache.Cache, redismock.ClientMock) {
	t.Helper()

	client, mock := redismock.NewClientMock()
	cfg := &config.CacheConfig{
		DefaultTTL: 10 * time.Minute,
	}

	return cache.NewRedisCache(client, cfg), mock
}

func TestCacheGet(t *testing.T) {

	ctx := t.Context()
	productID := uuid.New()
	key := cache.Key(cache.ProductKeyPrefix, productID.String())
	product := models.Product{ID: productID, Title: "Desk Lamp", Price: 450, Stock: 12}

	jsonData, err := json.Marshal(product)
	require.NoError(t, err)

	t.Run("Success - key found", func(t *testing.T) {
		// Arrange
		redisCache, mock := setupCacheTest(t)

		var result models.Product

		mock.ExpectGet(key).SetVal(string(jsonData))

		// Act
		found, err := redisCache.Get(ctx, key, &result)

		// Assert
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, product.Title, result.Title)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Cache miss is not an error", func(t *testing.T) {
		// Arrange
		redisCache, mock := setupCacheTest(t)

		var result models.Product

		mock.ExpectGet(key).SetErr(redis.Nil)

		// Act
		found, err := redisCache.Get(ctx, key, &result)

		// Assert
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, result.Title)
	})

	t.Run("Failure - redis error", func(t *testing.T) {
		// Arrange
		redisCache, mock := setupCacheTest(t)

		var result models.Product

		redisErr := errors.New("connection refused")
		mock.ExpectGet(key).SetErr(redisErr)

		// Act
		found, err := redisCache.Get(ctx, key, &result)

		// Assert
		require.Error(t, err)
		assert.False(t, found)
		assert.ErrorIs(t, err, redisErr)
	})

	t.Run("Failure - corrupt payload", func(t *testing.T) {
		// Arrange
		redisCache, mock := setupCacheTest(t)

		var result models.Product

		mock.ExpectGet(key).SetVal(`{"title": 42`)

		// Act
		found, err := redisCache.Get(ctx, key, &result)

		// Assert
		require.Error(t, err)
		assert.False(t, found)
		assert.ErrorContains(t, err, "failed to unmarshal cache data")
	})
}

func TestCacheSet(t *testing.T) {

	ctx := t.Context()
	productID := uuid.New()
	key := cache.Key(cache.ProductKeyPrefix, productID.String())
	product := models.Product{ID: productID, Title: "Desk Lamp", Price: 450}

	jsonData, err := json.Marshal(product)
	require.NoError(t, err)

	t.Run("Success - explicit TTL", func(t *testing.T) {
		// Arrange
		redisCache, mock := setupCacheTest(t)

		mock.ExpectSet(key, jsonData, 5*time.Minute).SetVal("OK")

		// Act
		err := redisCache.Set(ctx, key, product, 5*time.Minute)

		// Assert
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Zero TTL falls back to the configured default", func(t *testing.T) {
		// Arrange
		redisCache, mock := setupCacheTest(t)

		mock.ExpectSet(key, jsonData, 10*time.Minute).SetVal("OK")

		// Act
		err := redisCache.Set(ctx, key, product, 0)

		// Assert
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Failure - redis error", func(t *testing.T) {
		// Arrange
		redisCache, mock := setupCacheTest(t)

		redisErr := errors.New("connection refused")
		mock.ExpectSet(key, jsonData, 5*time.Minute).SetErr(redisErr)

		// Act
		err := redisCache.Set(ctx, key, product, 5*time.Minute)

		// Assert
		require.Error(t, err)
		assert.ErrorIs(t, err, redisErr)
	})
}

func TestCacheDelete(t *testing.T) {

	ctx := t.Context()
	key := cache.Key(cache.ProductKeyPrefix, uuid.NewString())

	t.Run("Success", func(t *testing.T) {
		// Arrange
		redisCache, mock := setupCacheTest(t)
		mock.ExpectDel(key).SetVal(1)

		// Act
		err := redisCache.Delete(ctx, key)

		// Assert
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Failure - redis error", func(t *testing.T) {
		// Arrange
		redisCache, mock := setupCacheTest(t)

		redisErr := errors.New("connection refused")
		mock.ExpectDel(key).SetErr(redisErr)

		// Act
		err := redisCache.Delete(ctx, key)

		// Assert
		require.Error(t, err)
		assert.ErrorIs(t, err, redisErr)
	})
}
