package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-petr/pet-escrow/pkg/tokenpkg"
	"github.com/go-petr/pet-escrow/pkg/web"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// IdempotencyKeyHeader is the request header naming a retry-safe operation.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotencyHitHeader is set on responses replayed from the cache.
	IdempotencyHitHeader = "X-Idempotency-Hit"

	maxIdempotencyKeyLength = 255
)

var (
	// ErrIdempotencyKeyTooLong is returned when the key exceeds maxIdempotencyKeyLength.
	ErrIdempotencyKeyTooLong = errors.New("idempotency key is too long")
	// ErrIdempotencyKeyInFlight is returned while another request with the same key is being served.
	ErrIdempotencyKeyInFlight = errors.New("request with this idempotency key is in progress")
)

// cachedResponse is what is stored under an idempotency key. Status 0 marks a request that
// is still being served.
type cachedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body,omitempty"`
}

type bodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w bodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func idempotencyCacheKey(gctx *gin.Context, key string) string {
	var accountID int32
	if v, ok := gctx.Get(AuthPayloadKey); ok {
		if payload, ok := v.(*tokenpkg.Payload); ok {
			accountID = payload.AccountID
		}
	}

	return fmt.Sprintf("idempotency:%d:%s:%s:%s", accountID, gctx.Request.Method, gctx.FullPath(), key)
}

// Idempotency replays the stored response of a previous request carrying the same
// Idempotency-Key header. Requests without the header, or a nil client, pass through.
// Redis failures are logged and the request is served without replay protection.
func Idempotency(client *redis.Client, ttl time.Duration) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		key := gctx.GetHeader(IdempotencyKeyHeader)
		if client == nil || key == "" {
			gctx.Next()
			return
		}

		if len(key) > maxIdempotencyKeyLength {
			gctx.AbortWithStatusJSON(http.StatusBadRequest, web.Error(ErrIdempotencyKeyTooLong))
			return
		}

		ctx := gctx.Request.Context()
		l := zerolog.Ctx(ctx)
		cacheKey := idempotencyCacheKey(gctx, key)

		marker, _ := json.Marshal(cachedResponse{})

		acquired, err := client.SetNX(ctx, cacheKey, marker, ttl).Result()
		if err != nil {
			l.Error().Err(err).Str("key", cacheKey).Msg("idempotency: reserve key")
			gctx.Next()
			return
		}

		if !acquired {
			replay(gctx, client, cacheKey)
			return
		}

		writer := bodyWriter{ResponseWriter: gctx.Writer, body: &bytes.Buffer{}}
		gctx.Writer = writer

		gctx.Next()

		status := writer.Status()
		if status >= http.StatusInternalServerError {
			if err := client.Del(ctx, cacheKey).Err(); err != nil {
				l.Error().Err(err).Str("key", cacheKey).Msg("idempotency: release key")
			}
			return
		}

		record, err := json.Marshal(cachedResponse{Status: status, Body: writer.body.Bytes()})
		if err != nil {
			l.Error().Err(err).Msg("idempotency: encode response")
			return
		}

		if err := client.Set(ctx, cacheKey, record, ttl).Err(); err != nil {
			l.Error().Err(err).Str("key", cacheKey).Msg("idempotency: store response")
		}
	}
}

func replay(gctx *gin.Context, client *redis.Client, cacheKey string) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	raw, err := client.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		// Released by a failed request in between; ask the client to retry.
		gctx.AbortWithStatusJSON(http.StatusConflict, web.Error(ErrIdempotencyKeyInFlight))
		return
	}

	if err != nil {
		l.Error().Err(err).Str("key", cacheKey).Msg("idempotency: read key")
		gctx.Next()
		return
	}

	var cached cachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		l.Error().Err(err).Str("key", cacheKey).Msg("idempotency: decode response")
		gctx.Next()
		return
	}

	if cached.Status == 0 {
		gctx.AbortWithStatusJSON(http.StatusConflict, web.Error(ErrIdempotencyKeyInFlight))
		return
	}

	l.Info().Str("key", cacheKey).Msg("idempotency: replay")

	gctx.Header(IdempotencyHitHeader, "true")
	gctx.Data(cached.Status, "application/json; charset=utf-8", cached.Body)
	gctx.Abort()
}
