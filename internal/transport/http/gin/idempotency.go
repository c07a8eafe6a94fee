package httpgin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	redisrepo "github.com/kirinyoku/eventbook/internal/repository/redis"
)

type IdempotencyStore interface {
	AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	SaveResult(ctx context.Context, key string, jsonPayload string) error
	GetResult(ctx context.Context, key string) (string, bool, error)
	Release(ctx context.Context, key string) error
}

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotent replays the stored 2xx response of an earlier request with the
// same Idempotency-Key from the same user. Requests without the header pass
// through. Must run after AuthMiddleware.
func Idempotent(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		if store == nil || idemKey == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := redisrepo.KeyIdemBooking(principal(c).UserID, idemKey)

		if replayStored(c, store, key, idemKey) {
			return
		}

		locked, err := store.AcquireLock(ctx, key, 60*time.Second)
		if err != nil {
			_ = c.Error(err)
			c.Next()
			return
		}

		if !locked {
			if replayStored(c, store, key, idemKey) {
				return
			}
			c.Header("Retry-After", "1")
			abortWithKind(c, http.StatusServiceUnavailable, kindTransientConflict, "a request with this Idempotency-Key is in progress", nil)
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec

		c.Next()

		status := rec.Status()
		if status < 200 || status > 299 {
			_ = store.Release(context.WithoutCancel(ctx), key)
			return
		}

		payload, err := json.Marshal(storedResponse{Status: status, Body: rec.body.Bytes()})
		if err == nil {
			err = store.SaveResult(context.WithoutCancel(ctx), key, string(payload))
		}
		if err != nil {
			_ = c.Error(err)
			_ = store.Release(context.WithoutCancel(ctx), key)
		}
	}
}

func replayStored(c *gin.Context, store IdempotencyStore, key, idemKey string) bool {
	payload, found, err := store.GetResult(c.Request.Context(), key)
	if err != nil || !found {
		return false
	}

	var res storedResponse
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return false
	}

	c.Header("Idempotency-Key", idemKey)
	c.Header("Idempotent-Replayed", "true")
	c.Data(res.Status, "application/json; charset=utf-8", res.Body)
	c.Abort()

	return true
}
