package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"calmhour/internal/idempotency"

	"github.com/gin-gonic/gin"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"

	// storeTimeout bounds the Complete/Release calls made after the handler returns.
	storeTimeout = 5 * time.Second
)

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

// idempotent replays the recorded response for a repeated Idempotency-Key. Responses
// caused by upstream or auth failures are not recorded so the client can retry them.
// A key reused with a different request body is rejected with 422.
func idempotent(logger *slog.Logger, store idempotency.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
		if key == "" || store == nil {
			c.Next()
			return
		}
		scoped := c.Param("account") + ":" + c.FullPath() + ":" + key

		fingerprint, err := bodyFingerprint(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid request",
				"message": err.Error(),
			})
			return
		}

		resp, err := store.Begin(c.Request.Context(), scoped)
		switch {
		case errors.Is(err, idempotency.ErrInProgress):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":   "request in progress",
				"message": err.Error(),
			})
			return
		case err != nil:
			logger.Error("Failed to lock idempotency key", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "internal error",
				"message": "failed to lock idempotency key",
			})
			return
		case resp != nil && resp.Fingerprint != fingerprint:
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "idempotency key reused",
				"message": "the Idempotency-Key was already used with a different request body",
			})
			return
		case resp != nil:
			c.Header(headerReplayed, "true")
			c.Data(resp.Status, "application/json; charset=utf-8", resp.Body)
			c.Abort()
			return
		}

		// From here the key is reserved. The store calls below must run even when the client
		// went away, so they use a context detached from the request.
		storeCtx := func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.WithoutCancel(c.Request.Context()), storeTimeout)
		}
		finished := false
		defer func() {
			if finished {
				return
			}
			ctx, cancel := storeCtx()
			defer cancel()
			if err := store.Release(ctx, scoped); err != nil {
				logger.Error("Failed to release idempotency key after panic", "error", err)
			}
		}()

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()
		finished = true

		ctx, cancel := storeCtx()
		defer cancel()
		status := rec.Status()
		if status >= http.StatusInternalServerError || status == http.StatusUnauthorized {
			if err := store.Release(ctx, scoped); err != nil {
				logger.Error("Failed to release idempotency key", "error", err)
			}
			return
		}
		record := idempotency.Response{Status: status, Body: rec.body.Bytes(), Fingerprint: fingerprint}
		if err := store.Complete(ctx, scoped, record); err != nil {
			logger.Error("Failed to finalize idempotency key", "error", err)
		}
	}
}

// bodyFingerprint hashes the request body and puts it back for the handler.
func bodyFingerprint(c *gin.Context) (string, error) {
	if c.Request.Body == nil {
		return "", nil
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read request body: %w", err)
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(data))
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
