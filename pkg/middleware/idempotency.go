package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

type IdempotencyConfig struct {
	TTL     time.Duration `yaml:"ttl" envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	LockTTL time.Duration `yaml:"lockTTL" envconfig:"IDEMPOTENCY_LOCK_TTL" default:"30s"`
	Prefix  string        `yaml:"prefix" envconfig:"IDEMPOTENCY_PREFIX" default:"idem"`
}

// IdempotencyStore keeps finished responses by key and guards in-flight ones.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Save(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

type redisIdempotencyStore struct {
	rdb *goredis.Client
}

func NewRedisIdempotencyStore(rdb *goredis.Client) IdempotencyStore {
	return &redisIdempotencyStore{rdb: rdb}
}

func (s *redisIdempotencyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	bs, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return bs, true, nil
}

func (s *redisIdempotencyStore) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key+":lock", 1, ttl).Result()
}

func (s *redisIdempotencyStore) Unlock(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key+":lock").Err()
}

func (s *redisIdempotencyStore) Save(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, payload, ttl).Err()
}

type storedResponse struct {
	// Fingerprint is the sha256 of the request body the response belongs to.
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	cw.buf.Write(b)
	return cw.ResponseWriter.Write(b)
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Server errors are not stored so the client may retry them. A nil store
// disables the middleware.
func Idempotency(cfg IdempotencyConfig, store IdempotencyStore, log *zap.Logger) echo.MiddlewareFunc {
	if store == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	log = log.Named("idempotency")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
			if key == "" {
				return next(c)
			}
			ctx := c.Request().Context()
			storeKey := strings.Join([]string{cfg.Prefix, c.Request().Method, c.Request().URL.Path, key}, ":")
			fingerprint, err := bodyFingerprint(c.Request())
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body").SetInternal(err)
			}

			payload, ok, err := store.Get(ctx, storeKey)
			if err != nil {
				log.Warn("idempotency lookup", zap.Error(err))
				return next(c)
			}
			if ok {
				var stored storedResponse
				if err := json.Unmarshal(payload, &stored); err == nil {
					if stored.Fingerprint != fingerprint {
						return echo.NewHTTPError(http.StatusUnprocessableEntity,
							"Idempotency-Key was already used with a different request body")
					}
					c.Response().Header().Set(HeaderReplayed, "true")
					return c.Blob(stored.Status, stored.ContentType, stored.Body)
				}
			}

			locked, err := store.Lock(ctx, storeKey, cfg.LockTTL)
			if err != nil {
				log.Warn("idempotency lock", zap.Error(err))
				return next(c)
			}
			if !locked {
				return echo.NewHTTPError(http.StatusConflict, "a request with this Idempotency-Key is in progress")
			}
			defer func() {
				if err := store.Unlock(context.Background(), storeKey); err != nil {
					log.Warn("idempotency unlock", zap.Error(err))
				}
			}()

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK}
			c.Response().Writer = cw
			if err := next(c); err != nil {
				c.Error(err)
			}
			if cw.status >= http.StatusInternalServerError {
				return nil
			}
			data, err := json.Marshal(storedResponse{
				Fingerprint: fingerprint,
				Status:      cw.status,
				ContentType: c.Response().Header().Get(echo.HeaderContentType),
				Body:        cw.buf.Bytes(),
			})
			if err != nil {
				return nil
			}
			if err := store.Save(context.Background(), storeKey, data, cfg.TTL); err != nil {
				log.Warn("idempotency save", zap.Error(err))
			}
			return nil
		}
	}
}

// bodyFingerprint hashes the request body and puts it back for the handler.
func bodyFingerprint(r *http.Request) (string, error) {
	var body []byte
	if r.Body != nil {
		var err error
		if body, err = io.ReadAll(r.Body); err != nil {
			return "", err
		}
		_ = r.Body.Close()
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
