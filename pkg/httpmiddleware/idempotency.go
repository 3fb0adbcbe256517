package httpmiddleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// IdempotencyKeyHeader carries the client supplied key.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotencyStore persists captured responses. Get returns (nil, nil) for
// missing keys.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// IdempotencyConfig configures Idempotency.
type IdempotencyConfig struct {
	Store IdempotencyStore
	TTL   time.Duration
	// Scope namespaces keys per caller, e.g. by API key id.
	Scope func(*http.Request) string
}

type idempotencyRecord struct {
	status      int // 0 while the first request is in flight
	contentType string
	body        []byte
	requestHash string
}

// Idempotency replays the stored response of a previous request carrying the
// same Idempotency-Key. Requests without the header pass through, as do all
// requests when the store fails. A key reused with a different body is
// rejected with 422, a key whose first request is still running with 409.
// Server errors are not stored so the client may retry them.
func Idempotency(cfg IdempotencyConfig) Middleware {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if cfg.Store == nil || key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 255 {
				writeError(w, http.StatusBadRequest, "idempotency key is too long")
				return
			}

			ctx := r.Context()
			lg := zctx.From(ctx)

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "cannot read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			hash := hex.EncodeToString(sum[:])

			storeKey := "idem:" + r.Method + ":" + r.URL.Path + ":" + key
			if cfg.Scope != nil {
				storeKey = "idem:" + cfg.Scope(r) + ":" + r.Method + ":" + r.URL.Path + ":" + key
			}

			pending := encodeRecord(idempotencyRecord{requestHash: hash})
			reserved, err := cfg.Store.SetNX(ctx, storeKey, pending, cfg.TTL)
			if err != nil {
				lg.Warn("Idempotency store unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !reserved {
				replay(w, r, cfg.Store, storeKey, hash)
				return
			}

			rec := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				if err := cfg.Store.Del(ctx, storeKey); err != nil {
					lg.Warn("Release idempotency key", zap.Error(err))
				}
				return
			}
			done := encodeRecord(idempotencyRecord{
				status:      rec.statusOrOK(),
				contentType: rec.Header().Get("Content-Type"),
				body:        rec.body.Bytes(),
				requestHash: hash,
			})
			if err := cfg.Store.Set(ctx, storeKey, done, cfg.TTL); err != nil {
				lg.Warn("Store idempotent response", zap.Error(err))
			}
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, store IdempotencyStore, key, hash string) {
	lg := zctx.From(r.Context())

	raw, err := store.Get(r.Context(), key)
	if err != nil || raw == nil {
		// Expired or released between SetNX and Get.
		if err != nil {
			lg.Warn("Read idempotency record", zap.Error(err))
		}
		writeError(w, http.StatusConflict, "request with this idempotency key is being processed")
		return
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		lg.Warn("Decode idempotency record", zap.Error(err))
		writeError(w, http.StatusConflict, "request with this idempotency key is being processed")
		return
	}
	switch {
	case rec.requestHash != hash:
		writeError(w, http.StatusUnprocessableEntity, "idempotency key reused with a different request body")
	case rec.status == 0:
		writeError(w, http.StatusConflict, "request with this idempotency key is being processed")
	default:
		if rec.contentType != "" {
			w.Header().Set("Content-Type", rec.contentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(rec.status)
		_, _ = w.Write(rec.body)
	}
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

func (c *captureWriter) statusOrOK() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func encodeRecord(rec idempotencyRecord) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("status")
	e.Int(rec.status)
	e.FieldStart("content_type")
	e.Str(rec.contentType)
	e.FieldStart("body")
	e.Base64(rec.body)
	e.FieldStart("request_hash")
	e.Str(rec.requestHash)
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

func decodeRecord(data []byte) (idempotencyRecord, error) {
	var rec idempotencyRecord
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "status":
			rec.status, err = d.Int()
		case "content_type":
			rec.contentType, err = d.Str()
		case "body":
			rec.body, err = d.Base64()
		case "request_hash":
			rec.requestHash, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return idempotencyRecord{}, errors.Wrap(err, "decode idempotency record")
	}
	return rec, nil
}
