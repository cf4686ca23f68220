package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/af-corp/clamgate/internal/clamd"
	"github.com/af-corp/clamgate/internal/config"
	"github.com/af-corp/clamgate/internal/httputil"
	"github.com/af-corp/clamgate/internal/relay"
	"github.com/af-corp/clamgate/internal/scanstore"
	"github.com/af-corp/clamgate/internal/telemetry"
)

// Handler holds dependencies for the clamgate HTTP handlers.
type Handler struct {
	cfg     func() *config.Config
	store   *scanstore.Store
	metrics *telemetry.Metrics
}

func NewHandler(cfg func() *config.Config, store *scanstore.Store, metrics *telemetry.Metrics) *Handler {
	return &Handler{cfg: cfg, store: store, metrics: metrics}
}

// VerdictResponse is the JSON document returned by POST /v1/scan.
type VerdictResponse struct {
	RequestID  string `json:"request_id,omitempty"`
	Digest     string `json:"digest"`
	SizeBytes  int64  `json:"size_bytes"`
	Verdict    string `json:"verdict"`
	Signature  string `json:"signature,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Cached     bool   `json:"cached"`
}

// Scan handles POST /v1/scan: the request body is streamed through the scan
// relay and discarded; the response is the verdict document. A client that
// already knows the content's SHA-256 may send it as X-Content-Digest to hit
// the verdict cache without a daemon dialogue.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	cfg := h.cfg()

	if digest := r.Header.Get("X-Content-Digest"); digest != "" {
		if rec := h.store.CachedVerdict(r.Context(), digest); rec != nil {
			h.metrics.RecordCacheLookup(true)
			writeVerdict(w, http.StatusOK, VerdictResponse{
				RequestID: reqID,
				Digest:    rec.Digest,
				SizeBytes: rec.SizeBytes,
				Verdict:   string(rec.Verdict),
				Signature: rec.Signature,
				Cached:    true,
			})
			return
		}
		h.metrics.RecordCacheLookup(false)
	}

	body := io.Reader(r.Body)
	if cfg.Scan.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, cfg.Scan.MaxBodyBytes)
	}

	hash := sha256.New()
	rl, err := h.dialRelay(r.Context(), relay.ReaderSource(io.TeeReader(body, hash)))
	if err != nil {
		slog.Error("clamd dial failed", "error", err, "request_id", reqID)
		httputil.WriteScannerUnavailableError(w, reqID, "Scanner unavailable")
		return
	}
	defer rl.Close()

	var size countWriter
	start := time.Now()
	err = rl.Run(r.Context(), &size)
	durationMs := time.Since(start).Milliseconds()

	rec := scanstore.Record{
		Digest:     hex.EncodeToString(hash.Sum(nil)),
		SizeBytes:  int64(size),
		DurationMs: durationMs,
		ScannedAt:  time.Now().UTC(),
	}

	var scanErr *relay.ScanError
	switch {
	case err == nil:
		rec.Verdict = scanstore.VerdictClean
	case errors.As(err, &scanErr):
		rec.Verdict = scanstore.VerdictInfected
		rec.Signature = scanErr.Response
	default:
		h.metrics.RecordScan("error", int64(size), float64(durationMs))
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.WritePayloadTooLargeError(w, reqID, fmt.Sprintf("Body exceeds %d bytes", cfg.Scan.MaxBodyBytes))
			return
		}
		slog.Error("scan failed", "error", err, "request_id", reqID)
		httputil.WriteScannerUnavailableError(w, reqID, "Scan failed: "+err.Error())
		return
	}

	h.metrics.RecordScan(string(rec.Verdict), rec.SizeBytes, float64(durationMs))
	if err := h.store.Save(r.Context(), rec); err != nil {
		slog.Error("failed to persist scan record", "error", err, "digest", rec.Digest)
	}

	writeVerdict(w, http.StatusOK, VerdictResponse{
		RequestID:  reqID,
		Digest:     rec.Digest,
		SizeBytes:  rec.SizeBytes,
		Verdict:    string(rec.Verdict),
		Signature:  rec.Signature,
		DurationMs: durationMs,
	})
}

// Filter handles POST /v1/filter: a true pass-through. The request body is
// echoed back to the caller chunk by chunk while being relayed to the
// daemon; the verdict arrives in the X-Clamgate-Verdict trailer once the
// body is exhausted. Consumers that need a guaranteed verdict must read the
// response to completion.
func (h *Handler) Filter(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	cfg := h.cfg()

	body := io.Reader(r.Body)
	if cfg.Scan.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, cfg.Scan.MaxBodyBytes)
	}

	hash := sha256.New()
	rl, err := h.dialRelay(r.Context(), relay.ReaderSource(io.TeeReader(body, hash)))
	if err != nil {
		slog.Error("clamd dial failed", "error", err, "request_id", reqID)
		httputil.WriteScannerUnavailableError(w, reqID, "Scanner unavailable")
		return
	}
	defer rl.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Trailer", "X-Clamgate-Verdict, X-Clamgate-Signature")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	var size countWriter
	start := time.Now()
	for {
		chunk, err := rl.Next(r.Context())
		if err != nil {
			h.finishFilter(w, reqID, err, int64(size), time.Since(start), hash.Sum(nil))
			return
		}
		size += countWriter(len(chunk))
		if _, err := w.Write(chunk); err != nil {
			// Consumer gone: the dialogue is abandoned, no verdict.
			slog.Warn("filter consumer disconnected", "request_id", reqID, "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// finishFilter classifies the relay's terminal result and emits trailers.
func (h *Handler) finishFilter(w http.ResponseWriter, reqID string, err error, size int64, elapsed time.Duration, digest []byte) {
	durationMs := elapsed.Milliseconds()

	rec := scanstore.Record{
		Digest:     hex.EncodeToString(digest),
		SizeBytes:  size,
		DurationMs: durationMs,
		ScannedAt:  time.Now().UTC(),
	}

	var scanErr *relay.ScanError
	switch {
	case errors.Is(err, io.EOF):
		rec.Verdict = scanstore.VerdictClean
		w.Header().Set("X-Clamgate-Verdict", "clean")
	case errors.As(err, &scanErr):
		rec.Verdict = scanstore.VerdictInfected
		rec.Signature = scanErr.Response
		w.Header().Set("X-Clamgate-Verdict", "infected")
		w.Header().Set("X-Clamgate-Signature", scanErr.Response)
	default:
		slog.Error("filter scan failed", "error", err, "request_id", reqID)
		h.metrics.RecordScan("error", size, float64(durationMs))
		w.Header().Set("X-Clamgate-Verdict", "error")
		return
	}

	h.metrics.RecordScan(string(rec.Verdict), size, float64(durationMs))
	if err := h.store.Save(context.Background(), rec); err != nil {
		slog.Error("failed to persist scan record", "error", err, "digest", rec.Digest)
	}
}

// Health handles GET /clamgate/v1/health: PING and VERSION against clamd.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfg()

	client, err := clamd.New(cfg.Clamd.Address, cfg.Clamd.CommandTimeout)
	if err != nil {
		h.metrics.RecordHealth(false, 0)
		writeHealth(w, http.StatusServiceUnavailable, "unhealthy", clamd.Version{})
		return
	}

	if err := client.Ping(r.Context()); err != nil {
		slog.Warn("clamd ping failed", "error", err)
		h.metrics.RecordHealth(false, 0)
		writeHealth(w, http.StatusServiceUnavailable, "unhealthy", clamd.Version{})
		return
	}

	version, err := client.Version(r.Context())
	if err != nil {
		slog.Warn("clamd version failed", "error", err)
	}

	h.metrics.RecordHealth(true, version.SignatureDB)
	writeHealth(w, http.StatusOK, "healthy", version)
}

func (h *Handler) dialRelay(ctx context.Context, src relay.Source) (*relay.Relay, error) {
	cfg := h.cfg()

	network, addr, err := clamd.ParseAddress(cfg.Clamd.Address)
	if err != nil {
		return nil, err
	}

	dialCtx := ctx
	if cfg.Clamd.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.Clamd.DialTimeout)
		defer cancel()
	}

	switch network {
	case "unix":
		return relay.DialUnix(dialCtx, src, addr)
	default:
		return relay.DialTCP(dialCtx, src, addr)
	}
}

func writeVerdict(w http.ResponseWriter, status int, v VerdictResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type healthResponse struct {
	Status string       `json:"status"`
	Clamd  clamdDetails `json:"clamd"`
}

type clamdDetails struct {
	Up          bool   `json:"up"`
	Release     string `json:"release,omitempty"`
	SignatureDB int    `json:"signature_db,omitempty"`
	DBTime      string `json:"db_time,omitempty"`
}

func writeHealth(w http.ResponseWriter, status int, text string, v clamd.Version) {
	details := clamdDetails{Up: status == http.StatusOK, Release: v.Release, SignatureDB: v.SignatureDB}
	if !v.DBTime.IsZero() {
		details.DBTime = v.DBTime.Format(time.RFC3339)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(healthResponse{Status: text, Clamd: details})
}

// countWriter counts bytes written into it.
type countWriter int64

func (c *countWriter) Write(p []byte) (int, error) {
	*c += countWriter(len(p))
	return len(p), nil
}
