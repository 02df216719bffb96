// Package handlers wires HTTP requests to the transform pipeline and cache.
package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/tendant/simple-image-proxy/internal/cache"
	"github.com/tendant/simple-image-proxy/internal/magick"
	"github.com/tendant/simple-image-proxy/internal/metrics"
	"github.com/tendant/simple-image-proxy/internal/transform"
)

// SourceFunc maps a request to the conversion source: a local file path or
// an absolute http(s) URL. Returning an error yields a 404.
type SourceFunc func(r *http.Request) (string, error)

// ImageHandler serves transformed images. Per request it parses the
// transform parameters, builds the filter chain, derives the cache key and
// either serves the cached entry or runs the conversion pipeline, teeing
// the stream into the cache while relaying it to the client.
type ImageHandler struct {
	Source    SourceFunc
	Converter *magick.Converter
	Cache     cache.Store
	Options   transform.Options

	// Identifier optionally contributes a caller-supplied identifier to
	// the cache key.
	Identifier func(r *http.Request) string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (h *ImageHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *ImageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger().With("uri", r.URL.RequestURI())

	params, err := transform.ParseQuery(r.URL.Query())
	if err != nil {
		logger.Error("rejected transform parameters", "error", err)
		http.Error(w, "Invalid transform parameters", http.StatusInternalServerError)
		return
	}
	chain := transform.Build(params, h.Options)

	source, err := h.Source(r)
	if err != nil || source == "" {
		http.NotFound(w, r)
		return
	}

	// A missing local source is a client error, not a pipeline failure.
	if !magick.IsRemote(source) {
		info, err := os.Stat(source)
		if err != nil || !info.Mode().IsRegular() {
			http.NotFound(w, r)
			return
		}
	}

	identifier := ""
	if h.Identifier != nil {
		identifier = h.Identifier(r)
	}
	key := cache.Key(r.URL.Path, chain, identifier)

	if h.Cache.Probe(key) {
		if h.serveCached(w, key, chain, logger) {
			return
		}
		// A probe/open race degrades to the miss path.
	}
	if h.Metrics != nil {
		h.Metrics.CacheMisses.Inc()
	}

	writer, err := h.Cache.Begin(key)
	if err != nil {
		// A cache failure never fails the request, only forgoes caching.
		logger.Warn("cache write unavailable", "key", key, "error", err)
		writer = nil
	}

	w.Header().Set("Content-Type", chain.MimeType())

	sink := &relaySink{w: w, cache: writer, logger: logger}
	start := time.Now()
	h.Converter.Convert(r.Context(), source, chain, sink)
	if h.Metrics != nil {
		h.Metrics.ConversionDuration.Observe(time.Since(start).Seconds())
		status := "ok"
		if sink.failed {
			status = "error"
		}
		h.Metrics.Conversions.WithLabelValues(status).Inc()
	}
}

// serveCached streams a cached entry. Returns false if the entry could not
// be opened after all, in which case the caller falls back to converting.
func (h *ImageHandler) serveCached(w http.ResponseWriter, key string, chain *magick.Chain, logger *slog.Logger) bool {
	rc, size, err := h.Cache.Open(key)
	if err != nil {
		logger.Warn("cache hit vanished before read", "key", key, "error", err)
		return false
	}
	defer rc.Close()

	if h.Metrics != nil {
		h.Metrics.CacheHits.Inc()
	}
	w.Header().Set("Content-Type", chain.MimeType())
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		logger.Warn("failed to relay cached entry", "key", key, "error", err)
	}
	return true
}

// relaySink relays conversion output to the HTTP response while teeing it
// into the cache writer (when one is open). Cache write errors downgrade the
// request to relay-only; response write errors likewise never abort the
// pipeline, which finishes and cleans up on its own.
type relaySink struct {
	w      http.ResponseWriter
	cache  cache.EntryWriter
	logger *slog.Logger

	wrote  int64
	failed bool
}

func (s *relaySink) Chunk(p []byte) {
	if _, err := s.w.Write(p); err != nil {
		s.logger.Warn("failed to relay chunk", "error", err)
	} else if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	s.wrote += int64(len(p))

	if s.cache != nil {
		if _, err := s.cache.Write(p); err != nil {
			s.logger.Warn("cache write failed, disabling caching for request", "error", err)
			s.cache.Discard()
			s.cache = nil
		}
	}
}

func (s *relaySink) Complete() {
	if s.cache != nil {
		if err := s.cache.Finalize(); err != nil {
			s.logger.Warn("failed to finalize cache entry", "error", err)
		}
		s.cache = nil
	}
}

func (s *relaySink) Error(err error) {
	s.failed = true
	if s.cache != nil {
		s.cache.Discard()
		s.cache = nil
	}
	s.logger.Error("conversion failed", "error", err)
	if s.wrote == 0 {
		http.Error(s.w, "Conversion failed", http.StatusInternalServerError)
	}
	// With bytes already on the wire the response is a truncated stream;
	// there is nothing more to signal in-band.
}
