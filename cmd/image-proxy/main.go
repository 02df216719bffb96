package main

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-image-proxy/internal/cache"
	"github.com/tendant/simple-image-proxy/internal/handlers"
	"github.com/tendant/simple-image-proxy/internal/magick"
	"github.com/tendant/simple-image-proxy/internal/metrics"
	"github.com/tendant/simple-image-proxy/internal/transform"
)

type config struct {
	Addr           string
	SourceDir      string
	ImageDir       string
	FontDir        string
	CacheDir       string
	CacheBackend   string // disk | memory | none
	CacheMemBytes  int64
	ConvertPath    string
	CurlPath       string
	DitherColormap string
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func loadConfig() config {
	memBytes := int64(256 << 20)
	if v := os.Getenv("IMAGE_PROXY_CACHE_MEM_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			memBytes = n
		}
	}
	return config{
		Addr:           envOr("IMAGE_PROXY_ADDR", ":8888"),
		SourceDir:      envOr("IMAGE_PROXY_SOURCE_DIR", "./images"),
		ImageDir:       os.Getenv("IMAGE_PROXY_IMAGE_DIR"),
		FontDir:        os.Getenv("IMAGE_PROXY_FONT_DIR"),
		CacheDir:       envOr("IMAGE_PROXY_CACHE_DIR", "./cache-data"),
		CacheBackend:   envOr("IMAGE_PROXY_CACHE_BACKEND", "disk"),
		CacheMemBytes:  memBytes,
		ConvertPath:    envOr("IMAGE_PROXY_CONVERT_PATH", "convert"),
		CurlPath:       envOr("IMAGE_PROXY_CURL_PATH", "curl"),
		DitherColormap: envOr("IMAGE_PROXY_DITHER_COLORMAP", "gs5bit.png"),
	}
}

func buildStore(cfg config, logger *slog.Logger) (cache.Store, error) {
	switch cfg.CacheBackend {
	case "disk":
		return cache.NewDisk(cfg.CacheDir, logger)
	case "memory":
		return cache.NewMemory(cfg.CacheMemBytes)
	case "none":
		return cache.Noop{}, nil
	}
	return nil, fmt.Errorf("unknown cache backend: %s", cfg.CacheBackend)
}

// localSource maps /images/* to files under the source directory, refusing
// paths that escape it.
func localSource(sourceDir string) handlers.SourceFunc {
	root, _ := filepath.Abs(sourceDir)
	return func(r *http.Request) (string, error) {
		rel := path.Clean("/" + chi.URLParam(r, "*"))
		full := filepath.Join(root, filepath.FromSlash(rel))
		if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
			return "", fmt.Errorf("source path escapes image directory")
		}
		return full, nil
	}
}

// remoteSource serves /remote?src=<url> for http(s) sources only.
func remoteSource() handlers.SourceFunc {
	return func(r *http.Request) (string, error) {
		src := r.URL.Query().Get("src")
		if !magick.IsRemote(src) {
			return "", fmt.Errorf("src must be an absolute http(s) URL")
		}
		return src, nil
	}
}

// remoteIdentifier folds the source URL into the cache key. All remote
// requests share the /remote path, so without this two different sources
// with equal transform parameters would collide on one cache entry.
func remoteIdentifier(r *http.Request) string {
	sum := md5.Sum([]byte(r.URL.Query().Get("src")))
	return hex.EncodeToString(sum[:])
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()
	logger.Info("image proxy starting",
		"addr", cfg.Addr,
		"source_dir", cfg.SourceDir,
		"cache_backend", cfg.CacheBackend,
		"cache_dir", cfg.CacheDir,
		"convert_path", cfg.ConvertPath)

	store, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	converter := &magick.Converter{
		ConvertPath: cfg.ConvertPath,
		CurlPath:    cfg.CurlPath,
		Logger:      logger,
	}
	opts := transform.Options{
		ImageDir:       cfg.ImageDir,
		FontDir:        cfg.FontDir,
		Styles:         transform.NoStyles{},
		DitherColormap: cfg.DitherColormap,
		Logger:         logger,
	}

	local := &handlers.ImageHandler{
		Source:    localSource(cfg.SourceDir),
		Converter: converter,
		Cache:     store,
		Options:   opts,
		Metrics:   m,
		Logger:    logger,
	}
	remote := &handlers.ImageHandler{
		Source:     remoteSource(),
		Converter:  converter,
		Cache:      store,
		Options:    opts,
		Identifier: remoteIdentifier,
		Metrics:    m,
		Logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/images/*", local.ServeHTTP)
	r.Get("/remote", remote.ServeHTTP)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	go func() {
		logger.Info("image proxy ready", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
