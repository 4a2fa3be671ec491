// Package server exposes one cached resource to media players over HTTP
// byte-range requests.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/KarpelesLab/streamcache"
)

const contextKeyRequestID = "_streamcache_request_id"

// AppOptions configures the HTTP front of a coordinator.
type AppOptions struct {
	Logger      *logrus.Logger
	Coordinator *streamcache.Coordinator

	// MaxResponseBytes bounds the body of a single response; longer ranges
	// are answered partially and the player asks for the rest.
	MaxResponseBytes int64

	// InfoTimeout bounds how long a request waits for the content size.
	InfoTimeout time.Duration

	// BlockSize is used for /stats.
	BlockSize int64

	// MetricsPath serves Gatherer when both are set.
	MetricsPath string
	Gatherer    prometheus.Gatherer
}

type handler struct {
	log      *logrus.Logger
	coord    *streamcache.Coordinator
	maxBytes int64
	timeout  time.Duration
	blkSize  int64
}

// NewApp builds the fiber application serving the resource on / and its
// cache statistics on /stats.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	if opts.MaxResponseBytes <= 0 {
		return nil, fmt.Errorf("invalid max response size: %d", opts.MaxResponseBytes)
	}

	h := &handler{
		log:      opts.Logger,
		coord:    opts.Coordinator,
		maxBytes: opts.MaxResponseBytes,
		timeout:  opts.InfoTimeout,
		blkSize:  opts.BlockSize,
	}
	if h.timeout <= 0 {
		h.timeout = 30 * time.Second
	}
	if h.blkSize <= 0 {
		h.blkSize = 64 * 1024
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware)

	if opts.MetricsPath != "" && opts.Gatherer != nil {
		app.Get(opts.MetricsPath, adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	app.Get("/stats", h.stats)
	app.Head("/", h.serve)
	app.Get("/", h.serve)

	return app, nil
}

func requestIDMiddleware(c fiber.Ctx) error {
	reqID := uuid.NewString()
	c.Locals(contextKeyRequestID, reqID)
	c.Set("X-Request-ID", reqID)
	return c.Next()
}

// RequestID returns the identifier assigned to the request by the router.
func RequestID(c fiber.Ctx) string {
	if value, ok := c.Locals(contextKeyRequestID).(string); ok {
		return value
	}
	return ""
}

// contentInfo returns the resource metadata, probing the upstream with a one
// byte read when nothing is known yet.
func (h *handler) contentInfo(ctx context.Context) (streamcache.ContentInfo, error) {
	if info, ok := h.coord.ContentInfo(); ok {
		return info, nil
	}

	req, err := h.coord.Submit(0, 1)
	if err != nil {
		return streamcache.ContentInfo{}, err
	}
	defer req.Close()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	return req.Info(ctx)
}

func (h *handler) serve(c fiber.Ctx) error {
	started := time.Now()
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fields := logrus.Fields{
		"action":     "serve",
		"request_id": RequestID(c),
		"method":     c.Method(),
		"range":      c.Get(fiber.HeaderRange),
	}

	info, err := h.contentInfo(ctx)
	if err != nil {
		h.log.WithFields(fields).WithError(err).Warn("content info unavailable")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_unavailable"})
	}
	size := info.ContentLength

	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set(fiber.HeaderContentType, info.ContentType)

	rng, err := parseRange(c.Get(fiber.HeaderRange), size)
	switch {
	case errors.Is(err, errUnsatisfiable):
		c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes */%d", size))
		return c.SendStatus(fiber.StatusRequestedRangeNotSatisfiable)
	case err != nil:
		// malformed Range headers are ignored
		rng = nil
	}

	status := fiber.StatusPartialContent
	if rng == nil {
		rng = &httpRange{Start: 0, End: size - 1}
		status = fiber.StatusOK
	}
	if rng.length() > h.maxBytes {
		rng.End = rng.Start + h.maxBytes - 1
		status = fiber.StatusPartialContent
	}
	if status == fiber.StatusPartialContent {
		c.Set(fiber.HeaderContentRange, rng.contentRange(size))
	}
	fields["status"] = status
	fields["offset"] = rng.Start
	fields["length"] = rng.length()

	if c.Method() == http.MethodHead {
		c.Status(status)
		c.Response().Header.SetContentLength(int(rng.length()))
		h.log.WithFields(fields).Debug("head served")
		return nil
	}

	body, err := h.read(ctx, rng.Start, rng.length())
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		h.log.WithFields(fields).WithError(err).Warn("read failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}

	h.log.WithFields(fields).Info("range served")
	return c.Status(status).Send(body)
}

// read collects length bytes at off. The request is cancelled when ctx ends
// or when read returns.
func (h *handler) read(ctx context.Context, off, length int64) ([]byte, error) {
	req, err := h.coord.Submit(off, length)
	if err != nil {
		return nil, err
	}
	defer req.Close()

	go func() {
		select {
		case <-ctx.Done():
			req.Close()
		case <-req.Done():
		}
	}()

	buf := bytes.NewBuffer(make([]byte, 0, length))
	if _, err := req.WriteTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (h *handler) stats(c fiber.Ctx) error {
	st := h.coord.Store().Stats(h.blkSize)
	return c.JSON(fiber.Map{
		"content_length": st.ContentLength,
		"content_type":   st.ContentType,
		"cached_bytes":   st.CachedBytes,
		"ranges":         st.Ranges,
		"block_size":     st.BlockSize,
		"blocks":         st.Blocks,
		"total_blocks":   st.TotalBlocks,
		"complete":       st.Complete,
		"first_missing":  st.FirstMissing,
	})
}
