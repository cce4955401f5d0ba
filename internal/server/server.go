package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/armon/go-metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"reactive_kv_store/internal/keys"
	"reactive_kv_store/internal/memorymode"
	"reactive_kv_store/internal/reactive"
)

// WriteRequest carries any JSON value. Validation of Value is done by hand:
// the binding validator treats false and 0 as missing.
type WriteRequest struct {
	Value any `json:"value"`
}

type MergeRequest struct {
	Changes map[string]any `json:"changes" binding:"required"`
}

type MemoryOnlyRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type ReadResponse struct {
	Success bool   `json:"success"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CollectionResponse struct {
	Success bool           `json:"success"`
	Values  map[string]any `json:"values"`
}

type WriteResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type MemoryOnlyResponse struct {
	Success  bool     `json:"success"`
	Enabled  bool     `json:"enabled"`
	Patterns []string `json:"patterns"`
	Error    string   `json:"error,omitempty"`
}

type RestServer struct {
	engine *gin.Engine
	store  *reactive.Store
	mode   *memorymode.Controller
	sink   *metrics.InmemSink
	logger *zap.Logger

	mu       sync.Mutex
	http     *http.Server
	shutdown bool
}

func (server *RestServer) handleRead(ctx *gin.Context) {
	key := ctx.Param("key")

	value, ok := server.store.Get(key)
	if !ok {
		ctx.JSON(http.StatusNotFound, ReadResponse{
			Success: false,
			Error:   fmt.Sprintf("key not found: %s", key),
		})
		return
	}

	ctx.JSON(http.StatusOK, ReadResponse{
		Success: true,
		Value:   value,
	})
}

func (server *RestServer) handleWrite(ctx *gin.Context) {
	key := ctx.Param("key")

	var req WriteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, WriteResponse{
			Success: false,
			Error:   fmt.Sprintf("invalid request body: %v", err),
		})
		return
	}
	if req.Value == nil {
		ctx.JSON(http.StatusBadRequest, WriteResponse{
			Success: false,
			Error:   "value is required, use DELETE to remove a key",
		})
		return
	}

	if err := server.store.Set(key, req.Value); err != nil {
		server.writeError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, WriteResponse{
		Success: true,
	})
}

func (server *RestServer) handleMerge(ctx *gin.Context) {
	key := ctx.Param("key")

	var req MergeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, WriteResponse{
			Success: false,
			Error:   fmt.Sprintf("invalid request body: %v", err),
		})
		return
	}

	if err := server.store.Merge(key, req.Changes); err != nil {
		server.writeError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, WriteResponse{
		Success: true,
	})
}

func (server *RestServer) handleDelete(ctx *gin.Context) {
	key := ctx.Params.ByName("key")

	if _, ok := server.store.Get(key); !ok {
		ctx.JSON(http.StatusNotFound, WriteResponse{
			Success: false,
			Error:   fmt.Sprintf("key not found: %s", key),
		})
		return
	}

	if err := server.store.Remove(key); err != nil {
		server.writeError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, WriteResponse{
		Success: true,
	})
}

func (server *RestServer) handleCollection(ctx *gin.Context) {
	pattern := keys.Pattern(ctx.Param("pattern"))

	ctx.JSON(http.StatusOK, CollectionResponse{
		Success: true,
		Values:  server.store.GetCollection(pattern),
	})
}

func (server *RestServer) getMemoryOnly(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, MemoryOnlyResponse{
		Success:  true,
		Enabled:  server.mode.Enabled(),
		Patterns: server.mode.Patterns().Strings(),
	})
}

func (server *RestServer) putMemoryOnly(ctx *gin.Context) {
	var req MemoryOnlyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, MemoryOnlyResponse{
			Success: false,
			Error:   fmt.Sprintf("invalid request body: %v", err),
		})
		return
	}

	var err error
	if *req.Enabled {
		err = server.mode.Enable()
	} else {
		err = server.mode.Disable()
	}
	if err != nil {
		server.writeError(ctx, err)
		return
	}

	server.getMemoryOnly(ctx)
}

func (server *RestServer) getStats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, server.store.Stats())
}

func (server *RestServer) getMetrics(ctx *gin.Context) {
	if server.sink == nil {
		ctx.JSON(http.StatusNotFound, WriteResponse{Success: false, Error: "metrics are disabled"})
		return
	}

	summary, err := server.sink.DisplayMetrics(ctx.Writer, ctx.Request)
	if err != nil {
		server.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, summary)
}

func (server *RestServer) writeError(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, reactive.ErrEmptyKey):
		status = http.StatusBadRequest
	case errors.Is(err, reactive.ErrClosed):
		status = http.StatusServiceUnavailable
	}

	server.logger.Warn("Request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	ctx.JSON(status, WriteResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// NewRestServer wires the HTTP routes. sink may be nil.
func NewRestServer(store *reactive.Store, mode *memorymode.Controller, sink *metrics.InmemSink, logger *zap.Logger) *RestServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	server := &RestServer{
		engine: engine,
		store:  store,
		mode:   mode,
		sink:   sink,
		logger: logger,
	}

	server.engine.GET("/api/data/:key", server.handleRead)
	server.engine.PUT("/api/data/:key", server.handleWrite)
	server.engine.PATCH("/api/data/:key", server.handleMerge)
	server.engine.DELETE("/api/data/:key", server.handleDelete)
	server.engine.GET("/api/collection/:pattern", server.handleCollection)
	server.engine.GET("/api/memory-only", server.getMemoryOnly)
	server.engine.PUT("/api/memory-only", server.putMemoryOnly)
	server.engine.GET("/api/stats", server.getStats)
	server.engine.GET("/api/metrics", server.getMetrics)

	return server
}

func (server *RestServer) Handler() http.Handler {
	return server.engine
}

// Run serves on addr until Shutdown is called.
func (server *RestServer) Run(addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.engine,
	}
	server.mu.Lock()
	if server.shutdown {
		server.mu.Unlock()
		return nil
	}
	server.http = httpServer
	server.mu.Unlock()

	server.logger.Info("HTTP server listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (server *RestServer) Shutdown(ctx context.Context) error {
	server.mu.Lock()
	server.shutdown = true
	httpServer := server.http
	server.mu.Unlock()

	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}
