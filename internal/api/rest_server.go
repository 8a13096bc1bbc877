package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/atillabyte/World/internal/diff"
	"github.com/atillabyte/World/internal/eventbus"
	"github.com/atillabyte/World/internal/logging"
	"github.com/atillabyte/World/internal/middleware"
	"github.com/atillabyte/World/internal/protocol"
	"github.com/atillabyte/World/internal/storage"
	"github.com/atillabyte/World/internal/world"
)

const (
	defaultDiffLimit = 100
	recentSyncsLimit = 50
)

// RestServer - REST API для просмотра миров, предпросмотра разницы и итогов синхронизаций
type RestServer struct {
	router     *gin.Engine
	httpServer *http.Server
	store      storage.ObjectStore
	collection string
	metrics    *ServerMetrics

	mu     sync.Mutex
	recent []eventbus.SyncEvent
	sub    eventbus.Subscription
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port       string              // адрес, например ":8088"
	Store      storage.ObjectStore // хранилище документов миров
	Collection string              // коллекция миров; по умолчанию worlds
	Bus        eventbus.EventBus   // источник итогов синхронизаций (необязателен)
	Registry   *prometheus.Registry
}

// NewRestServer создаёт REST API сервер
func NewRestServer(config Config) (*RestServer, error) {
	if config.Store == nil {
		return nil, errors.New("api: store is required")
	}
	if config.Port == "" {
		config.Port = ":8088"
	}
	if config.Collection == "" {
		config.Collection = storage.DefaultCollection
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	// === Observability middleware ===
	router.Use(otelgin.Middleware("worldsync_api"))
	router.Use(middleware.NewRequestLogger("/health", "/metrics").Handler())

	httpMetrics, err := middleware.NewHTTPMetrics("worldsync_api", config.Registry, "/metrics", "/health")
	if err != nil {
		return nil, fmt.Errorf("api metrics: %w", err)
	}
	router.Use(httpMetrics.Handler())
	httpMetrics.RegisterMetricsEndpoint(router)

	rs := &RestServer{
		router:     router,
		store:      config.Store,
		collection: config.Collection,
		metrics:    NewServerMetrics(),
	}
	rs.httpServer = &http.Server{Addr: config.Port, Handler: router}

	if config.Bus != nil {
		sub, err := config.Bus.Subscribe(context.Background(), eventbus.Filter{
			Types: []string{eventbus.EventSyncCompleted, eventbus.EventSyncTimeout, eventbus.EventSyncFailed},
		}, rs.recordSync)
		if err != nil {
			return nil, fmt.Errorf("api subscribe: %w", err)
		}
		rs.sub = sub
	}

	rs.setupRoutes()
	return rs, nil
}

// Handler возвращает http.Handler (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler { return rs.router }

func (rs *RestServer) setupRoutes() {
	api := rs.router.Group("/api")
	{
		api.GET("/stats", rs.handleStats)
		api.GET("/worlds", rs.handleListWorlds)
		api.GET("/worlds/:id", rs.handleWorldSummary)
		api.GET("/worlds/:id/document", rs.handleWorldDocument)
		api.POST("/diff", rs.handleDiff)
		api.POST("/validate", rs.handleValidate)
		api.GET("/syncs", rs.handleRecentSyncs)
	}

	rs.router.GET("/health", rs.handleHealth)
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// WorldSummary - сведения о мире без тайлов
type WorldSummary struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Owner           string `json:"owner,omitempty"`
	Crew            string `json:"crew,omitempty"`
	Description     string `json:"description,omitempty"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Plays           int64  `json:"plays"`
	Likes           int64  `json:"likes"`
	Favorites       int64  `json:"favorites"`
	Visible         bool   `json:"visible"`
	BackgroundColor string `json:"background_color"`
	Tiles           int    `json:"tiles"`
	Positions       int    `json:"positions"`
}

// Summarize строит WorldSummary по снимку
func Summarize(id string, snap *world.Snapshot) WorldSummary {
	bg := snap.BackgroundColor()
	return WorldSummary{
		ID:              id,
		Name:            snap.Name(),
		Owner:           snap.Owner(),
		Crew:            snap.Crew(),
		Description:     snap.Description(),
		Width:           snap.Width(),
		Height:          snap.Height(),
		Plays:           snap.Plays(),
		Likes:           snap.Likes(),
		Favorites:       snap.Favorites(),
		Visible:         snap.Visible(),
		BackgroundColor: fmt.Sprintf("#%02x%02x%02x", bg.R, bg.G, bg.B),
		Tiles:           snap.Len(),
		Positions:       snap.PositionCount(),
	}
}

// DiffRequest - запрос предпросмотра разницы.
// Источник задаётся идентификатором или документом целиком.
type DiffRequest struct {
	SourceID string          `json:"source_id"`
	Source   json.RawMessage `json:"source,omitempty"`
	TargetID string          `json:"target_id" binding:"required"`
	Limit    int             `json:"limit"`
}

// DiffResponse - результат предпросмотра
type DiffResponse struct {
	Missing  int                `json:"missing"`
	Messages []protocol.Message `json:"messages"`
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	cpuPercent, _ := rs.metrics.GetCPUUsage()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"time":        time.Now().Unix(),
		"uptime":      rs.metrics.GetUptime(),
		"cpu_percent": fmt.Sprintf("%.2f", cpuPercent),
	})
}

func (rs *RestServer) handleStats(c *gin.Context) {
	stats := map[string]interface{}{
		"uptime":      rs.metrics.GetUptime(),
		"server_time": time.Now().Unix(),
		"memory":      rs.metrics.GetDetailedMemoryStats(),
	}
	if rss, err := rs.metrics.GetRSS(); err == nil {
		stats["rss_mb"] = fmt.Sprintf("%.2f", rss)
	}

	rs.mu.Lock()
	stats["recent_syncs"] = len(rs.recent)
	rs.mu.Unlock()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

func (rs *RestServer) handleListWorlds(c *gin.Context) {
	lister, ok := rs.store.(storage.ObjectLister)
	if !ok {
		c.JSON(http.StatusNotImplemented, GenericResponse{
			Success: false,
			Message: "Хранилище не поддерживает перечисление",
		})
		return
	}

	ids, err := lister.ListObjects(c.Request.Context(), rs.collection)
	if err != nil {
		rs.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список миров получен",
		Data:    gin.H{"worlds": ids, "total": len(ids)},
	})
}

func (rs *RestServer) handleWorldSummary(c *gin.Context) {
	id := c.Param("id")
	snap, ok := rs.loadWorld(c, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Мир загружен",
		Data:    Summarize(id, snap),
	})
}

func (rs *RestServer) handleWorldDocument(c *gin.Context) {
	snap, ok := rs.loadWorld(c, c.Param("id"))
	if !ok {
		return
	}
	data, err := snap.MarshalJSON()
	if err != nil {
		rs.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (rs *RestServer) handleDiff(c *gin.Context) {
	var req DiffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса: " + err.Error(),
		})
		return
	}

	var source *world.Snapshot
	switch {
	case len(req.Source) > 0 && string(req.Source) != "null":
		snap, err := world.ParseJSON(req.Source)
		if err != nil {
			rs.fail(c, http.StatusUnprocessableEntity, err)
			return
		}
		source = snap
	case req.SourceID != "":
		snap, ok := rs.loadWorld(c, req.SourceID)
		if !ok {
			return
		}
		source = snap
	default:
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Нужен source_id или source",
		})
		return
	}

	target, ok := rs.loadWorld(c, req.TargetID)
	if !ok {
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultDiffLimit
	}
	if q := c.Query("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	messages := diff.Diff(source, target)
	resp := DiffResponse{Missing: len(messages), Messages: messages}
	if len(resp.Messages) > limit {
		resp.Messages = resp.Messages[:limit]
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Разница вычислена",
		Data:    resp,
	})
}

// handleValidate проверяет документ мира из тела запроса по схеме
func (rs *RestServer) handleValidate(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		rs.fail(c, http.StatusBadRequest, err)
		return
	}

	violations, err := world.ValidateDocument(data)
	if err != nil {
		rs.fail(c, http.StatusBadRequest, err)
		return
	}
	if violations == nil {
		violations = []world.Violation{}
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: len(violations) == 0,
		Message: fmt.Sprintf("Нарушений: %d", len(violations)),
		Data:    gin.H{"violations": violations},
	})
}

func (rs *RestServer) handleRecentSyncs(c *gin.Context) {
	rs.mu.Lock()
	out := make([]eventbus.SyncEvent, len(rs.recent))
	copy(out, rs.recent)
	rs.mu.Unlock()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Последние синхронизации",
		Data:    gin.H{"syncs": out, "total": len(out)},
	})
}

// recordSync запоминает итог синхронизации из шины событий
func (rs *RestServer) recordSync(ctx context.Context, ev *eventbus.Envelope) {
	var payload eventbus.SyncEvent
	if err := ev.Decode(&payload); err != nil {
		logging.GetAPILogger().Warn("api: событие %s не разобрано: %v", ev.ID, err)
		return
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.recent = append(rs.recent, payload)
	if len(rs.recent) > recentSyncsLimit {
		rs.recent = rs.recent[len(rs.recent)-recentSyncsLimit:]
	}
}

// loadWorld загружает снимок и сам отвечает клиенту при ошибке
func (rs *RestServer) loadWorld(c *gin.Context, id string) (*world.Snapshot, bool) {
	snap, err := storage.LoadSnapshot(c.Request.Context(), rs.store, rs.collection, id)
	if err == nil {
		return snap, true
	}

	var de *world.DecodeError
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		rs.fail(c, http.StatusNotFound, err)
	case errors.As(err, &de):
		rs.fail(c, http.StatusUnprocessableEntity, err)
	default:
		rs.fail(c, http.StatusInternalServerError, err)
	}
	return nil, false
}

func (rs *RestServer) fail(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.JSON(status, GenericResponse{
		Success: false,
		Message: err.Error(),
	})
}

// Start запускает REST сервер (блокирующий вызов)
func (rs *RestServer) Start() error {
	logging.GetAPILogger().Info("🌐 REST API слушает %s", rs.httpServer.Addr)
	if err := rs.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop плавно останавливает сервер и отписывается от шины
func (rs *RestServer) Stop(ctx context.Context) error {
	if rs.sub != nil {
		rs.sub.Unsubscribe()
	}
	return rs.httpServer.Shutdown(ctx)
}
