package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"media-queue/internal/auth"
	"media-queue/internal/domain"
	"media-queue/internal/service"
	"media-queue/internal/storage"
)

// Scheduler is the part of the worker pool the API reports on and stops
// workers through.
type Scheduler interface {
	ActiveCount() int
	Cancel(ctx context.Context, id domain.JobID) error
}

type Options struct {
	Store     service.JobStore
	Scheduler Scheduler
	Storage   storage.Service
	Bucket    string
	DataRoot  string
	Auth      *auth.Authenticator
	Metrics   http.Handler
	Logger    *logrus.Logger
}

// Handler wires HTTP routes to the task store.
type Handler struct {
	store     service.JobStore
	query     *service.Query
	scheduler Scheduler
	storage   storage.Service
	bucket    string
	dataRoot  string
	auth      *auth.Authenticator
	metrics   http.Handler
	logger    *logrus.Logger
}

func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Auth == nil {
		opts.Auth, _ = auth.New(auth.Config{})
	}
	return &Handler{
		store:     opts.Store,
		query:     service.NewQuery(opts.Store),
		scheduler: opts.Scheduler,
		storage:   opts.Storage,
		bucket:    opts.Bucket,
		dataRoot:  opts.DataRoot,
		auth:      opts.Auth,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := router.Group("/api")
	api.GET("/health", h.health)
	api.POST("/auth/login", h.login)

	protected := api.Group("")
	protected.Use(h.auth.Middleware())
	{
		protected.POST("/jobs", h.createJob)
		protected.GET("/jobs", h.listJobs)
		protected.GET("/jobs/:id", h.getJob)
		protected.PATCH("/jobs/:id", h.patchJob)
		protected.DELETE("/jobs/:id", h.deleteJob)
		protected.POST("/jobs/:id/toggle", h.toggleJob)
		protected.POST("/jobs/:id/retry", h.retryJob)
		protected.GET("/stats", h.stats)
		protected.GET("/settings", h.getSettings)
		protected.PATCH("/settings", h.patchSettings)
		protected.GET("/history", h.listHistory)
		protected.POST("/history", h.addHistory)
		protected.GET("/favorites", h.listFavorites)
		protected.POST("/favorites", h.addFavorite)
		protected.DELETE("/favorites/:id", h.removeFavorite)
		protected.GET("/events", h.events)
		protected.GET("/storage/objects", h.listObjects)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *Handler) health(c *gin.Context) {
	resp := gin.H{"ok": true, "jobs": len(h.store.List())}
	if h.scheduler != nil {
		resp["activeWorkers"] = h.scheduler.ActiveCount()
	}
	c.JSON(http.StatusOK, resp)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	if !h.auth.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "authentication is disabled"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, expires, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": expires.UTC().Format(time.RFC3339)})
}

func (h *Handler) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.store.Add(c.Request.Context(), req.toSpec())
	if id == "" {
		writeError(c, err, nil)
		return
	}
	job, gerr := h.store.Get(id)
	if gerr != nil {
		writeError(c, gerr, nil)
		return
	}
	if err != nil {
		writeError(c, err, jobToResponse(job))
		return
	}
	c.JSON(http.StatusCreated, jobToResponse(job))
}

func (h *Handler) listJobs(c *gin.Context) {
	criteria, err := criteriaFromQuery(c)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	jobs := h.query.Filter(criteria)
	resp := make([]JobResponse, len(jobs))
	for i := range jobs {
		resp[i] = jobToResponse(jobs[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getJob(c *gin.Context) {
	job, err := h.store.Get(domain.JobID(c.Param("id")))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *Handler) patchJob(c *gin.Context) {
	var req patchJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	patch := req.toPatch()
	if patch.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty patch"})
		return
	}

	id := domain.JobID(c.Param("id"))
	err := h.store.Update(c.Request.Context(), id, patch)
	h.respondJob(c, id, err)
}

func (h *Handler) toggleJob(c *gin.Context) {
	id := domain.JobID(c.Param("id"))
	_, err := h.store.Toggle(c.Request.Context(), id)
	h.respondJob(c, id, err)
}

func (h *Handler) retryJob(c *gin.Context) {
	id := domain.JobID(c.Param("id"))
	err := h.store.Retry(c.Request.Context(), id)
	h.respondJob(c, id, err)
}

// respondJob writes the job after a mutation. A persistence failure still
// reports the committed record alongside the error.
func (h *Handler) respondJob(c *gin.Context, id domain.JobID, err error) {
	if err != nil && !errors.Is(err, domain.ErrPersistence) {
		writeError(c, err, nil)
		return
	}
	job, gerr := h.store.Get(id)
	if gerr != nil {
		writeError(c, gerr, nil)
		return
	}
	if err != nil {
		writeError(c, err, jobToResponse(job))
		return
	}
	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *Handler) deleteJob(c *gin.Context) {
	id := domain.JobID(c.Param("id"))

	deleteRemote, err := strconv.ParseBool(c.DefaultQuery("delete_remote", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag delete_remote"})
		return
	}
	deleteLocal, err := strconv.ParseBool(c.DefaultQuery("delete_local", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag delete_local"})
		return
	}

	job, err := h.store.Get(id)
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"deleted": id})
		return
	}

	var bucket, prefix string
	deleteRemote = deleteRemote && job.ArchiveLocation != ""
	if deleteRemote {
		if h.storage == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "storage service not configured"})
			return
		}
		var ok bool
		bucket, prefix, ok = storage.ParseLocation(job.ArchiveLocation)
		if !ok || prefix == "" || (h.bucket != "" && bucket != h.bucket) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unexpected archive location %s", job.ArchiveLocation)})
			return
		}
	}

	removeErr := h.store.Remove(c.Request.Context(), id)
	if removeErr != nil && !errors.Is(removeErr, domain.ErrPersistence) {
		writeError(c, removeErr, nil)
		return
	}

	var warnings []string
	workerStopped := true
	if h.scheduler != nil {
		cancelCtx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		if err := h.scheduler.Cancel(cancelCtx, id); err != nil {
			workerStopped = false
			warnings = append(warnings, fmt.Sprintf("stop worker: %v", err))
		}
		cancel()
	}

	if deleteRemote {
		remoteCtx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		if err := h.storage.DeletePrefix(remoteCtx, bucket, prefix); err != nil {
			warnings = append(warnings, fmt.Sprintf("delete remote data: %v", err))
		}
	}
	if deleteLocal {
		if workerStopped {
			warnings = append(warnings, h.cleanupLocalData(job)...)
		} else {
			warnings = append(warnings, "local data left in place while the worker is still running")
		}
	}

	resp := gin.H{"deleted": id}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	if removeErr != nil {
		writeError(c, removeErr, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// cleanupLocalData removes the job's download directory when it lives under
// the data root.
func (h *Handler) cleanupLocalData(job domain.Job) []string {
	if h.dataRoot == "" {
		return nil
	}
	root, err := filepath.Abs(h.dataRoot)
	if err != nil {
		return []string{fmt.Sprintf("resolve data root: %v", err)}
	}

	var warnings []string
	if job.LocalPath != "" {
		if abs, err := filepath.Abs(job.LocalPath); err == nil && !strings.HasPrefix(abs, root+string(os.PathSeparator)) {
			warnings = append(warnings, fmt.Sprintf("local path %s is outside the data root, left in place", job.LocalPath))
		}
	}
	if err := os.RemoveAll(filepath.Join(root, string(job.ID))); err != nil {
		warnings = append(warnings, fmt.Sprintf("cleanup local data: %v", err))
	}
	return warnings
}

func (h *Handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.query.Stats())
}

func (h *Handler) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, settingsToResponse(h.store.Settings()))
}

func (h *Handler) patchSettings(c *gin.Context) {
	var req patchSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	settings, err := h.store.UpdateSettings(c.Request.Context(), req.toPatch())
	if err != nil {
		writeError(c, err, settingsToResponse(settings))
		return
	}
	c.JSON(http.StatusOK, settingsToResponse(settings))
}

func (h *Handler) listHistory(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.SearchHistory())
}

type addHistoryRequest struct {
	Query string `json:"query"`
}

func (h *Handler) addHistory(c *gin.Context) {
	var req addHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.AddSearch(c.Request.Context(), req.Query); err != nil {
		writeError(c, err, h.store.SearchHistory())
		return
	}
	c.JSON(http.StatusOK, h.store.SearchHistory())
}

func (h *Handler) listFavorites(c *gin.Context) {
	c.JSON(http.StatusOK, favoritesToResponse(h.store.Favorites()))
}

func (h *Handler) addFavorite(c *gin.Context) {
	var req favoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.AddFavorite(c.Request.Context(), req.toFavorite()); err != nil {
		writeError(c, err, favoritesToResponse(h.store.Favorites()))
		return
	}
	c.JSON(http.StatusCreated, favoritesToResponse(h.store.Favorites()))
}

func (h *Handler) removeFavorite(c *gin.Context) {
	if err := h.store.RemoveFavorite(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, favoritesToResponse(h.store.Favorites()))
}

func (h *Handler) listObjects(c *gin.Context) {
	if h.storage == nil || h.bucket == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "storage service not configured"})
		return
	}

	objects, err := h.storage.ListObjects(c.Request.Context(), h.bucket, c.Query("prefix"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	resp := make([]ObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func criteriaFromQuery(c *gin.Context) (service.Criteria, error) {
	criteria := service.Criteria{
		Text:     c.Query("q"),
		Platform: c.Query("platform"),
		Kind:     domain.JobKind(c.Query("kind")),
	}
	if criteria.Kind != "" && !criteria.Kind.Valid() {
		return criteria, &domain.ValidationError{Field: "kind", Reason: "must be download or torrent"}
	}
	for _, raw := range c.QueryArray("status") {
		for _, part := range strings.Split(raw, ",") {
			status := domain.JobStatus(strings.TrimSpace(part))
			if status == "" {
				continue
			}
			if !status.Valid() {
				return criteria, &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
			}
			criteria.Statuses = append(criteria.Statuses, status)
		}
	}
	return criteria, nil
}

// writeError maps domain errors to HTTP status codes. committed, when set, is
// the state that was kept in memory despite a persistence failure.
func writeError(c *gin.Context, err error, committed any) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	}
	body := gin.H{"error": err.Error()}
	if committed != nil && errors.Is(err, domain.ErrPersistence) {
		body["result"] = committed
	}
	c.JSON(status, body)
}
