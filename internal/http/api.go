package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gymdesk/internal/backup"
	"gymdesk/internal/domain"
	"gymdesk/internal/service"
	"gymdesk/internal/session"
	"gymdesk/internal/storage"
)

const tokenKey = "session_token"

// Handler wires HTTP routes to domain services.
type Handler struct {
	auth       service.AuthService
	principals service.PrincipalService
	backups    service.BackupService
	manager    backup.Manager
	storage    storage.Service
	logger     logrus.FieldLogger
}

// NewHandler builds the API handler. store may be nil when backups stay local.
func NewHandler(
	auth service.AuthService,
	principals service.PrincipalService,
	backups service.BackupService,
	manager backup.Manager,
	store storage.Service,
	logger logrus.FieldLogger,
) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		auth:       auth,
		principals: principals,
		backups:    backups,
		manager:    manager,
		storage:    store,
		logger:     logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware(), h.requestLogger())

	api := router.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, envelope{Success: true})
		})

		api.POST("/auth/login", h.login)
		api.POST("/auth/verify", h.verify)

		authed := api.Group("", h.requireSession())
		authed.GET("/auth/me", h.me)
		authed.POST("/auth/logout", h.logout)
		authed.POST("/auth/change-password", h.changePassword)

		admin := api.Group("", h.requireSession(domain.RoleAdmin))
		admin.GET("/principals", h.listPrincipals)
		admin.POST("/principals", h.createPrincipal)
		admin.GET("/principals/:id", h.getPrincipal)
		admin.PATCH("/principals/:id/status", h.setPrincipalStatus)
		admin.GET("/backups", h.listBackups)
		admin.POST("/backups", h.createBackup)
		admin.GET("/backups/remote", h.listRemoteBackups)
		admin.GET("/backups/:id", h.getBackup)
		admin.POST("/backups/:id/retry", h.retryBackup)
		admin.GET("/backups/:id/download", h.downloadBackup)
	}
}

// envelope is the single response shape of the API; the UI shows Message verbatim.
type envelope struct {
	Success   bool            `json:"success"`
	Token     string          `json:"token,omitempty"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Principal *domain.Profile `json:"principal,omitempty"`
	Claims    *domain.Claims  `json:"claims,omitempty"`
	Data      any             `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type changePasswordRequest struct {
	PrincipalID int64  `json:"principal_id"`
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type createPrincipalRequest struct {
	Username string      `json:"username"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
	Email    string      `json:"email"`
	FullName string      `json:"full_name"`
}

type statusRequest struct {
	Status domain.PrincipalStatus `json:"status"`
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

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}

// requireSession verifies the bearer token and, when roles are given, that the
// caller holds one of them.
func (h *Handler) requireSession(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			h.fail(c, domain.ErrInvalidToken, "")
			return
		}

		claims, err := h.auth.Verify(c.Request.Context(), token)
		if err != nil {
			h.fail(c, err, "")
			return
		}

		ctx := session.NewContext(c.Request.Context(), claims)
		if len(roles) > 0 && !session.HasRole(ctx, roles...) {
			h.fail(c, domain.ErrForbidden, "")
			return
		}

		c.Request = c.Request.WithContext(ctx)
		c.Set(tokenKey, token)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, domain.ErrBadRequest, "")
		return
	}

	sess, err := h.auth.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(c, err, "")
		return
	}

	c.JSON(http.StatusOK, envelope{
		Success:   true,
		Token:     sess.Token,
		ExpiresAt: &sess.ExpiresAt,
		Principal: &sess.Principal,
	})
}

func (h *Handler) verify(c *gin.Context) {
	var req verifyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, domain.ErrBadRequest, "")
			return
		}
	}
	token := req.Token
	if token == "" {
		token, _ = bearerToken(c.GetHeader("Authorization"))
	}

	claims, err := h.auth.Verify(c.Request.Context(), token)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Claims: claims, ExpiresAt: &claims.ExpiresAt})
}

func (h *Handler) me(c *gin.Context) {
	claims, _ := session.FromContext(c.Request.Context())
	profile, err := h.principals.Get(c.Request.Context(), claims.ID)
	if err != nil {
		h.fail(c, err, "User not found")
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Principal: profile})
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context(), c.GetString(tokenKey)); err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true})
}

func (h *Handler) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, domain.ErrBadRequest, "")
		return
	}

	claims, _ := session.FromContext(c.Request.Context())
	target := req.PrincipalID
	if target == 0 {
		target = claims.ID
	}
	if target != claims.ID && claims.Role != domain.RoleAdmin {
		h.fail(c, domain.ErrForbidden, "")
		return
	}

	if err := h.auth.ChangePassword(c.Request.Context(), target, req.OldPassword, req.NewPassword); err != nil {
		h.fail(c, err, "User not found")
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Message: "Password changed successfully"})
}

func (h *Handler) listPrincipals(c *gin.Context) {
	profiles, err := h.principals.List(c.Request.Context(), domain.Role(c.Query("role")))
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Data: profiles})
}

func (h *Handler) createPrincipal(c *gin.Context) {
	var req createPrincipalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, domain.ErrBadRequest, "")
		return
	}

	profile, err := h.principals.Create(c.Request.Context(), service.NewPrincipal{
		Username: req.Username,
		Password: req.Password,
		Role:     req.Role,
		Email:    req.Email,
		FullName: req.FullName,
	})
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusCreated, envelope{Success: true, Principal: profile})
}

func (h *Handler) getPrincipal(c *gin.Context) {
	id, ok := h.pathID(c, "invalid user id")
	if !ok {
		return
	}
	profile, err := h.principals.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "User not found")
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Principal: profile})
}

func (h *Handler) setPrincipalStatus(c *gin.Context) {
	id, ok := h.pathID(c, "invalid user id")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, domain.ErrBadRequest, "")
		return
	}
	if err := h.principals.SetStatus(c.Request.Context(), id, req.Status); err != nil {
		h.fail(c, err, "User not found")
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true})
}

func (h *Handler) listBackups(c *gin.Context) {
	backups, err := h.backups.ListBackups(c.Request.Context())
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Data: backups})
}

func (h *Handler) createBackup(c *gin.Context) {
	created, err := h.manager.Trigger(c.Request.Context())
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusAccepted, envelope{Success: true, Data: created})
}

func (h *Handler) listRemoteBackups(c *gin.Context) {
	objects, err := h.manager.Remote(c.Request.Context())
	if err != nil {
		h.fail(c, err, "")
		return
	}
	if objects == nil {
		objects = []storage.ObjectInfo{}
	}
	c.JSON(http.StatusOK, envelope{Success: true, Data: objects})
}

func (h *Handler) retryBackup(c *gin.Context) {
	id, ok := h.pathID(c, "invalid backup id")
	if !ok {
		return
	}
	if err := h.manager.Enqueue(c.Request.Context(), id); err != nil {
		h.fail(c, err, "Backup not found")
		return
	}
	c.JSON(http.StatusAccepted, envelope{Success: true})
}

func (h *Handler) getBackup(c *gin.Context) {
	id, ok := h.pathID(c, "invalid backup id")
	if !ok {
		return
	}
	found, err := h.backups.GetBackup(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Backup not found")
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Data: found})
}

func (h *Handler) downloadBackup(c *gin.Context) {
	id, ok := h.pathID(c, "invalid backup id")
	if !ok {
		return
	}
	found, err := h.backups.GetBackup(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Backup not found")
		return
	}
	if found.Status != domain.BackupStatusCompleted {
		h.fail(c, domain.ErrBadRequest, "backup is not completed")
		return
	}
	if h.storage == nil || !strings.HasPrefix(found.Location, "s3://") {
		c.JSON(http.StatusOK, envelope{Success: true, Data: gin.H{"path": found.Location}})
		return
	}

	bucket, key, err := storage.ParseLocation(found.Location)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	url, err := h.storage.GetObjectURL(c.Request.Context(), bucket, key, 15*time.Minute)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, envelope{Success: true, Data: gin.H{"url": url}})
}

func (h *Handler) pathID(c *gin.Context, msg string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(c, domain.ErrBadRequest, msg)
		return 0, false
	}
	return id, true
}

// fail maps err to a status and message and aborts the request. detail, when set,
// replaces the default message for not-found and bad-request errors.
func (h *Handler) fail(c *gin.Context, err error, detail string) {
	status, message := http.StatusInternalServerError, err.Error()

	var storageErr *service.StorageError
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		status, message = http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, domain.ErrInvalidToken):
		status, message = http.StatusUnauthorized, "Invalid or expired token"
	case errors.Is(err, domain.ErrForbidden):
		status, message = http.StatusForbidden, "Forbidden"
	case errors.Is(err, domain.ErrNotFound):
		status, message = http.StatusNotFound, "Not found"
		if detail != "" {
			message = detail
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		status, message = http.StatusConflict, "User already exists"
	case errors.Is(err, domain.ErrBadRequest):
		status = http.StatusBadRequest
		switch {
		case err != domain.ErrBadRequest:
			message = strings.TrimPrefix(err.Error(), domain.ErrBadRequest.Error()+": ")
		case detail != "":
			message = detail
		default:
			message = "Invalid request"
		}
	case errors.As(err, &storageErr):
		h.logger.WithError(err).Error("storage failure")
	default:
		h.logger.WithError(err).Error("request failed")
	}

	c.AbortWithStatusJSON(status, envelope{Success: false, Message: message})
}
