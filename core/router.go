package core

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

// StatusFunc produces the operator status snapshot.
type StatusFunc func(ctx context.Context) SystemStatus

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, store sessions.Store, svc *ProvisioningService, stashes CodeStashFactory, status StatusFunc, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.Default()

	// Global middleware: origin/CORS -> session -> CSRF
	r.Use(OriginRefererMiddleware(cfg))
	r.Use(SessionMiddleware(cfg, store))
	r.Use(CSRFMiddleware(cfg))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/api/v1")
	api.Use(TrustedIdentity(cfg, logger))
	{
		api.GET("/system/status", func(c *gin.Context) {
			if status == nil {
				respondError(c, http.StatusNotFound, "NOT_FOUND", "status not available")
				return
			}
			c.JSON(http.StatusOK, status(c.Request.Context()))
		})

		accounts := api.Group("/accounts")

		accounts.GET("", func(c *gin.Context) {
			items, err := svc.ListAccounts(c.Request.Context())
			if err != nil {
				respondServiceError(c, logger, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"items": items, "total_items": len(items)})
		})

		accounts.POST("", func(c *gin.Context) {
			actor, ok := ActorFrom(c)
			if !ok {
				respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authenticated identity required")
				return
			}
			var req struct {
				Username   string `json:"username"`
				Expiration string `json:"expiration"`
				Note       string `json:"note"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
				return
			}
			stash, ok := stashFor(c, stashes, logger)
			if !ok {
				return
			}
			created, err := svc.CreateAccount(c.Request.Context(), stash, actor, CreateAccountInput{
				Username:   req.Username,
				Expiration: req.Expiration,
				Note:       req.Note,
			})
			if err != nil {
				respondServiceError(c, logger, err)
				return
			}
			c.JSON(http.StatusCreated, gin.H{
				"account":  created,
				"code_url": codeURL(created.Username),
			})
		})

		accounts.GET("/:username", func(c *gin.Context) {
			limit, err := parseAuditLimit(c.Query("limit"))
			if err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
				return
			}
			view, err := svc.AccountDetail(c.Request.Context(), c.Param("username"), limit)
			if err != nil {
				respondServiceError(c, logger, err)
				return
			}
			c.JSON(http.StatusOK, view)
		})

		// The code is handed out once; afterwards this returns 404.
		accounts.GET("/:username/code", func(c *gin.Context) {
			stash, ok := stashFor(c, stashes, logger)
			if !ok {
				return
			}
			username := c.Param("username")
			code, err := svc.RevealCode(c.Request.Context(), stash, username)
			if err != nil {
				respondServiceError(c, logger, err)
				return
			}
			c.Header("Cache-Control", "no-store")
			c.JSON(http.StatusOK, gin.H{"username": strings.TrimSpace(username), "code": code})
		})

		accounts.PUT("/:username/password", func(c *gin.Context) {
			actor, ok := ActorFrom(c)
			if !ok {
				respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authenticated identity required")
				return
			}
			var req struct {
				Password string `json:"password"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
				return
			}
			stash, ok := stashFor(c, stashes, logger)
			if !ok {
				return
			}
			username := strings.TrimSpace(c.Param("username"))
			generated, err := svc.SetPassword(c.Request.Context(), stash, actor, username, req.Password)
			if err != nil {
				respondServiceError(c, logger, err)
				return
			}
			resp := gin.H{"username": username, "generated": generated}
			if generated {
				resp["code_url"] = codeURL(username)
			}
			c.JSON(http.StatusOK, resp)
		})

		accounts.PUT("/:username/expiration", func(c *gin.Context) {
			actor, ok := ActorFrom(c)
			if !ok {
				respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authenticated identity required")
				return
			}
			var req struct {
				Expiration string `json:"expiration"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
				return
			}
			username := strings.TrimSpace(c.Param("username"))
			value, err := svc.SetExpiration(c.Request.Context(), actor, username, req.Expiration)
			if err != nil {
				respondServiceError(c, logger, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"username": username, "expiration": value})
		})

		accounts.DELETE("/:username/expiration", func(c *gin.Context) {
			actor, ok := ActorFrom(c)
			if !ok {
				respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authenticated identity required")
				return
			}
			if err := svc.ClearExpiration(c.Request.Context(), actor, c.Param("username")); err != nil {
				respondServiceError(c, logger, err)
				return
			}
			c.Status(http.StatusNoContent)
		})

		accounts.DELETE("/:username", func(c *gin.Context) {
			actor, ok := ActorFrom(c)
			if !ok {
				respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authenticated identity required")
				return
			}
			if err := svc.DeleteAccount(c.Request.Context(), actor, c.Param("username")); err != nil {
				respondServiceError(c, logger, err)
				return
			}
			c.Status(http.StatusNoContent)
		})
	}

	return r
}

func stashFor(c *gin.Context, stashes CodeStashFactory, logger *slog.Logger) (CodeStash, bool) {
	stash, err := stashes(c)
	if err != nil {
		logger.ErrorContext(c.Request.Context(), "code stash unavailable", "error", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "session error")
		return nil, false
	}
	return stash, true
}

func codeURL(username string) string {
	return "/api/v1/accounts/" + url.PathEscape(username) + "/code"
}

func parseAuditLimit(v string) (int, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errBadLimit
	}
	return min(n, MaxAuditLimit), nil
}

var errBadLimit = invalid("limit", "must be a positive integer")
