package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/garyjia/opsflow/pkg/utils"
)

// Identity headers set by the upstream gateway.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderCompanyID = "X-Company-ID"
)

const actorKey = "opsflow.actor"

// loggingMiddleware logs one line per request
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"actor_id", c.GetHeader(HeaderActorID),
		)
	}
}

// recoveryMiddleware turns a handler panic into a 500 envelope.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered interface{}) {
		s.logger.Error("Handler panicked", "path", c.Request.URL.Path, "panic", fmt.Sprint(recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
			Success: false,
			Code:    "INTERNAL",
			Error:   "internal error",
		})
	})
}

// actorMiddleware resolves the caller's roles and store from the directory.
// Roles are never taken from the request itself.
func (s *Server) actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.GetHeader(HeaderActorID)
		companyID := c.GetHeader(HeaderCompanyID)

		if err := utils.ValidateIdentifier(HeaderActorID, actorID); err != nil {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error())
			return
		}
		if err := utils.ValidateIdentifier(HeaderCompanyID, companyID); err != nil {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error())
			return
		}

		ctx := c.Request.Context()
		roles, err := s.deps.Directory.RolesOf(ctx, companyID, actorID)
		if err != nil {
			s.logger.Error("Failed to resolve actor roles", "actor_id", actorID, "company_id", companyID, "error", err)
			abort(c, http.StatusInternalServerError, "INTERNAL", "failed to resolve actor")
			return
		}
		storeID, err := s.deps.Directory.StoreOf(ctx, companyID, actorID)
		if err != nil {
			s.logger.Error("Failed to resolve actor store", "actor_id", actorID, "company_id", companyID, "error", err)
			abort(c, http.StatusInternalServerError, "INTERNAL", "failed to resolve actor")
			return
		}

		c.Set(actorKey, entity.Actor{
			ID:        actorID,
			CompanyID: companyID,
			StoreID:   storeID,
			Roles:     roles,
		})
		c.Next()
	}
}

// actorFrom returns the actor set by actorMiddleware.
func actorFrom(c *gin.Context) entity.Actor {
	v, _ := c.Get(actorKey)
	actor, _ := v.(entity.Actor)
	return actor
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, Response{Success: false, Code: code, Error: msg})
}
