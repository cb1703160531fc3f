package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/auth"
)

// registerRoutes sets up all API routes on the gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if s.uploads != nil {
		router.GET("/uploads/*key", s.handleUpload)
	}

	api := router.Group("/api")

	// Public.
	api.GET("/categories", s.handleCategories)
	api.GET("/colleges", s.handleColleges)
	api.GET("/listings", s.handleBrowse)
	api.GET("/listings/recent", s.handleRecent)
	api.GET("/listings/:id", s.handleListing)

	guest := api.Group("/auth", auth.RejectSession(s.auth, s.cookie))
	guest.POST("/signup", s.handleSignUp)
	guest.POST("/signin", s.handleSignIn)
	api.POST("/auth/signout", s.handleSignOut)

	// Signed in.
	me := api.Group("", auth.RequireSession(s.auth, s.cookie))
	me.GET("/me", s.handleMe)
	me.PATCH("/me", s.handleUpdateMe)
	me.GET("/me/listings", s.handleMyListings)
	me.GET("/me/saved", s.handleSaved)
	me.GET("/me/dashboard", s.handleDashboard)

	me.POST("/listings", s.handleCreateListing)
	me.PATCH("/listings/:id", s.handleUpdateListing)
	me.DELETE("/listings/:id", s.handleDeleteListing)
	me.GET("/listings/:id/saved", s.handleIsSaved)
	me.PUT("/listings/:id/saved", s.handleSave)
	me.DELETE("/listings/:id/saved", s.handleUnsave)

	me.GET("/conversations", s.handleConversations)
	me.POST("/conversations", s.handleStartConversation)
	me.GET("/conversations/:id/messages", s.handleThread)
	me.POST("/conversations/:id/messages", s.handleSendMessage)
	me.POST("/conversations/:id/read", s.handleMarkRead)
	me.GET("/unread", s.handleUnread)

	me.POST("/reports", s.handleReport)

	me.GET("/events", s.handleEvents)
	me.GET("/ws", s.handleWebSocket)
	me.PUT("/views/:id/selection", s.handleSelect)
	me.PUT("/views/:id/input", s.handleInput)
	me.POST("/views/:id/messages", s.handleViewSend)
	me.DELETE("/views/:id", s.handleCloseView)
}

// userID returns the caller set by auth.RequireSession.
func userID(c *gin.Context) string {
	if id := auth.IdentityFrom(c); id != nil {
		return id.UserID
	}
	return ""
}

// intQuery parses an optional non-negative integer query parameter.
func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Invalid(name + " must be a non-negative integer")
	}
	return n, nil
}

func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return apperr.Invalid("invalid request body")
	}
	return nil
}
