package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/messaging"
	"github.com/zulandar/peerly/internal/moderation"
)

type startConversationRequest struct {
	ListingID string `json:"listing_id"`
}

type sendRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleConversations(c *gin.Context) {
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	entries, err := messaging.Conversations(c.Request.Context(), s.messages, userID(c), limit)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleStartConversation(c *gin.Context) {
	var req startConversationRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, s.log, err)
		return
	}
	conv, err := s.messages.StartConversation(c.Request.Context(), req.ListingID, userID(c))
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleThread(c *gin.Context) {
	limit, err := intQuery(c, "limit", s.history)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	msgs, err := messaging.Thread(c.Request.Context(), s.messages, c.Param("id"), userID(c), limit)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, s.log, err)
		return
	}
	ctx := c.Request.Context()
	convID, uid := c.Param("id"), userID(c)
	conv, err := s.messages.Conversation(ctx, convID)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	if !conv.HasParticipant(uid) {
		fail(c, s.log, apperr.Forbidden("not a participant in this conversation"))
		return
	}
	msg, err := messaging.Send(ctx, s.messages, s.log, convID, uid, req.Content)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) handleMarkRead(c *gin.Context) {
	n, err := messaging.MarkConversationRead(c.Request.Context(), s.messages, c.Param("id"), userID(c), s.history)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

func (s *Server) handleUnread(c *gin.Context) {
	n, err := messaging.UnreadCount(c.Request.Context(), s.messages.DB(), userID(c))
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, messaging.UnreadData{Count: int(n)})
}

func (s *Server) handleReport(c *gin.Context) {
	var in moderation.ReportInput
	if err := bindJSON(c, &in); err != nil {
		fail(c, s.log, err)
		return
	}
	r, err := s.reports.Submit(c.Request.Context(), userID(c), in)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}
