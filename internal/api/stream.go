package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/messaging"
	"github.com/zulandar/peerly/internal/realtime"
)

// Stream event names besides the messaging.Update events.
const (
	eventConnected = "connected"
	eventHeartbeat = "heartbeat"
	eventClosed    = "closed"
)

type connectedEvent struct {
	ViewID string `json:"view_id"`
}

type selectRequest struct {
	ConversationID string `json:"conversation_id"`
}

type inputRequest struct {
	Text string `json:"text"`
}

func newUpgrader(origins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimSuffix(o, "/")] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed[origin] {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		},
	}
}

// handleEvents opens a messaging view for the caller and streams its
// updates as server-sent events until the client goes away or the view
// is closed. The view ID in the connected event addresses the /views
// routes.
func (s *Server) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := s.registry.Open(ctx, userID(c))
	if err != nil {
		fail(c, s.log, err)
		return
	}
	defer s.registry.Close(sess.ID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	send := func(event string, data any) bool {
		if err := realtime.WriteSSE(c.Writer, event, data); err != nil {
			return false
		}
		c.Writer.Flush()
		return true
	}
	if !send(eventConnected, connectedEvent{ViewID: sess.ID}) {
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			send(eventClosed, gin.H{"view_id": sess.ID})
			return
		case <-heartbeat.C:
			if !send(eventHeartbeat, gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339)}) {
				return
			}
		case u := <-sess.Updates():
			if !send(u.Event, u.Data) {
				return
			}
		}
	}
}

// handleWebSocket is handleEvents over a WebSocket. Inbound frames are
// ignored; clients act on the view through the /views routes.
func (s *Server) handleWebSocket(c *gin.Context) {
	uid := userID(c)
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := realtime.NewConn(uid, ws)
	go conn.ReadLoop()

	// A hijacked request's context is not cancelled when the peer leaves.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	sess, err := s.registry.Open(ctx, uid)
	if err != nil {
		s.log.Error().Err(err).Msg("error opening view")
		conn.Close(websocket.CloseInternalServerErr, "view unavailable")
		return
	}
	defer s.registry.Close(sess.ID)

	if err := conn.Send(eventConnected, connectedEvent{ViewID: sess.ID}); err != nil {
		return
	}
	for {
		select {
		case <-conn.Done():
			return
		case <-sess.Done():
			_ = conn.Send(eventClosed, gin.H{"view_id": sess.ID})
			conn.Close(websocket.CloseNormalClosure, "view closed")
			return
		case u := <-sess.Updates():
			if err := conn.Send(u.Event, u.Data); err != nil {
				return
			}
		}
	}
}

func (s *Server) view(c *gin.Context) (*messaging.Session, bool) {
	sess, err := s.registry.Get(c.Param("id"), userID(c))
	if err != nil {
		fail(c, s.log, err)
		return nil, false
	}
	return sess, true
}

// handleSelect switches a view's feed to a conversation and returns the
// resulting snapshot. A failed history fetch still yields a ready, empty
// feed.
func (s *Server) handleSelect(c *gin.Context) {
	sess, ok := s.view(c)
	if !ok {
		return
	}
	var req selectRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, s.log, err)
		return
	}
	err := sess.Select(c.Request.Context(), req.ConversationID)
	switch {
	case err == nil:
	case errors.Is(err, messaging.ErrSuperseded):
		fail(c, s.log, apperr.New(apperr.ErrConflict, "selection superseded"))
		return
	case apperr.Status(err) != http.StatusInternalServerError:
		fail(c, s.log, err)
		return
	default:
		if sess.Feed.Snapshot().State != messaging.FeedReady {
			fail(c, s.log, err)
			return
		}
	}
	c.JSON(http.StatusOK, sess.Feed.Snapshot())
}

func (s *Server) handleInput(c *gin.Context) {
	sess, ok := s.view(c)
	if !ok {
		return
	}
	var req inputRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, s.log, err)
		return
	}
	sess.Composer.SetInput(req.Text)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleViewSend(c *gin.Context) {
	sess, ok := s.view(c)
	if !ok {
		return
	}
	var req sendRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, s.log, err)
		return
	}
	msg, err := sess.Send(c.Request.Context(), req.Content)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) handleCloseView(c *gin.Context) {
	sess, ok := s.view(c)
	if !ok {
		return
	}
	s.registry.Close(sess.ID)
	c.Status(http.StatusNoContent)
}
