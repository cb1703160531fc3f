package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/peerly/internal/auth"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) setSessionCookie(c *gin.Context, sess *auth.Session) {
	maxAge := int(time.Until(sess.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookie, sess.Token, maxAge, "/", "", s.secure, true)
}

func (s *Server) handleSignUp(c *gin.Context) {
	var in auth.SignUpInput
	if err := bindJSON(c, &in); err != nil {
		fail(c, s.log, err)
		return
	}
	sess, err := s.auth.SignUp(c.Request.Context(), in)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	s.setSessionCookie(c, sess)
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleSignIn(c *gin.Context) {
	var in signInRequest
	if err := bindJSON(c, &in); err != nil {
		fail(c, s.log, err)
		return
	}
	sess, err := s.auth.SignIn(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	s.setSessionCookie(c, sess)
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleSignOut(c *gin.Context) {
	if err := s.auth.SignOut(c.Request.Context(), auth.TokenFrom(c, s.cookie)); err != nil {
		fail(c, s.log, err)
		return
	}
	c.SetCookie(s.cookie, "", -1, "/", "", s.secure, true)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMe(c *gin.Context) {
	p, err := s.auth.Profile(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleUpdateMe(c *gin.Context) {
	var u auth.ProfileUpdate
	if err := bindJSON(c, &u); err != nil {
		fail(c, s.log, err)
		return
	}
	p, err := s.auth.UpdateProfile(c.Request.Context(), userID(c), u)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleDashboard(c *gin.Context) {
	d, err := s.market.Dashboard(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
