package api

import (
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/marketplace"
)

// maxUploadMemory bounds the in-memory part of a multipart listing form.
const maxUploadMemory = 32 << 20

func (s *Server) handleCategories(c *gin.Context) {
	cats, err := s.market.Categories(c.Request.Context())
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, cats)
}

func (s *Server) handleColleges(c *gin.Context) {
	cols, err := s.market.Colleges(c.Request.Context())
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, cols)
}

func (s *Server) handleBrowse(c *gin.Context) {
	var f marketplace.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		fail(c, s.log, apperr.Invalid("invalid filter"))
		return
	}
	page, err := s.market.Browse(c.Request.Context(), f)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleRecent(c *gin.Context) {
	limit, err := intQuery(c, "limit", marketplace.RecentLimit)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	ls, err := s.market.Recent(c.Request.Context(), limit)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, ls)
}

func (s *Server) handleListing(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := s.market.IncrementViews(ctx, id); err != nil && apperr.Status(err) == http.StatusInternalServerError {
		s.log.Warn().Err(err).Str("listing", id).Msg("error counting listing view")
	}
	l, err := s.market.Get(ctx, id)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) handleCreateListing(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		fail(c, s.log, apperr.Invalid("expected a multipart form"))
		return
	}
	in := marketplace.CreateInput{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Category:    c.PostForm("category"),
		Condition:   c.PostForm("condition"),
		Location:    c.PostForm("location"),
	}
	in.Price, err = strconv.ParseFloat(strings.TrimSpace(c.PostForm("price")), 64)
	if err != nil {
		fail(c, s.log, apperr.Invalid("price must be a number"))
		return
	}

	files := form.File["images"]
	if len(files) > marketplace.MaxImages {
		fail(c, s.log, apperr.Invalid("too many images"))
		return
	}
	images := make([]marketplace.Image, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			fail(c, s.log, apperr.Invalid("unreadable image "+fh.Filename))
			return
		}
		defer f.Close()
		images = append(images, marketplace.Image{
			Filename:    fh.Filename,
			ContentType: contentType(fh),
			Body:        f,
		})
	}

	l, err := s.market.Create(c.Request.Context(), userID(c), in, images)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

func contentType(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (s *Server) handleUpdateListing(c *gin.Context) {
	var u marketplace.ListingUpdate
	if err := bindJSON(c, &u); err != nil {
		fail(c, s.log, err)
		return
	}
	l, err := s.market.Update(c.Request.Context(), c.Param("id"), userID(c), u)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) handleDeleteListing(c *gin.Context) {
	if err := s.market.Delete(c.Request.Context(), c.Param("id"), userID(c)); err != nil {
		fail(c, s.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMyListings(c *gin.Context) {
	ls, err := s.market.MyListings(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, ls)
}

func (s *Server) handleSaved(c *gin.Context) {
	ls, err := s.market.Saved(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, ls)
}

func (s *Server) handleIsSaved(c *gin.Context) {
	ok, err := s.market.IsSaved(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": ok})
}

func (s *Server) handleSave(c *gin.Context) {
	if err := s.market.Save(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		fail(c, s.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUnsave(c *gin.Context) {
	if err := s.market.Unsave(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		fail(c, s.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUpload(c *gin.Context) {
	data, ct, ok := s.uploads.Get(strings.TrimPrefix(c.Param("key"), "/"))
	if !ok {
		fail(c, s.log, apperr.NotFound("file not found"))
		return
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.Data(http.StatusOK, ct, data)
}
