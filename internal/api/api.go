// Package api exposes the assessment backend over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/assessment-bridge/internal/service"
	"github.com/celerix-dev/assessment-bridge/pkg/engine"
	"github.com/celerix-dev/assessment-bridge/pkg/schema"
)

type Handler struct {
	Service *service.Service
	// PublicURL, when set, is the base of the Location header sent for a
	// created record.
	PublicURL string
}

// Register mounts the backend routes on rg. auth guards the catalog and
// creation endpoints; record, update and report pages are addressed by id.
func (h *Handler) Register(rg gin.IRoutes, auth gin.HandlerFunc) {
	rg.GET("/packages", auth, h.ListPackages)
	rg.POST("/assessments", auth, h.CreateAssessment)
	rg.POST("/assessments/", auth, h.CreateAssessment)
	rg.GET("/assessments/:id", h.GetAssessment)
	rg.POST("/assessments/:id/update", h.UpdateStatus)
	rg.GET("/assessments/reports/:id", h.GetReport)
}

func (h *Handler) Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"Message": "Hello, World!"})
}

func (h *Handler) ListPackages(c *gin.Context) {
	packages, err := h.Service.ListPackages(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, packages)
}

func (h *Handler) CreateAssessment(c *gin.Context) {
	var req schema.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "malformed_payload"})
		return
	}

	rec, err := h.Service.CreateAssessment(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.PublicURL != "" {
		c.Header("Location", strings.TrimRight(h.PublicURL, "/")+"/assessments/"+rec.ID)
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetAssessment(c *gin.Context) {
	rec, err := h.Service.GetAssessment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// UpdateStatus accepts the status page's form fields (status, score) or the
// equivalent JSON body.
func (h *Handler) UpdateStatus(c *gin.Context) {
	upd, err := bindStatusUpdate(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "malformed_payload"})
		return
	}

	rec, err := h.Service.UpdateStatus(c.Request.Context(), c.Param("id"), upd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetReport(c *gin.Context) {
	report, err := h.Service.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func bindStatusUpdate(c *gin.Context) (schema.StatusUpdate, error) {
	var upd schema.StatusUpdate
	if c.ContentType() == gin.MIMEJSON {
		if err := c.ShouldBindJSON(&upd); err != nil {
			return schema.StatusUpdate{}, err
		}
		return upd, nil
	}

	upd.Status = schema.Status(strings.TrimSpace(c.PostForm("status")))
	if upd.Status == "" {
		return schema.StatusUpdate{}, errors.New("status is required")
	}
	if raw := strings.TrimSpace(c.PostForm("score")); raw != "" {
		score, err := strconv.Atoi(raw)
		if err != nil {
			return schema.StatusUpdate{}, errors.New("score must be an integer")
		}
		upd.Score = &score
	}
	return upd, nil
}

func respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, engine.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrInvalidPackage):
		status, code = http.StatusUnprocessableEntity, "invalid_package"
	case errors.Is(err, engine.ErrInvalidStatus):
		status, code = http.StatusBadRequest, "invalid_status"
	}
	if status == http.StatusInternalServerError {
		c.Error(err)
		c.JSON(status, gin.H{"error": "internal error", "code": code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
