package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListTeachers handles GET /api/admin/teachers
func (h *Handler) ListTeachers(c *gin.Context) {
	teachers, err := h.identity.ListTeachers(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	views := make([]teacherView, 0, len(teachers))
	for _, t := range teachers {
		views = append(views, toTeacherSummaryView(t))
	}
	c.JSON(http.StatusOK, gin.H{"teachers": views})
}

// CreateTeacher handles POST /api/admin/teachers
func (h *Handler) CreateTeacher(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	teacher, err := h.identity.CreateTeacher(c.Request.Context(), callerFrom(c), req.Username, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTeacherView(teacher))
}

// TeacherOverview handles GET /api/admin/teachers/:teacherId
func (h *Handler) TeacherOverview(c *gin.Context) {
	ov, err := h.identity.TeacherOverview(c.Request.Context(), callerFrom(c), c.Param("teacherId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOverviewView(ov))
}
