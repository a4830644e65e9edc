package analysis

import (
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"slide_analyzer/internal/compute"
	"slide_analyzer/internal/pool"
	"slide_analyzer/internal/resolver"
	"slide_analyzer/internal/result"
	"slide_analyzer/internal/task"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// artifactPrefix is how the compute service prefixes the paths it reports.
const artifactPrefix = "fullnet_results/"

type AnalysisController struct {
	service    ServiceInterface
	resultsDir string
}

func NewAnalysisController(service ServiceInterface, resultsDir string) *AnalysisController {
	return &AnalysisController{
		service:    service,
		resultsDir: resultsDir,
	}
}

type FilenameRequest struct {
	Filename string `json:"filename" binding:"required"`
}

// RegisterRoutes mounts the read routes on api and the mutating routes on
// api with the extra guard handlers applied.
func (ac *AnalysisController) RegisterRoutes(api *gin.RouterGroup, guards ...gin.HandlerFunc) {
	api.GET("/tasks", ac.ListTasks)
	api.GET("/tasks/:id", ac.GetTask)
	api.GET("/tasks/:id/result", ac.GetTaskResult)
	api.GET("/latest-task", ac.GetLatestTask)
	api.GET("/results", ac.ListResults)
	api.GET("/results/:id", ac.GetResult)
	api.GET("/result", ac.GetResultByFilename)
	api.GET("/history", ac.GetHistory)
	api.GET("/images/*path", ac.GetImage)

	// Singular paths used by existing clients.
	api.GET("/task/file", ac.GetLatestTask)
	api.GET("/task/:id", ac.GetTask)
	api.GET("/result/:id", ac.GetResult)

	mutating := api.Group("")
	mutating.Use(guards...)
	{
		mutating.POST("/tasks", ac.SubmitTask)
		mutating.POST("/analyze", ac.Analyze)
		mutating.DELETE("/results/:id", ac.DeleteResult)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, task.ErrTaskNotFound),
		errors.Is(err, result.ErrResultNotFound),
		errors.Is(err, resolver.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTaskNotCompleted):
		return http.StatusConflict
	case errors.Is(err, pool.ErrSaturated), errors.Is(err, pool.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, compute.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, compute.ErrUnavailable), errors.Is(err, compute.ErrRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// SubmitTask handles asynchronous analysis submission
func (ac *AnalysisController) SubmitTask(c *gin.Context) {
	var req FilenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := ac.service.Submit(c.Request.Context(), req.Filename)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": t.ID,
		"status":  t.State,
		"message": "Task submitted, poll the task id for progress",
	})
}

// GetTask returns the task and, once completed, its result
func (ac *AnalysisController) GetTask(c *gin.Context) {
	view, err := ac.service.GetTaskView(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (ac *AnalysisController) GetTaskResult(c *gin.Context) {
	r, err := ac.service.GetResultForTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (ac *AnalysisController) GetLatestTask(c *gin.Context) {
	view, err := ac.service.GetLatestTaskForName(c.Request.Context(), c.Query("filename"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (ac *AnalysisController) ListTasks(c *gin.Context) {
	tasks, err := ac.service.ListTasks(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// Analyze runs a synchronous analysis and returns the stored result
func (ac *AnalysisController) Analyze(c *gin.Context) {
	var req FilenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := ac.service.AnalyzeSync(c.Request.Context(), req.Filename)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (ac *AnalysisController) ListResults(c *gin.Context) {
	results, err := ac.service.ListResults(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"count":   len(results),
	})
}

func parseResultID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid result ID"})
		return 0, false
	}
	return id, true
}

func (ac *AnalysisController) GetResult(c *gin.Context) {
	id, ok := parseResultID(c)
	if !ok {
		return
	}
	r, err := ac.service.GetResultByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (ac *AnalysisController) GetResultByFilename(c *gin.Context) {
	r, err := ac.service.GetResultByFilename(c.Request.Context(), c.Query("filename"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (ac *AnalysisController) DeleteResult(c *gin.Context) {
	id, ok := parseResultID(c)
	if !ok {
		return
	}
	deleted, err := ac.service.DeleteResult(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"message": "Result not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Result deleted",
	})
}

// GetHistory accepts either ?filename= or the ?folderName=&fileName= pair
func (ac *AnalysisController) GetHistory(c *gin.Context) {
	name := c.Query("filename")
	if name == "" {
		folder, file := c.Query("folderName"), c.Query("fileName")
		if file != "" {
			name = path.Join(folder, file)
		}
	}

	history, err := ac.service.GetHistory(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results": history,
		"count":   len(history),
	})
}

// GetImage serves an artifact written by the compute service
func (ac *AnalysisController) GetImage(c *gin.Context) {
	rel := strings.TrimPrefix(c.Param("path"), "/")
	rel = strings.TrimPrefix(rel, artifactPrefix)
	rel = path.Clean(rel)
	if rel == "." || !filepath.IsLocal(filepath.FromSlash(rel)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image path"})
		return
	}

	full := filepath.Join(ac.resultsDir, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		c.JSON(http.StatusNotFound, gin.H{"error": "Image not found"})
		return
	}

	mtype, err := mimetype.DetectFile(full)
	if err != nil {
		logrus.WithError(err).WithField("path", full).Warn("Failed to detect image content type")
	} else {
		c.Header("Content-Type", mtype.String())
	}
	c.File(full)
}
