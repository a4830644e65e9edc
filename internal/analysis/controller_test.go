package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"slide_analyzer/internal/compute"
	"slide_analyzer/internal/pool"
	"slide_analyzer/internal/result"
	"slide_analyzer/internal/task"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAnalysisService is a mock implementation of ServiceInterface
type MockAnalysisService struct {
	mock.Mock
}

func (m *MockAnalysisService) Submit(ctx context.Context, name string) (*task.Task, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*task.Task), args.Error(1)
}

func (m *MockAnalysisService) GetTask(ctx context.Context, id string) (*task.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*task.Task), args.Error(1)
}

func (m *MockAnalysisService) GetTaskView(ctx context.Context, id string) (*TaskView, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TaskView), args.Error(1)
}

func (m *MockAnalysisService) GetLatestTaskForName(ctx context.Context, name string) (*TaskView, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TaskView), args.Error(1)
}

func (m *MockAnalysisService) ListTasks(ctx context.Context) ([]*task.Task, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*task.Task), args.Error(1)
}

func (m *MockAnalysisService) GetResultForTask(ctx context.Context, id string) (*result.Result, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*result.Result), args.Error(1)
}

func (m *MockAnalysisService) GetResultByFilename(ctx context.Context, name string) (*result.Result, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*result.Result), args.Error(1)
}

func (m *MockAnalysisService) GetResultByID(ctx context.Context, id int64) (*result.Result, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*result.Result), args.Error(1)
}

func (m *MockAnalysisService) ListResults(ctx context.Context) ([]*result.Result, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*result.Result), args.Error(1)
}

func (m *MockAnalysisService) GetHistory(ctx context.Context, name string) ([]*result.Result, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*result.Result), args.Error(1)
}

func (m *MockAnalysisService) DeleteResult(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockAnalysisService) AnalyzeSync(ctx context.Context, name string) (*result.Result, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*result.Result), args.Error(1)
}

// setupTestRouter mounts the controller routes under /api/fullnet
func setupTestRouter(service ServiceInterface, resultsDir string, guards ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewAnalysisController(service, resultsDir).RegisterRoutes(router.Group("/api/fullnet"), guards...)
	return router
}

func doRequest(router *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func TestSubmitTask_Accepted(t *testing.T) {
	mockService := new(MockAnalysisService)
	router := setupTestRouter(mockService, t.TempDir())

	mockService.On("Submit", mock.Anything, "sample").Return(&task.Task{
		ID:    "abc",
		State: task.StatePending,
	}, nil)

	w := doRequest(router, http.MethodPost, "/api/fullnet/tasks", `{"filename":"sample"}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	response := decode(t, w)
	assert.Equal(t, "abc", response["task_id"])
	assert.Equal(t, "PENDING", response["status"])
	mockService.AssertExpectations(t)
}

func TestSubmitTask_MissingFilename(t *testing.T) {
	mockService := new(MockAnalysisService)
	router := setupTestRouter(mockService, t.TempDir())

	w := doRequest(router, http.MethodPost, "/api/fullnet/tasks", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockService.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestSubmitTask_Saturated(t *testing.T) {
	mockService := new(MockAnalysisService)
	router := setupTestRouter(mockService, t.TempDir())

	mockService.On("Submit", mock.Anything, "busy").Return(nil, pool.ErrSaturated)

	w := doRequest(router, http.MethodPost, "/api/fullnet/tasks", `{"filename":"busy"}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decode(t, w)["error"], "full")
}

func TestSubmitTask_GuardsApplied(t *testing.T) {
	mockService := new(MockAnalysisService)
	deny := func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
	}
	router := setupTestRouter(mockService, t.TempDir(), deny)

	mockService.On("ListTasks", mock.Anything).Return([]*task.Task{}, nil)

	w := doRequest(router, http.MethodPost, "/api/fullnet/tasks", `{"filename":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, http.MethodGet, "/api/fullnet/tasks", "")
	assert.Equal(t, http.StatusOK, w.Code, "read routes are not guarded")
}

func TestGetTask_CompletedWithResult(t *testing.T) {
	mockService := new(MockAnalysisService)
	router := setupTestRouter(mockService, t.TempDir())

	resultID := int64(7)
	mockService.On("GetTaskView", mock.Anything, "t1").Return(&TaskView{
		Task:   &task.Task{ID: "t1", State: task.StateCompleted, ResultID: &resultID, CreatedAt: time.Now()},
		Result: &result.Result{ID: resultID, Filename: "a.svs", Metrics: result.Metrics{CellCount: 42}},
	}, nil)

	w := doRequest(router, http.MethodGet, "/api/fullnet/tasks/t1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	taskJSON := response["task"].(map[string]interface{})
	assert.Equal(t, "COMPLETED", taskJSON["state"])
	resultJSON := response["result"].(map[string]interface{})
	metrics := resultJSON["metrics"].(map[string]interface{})
	assert.Equal(t, float64(42), metrics["cell_count"])
}

func TestGetTask_NotFound(t *testing.T) {
	mockService := new(MockAnalysisService)
	router := setupTestRouter(mockService, t.TempDir())

	mockService.On("GetTaskView", mock.Anything, "nope").Return(nil, task.ErrTaskNotFound)

	w := doRequest(router, http.MethodGet, "/api/fullnet/tasks/nope", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode(t, w)["error"], "task not found")
}

func TestGetTaskResult_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not completed", fmt.Errorf("%w: current state is PROCESSING", ErrTaskNotCompleted), http.StatusConflict},
		{"no result", result.ErrResultNotFound, http.StatusNotFound},
		{"store failure", fmt.Errorf("%w: boom", ErrPersistence), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockAnalysisService)
			router := setupTestRouter(mockService, t.TempDir())
			mockService.On("GetResultForTask", mock.Anything, "t1").Return(nil, tt.err)

			w := doRequest(router, http.MethodGet, "/api/fullnet/tasks/t1/result", "")
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestAnalyze_ComputeErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{compute.ErrTimeout, http.StatusGatewayTimeout},
		{compute.ErrUnavailable, http.StatusBadGateway},
		{compute.ErrRejected, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			mockService := new(MockAnalysisService)
			router := setupTestRouter(mockService, t.TempDir())
			mockService.On("AnalyzeSync", mock.Anything, "a").Return(nil, tt.err)

			w := doRequest(router, http.MethodPost, "/api/fullnet/analyze", `{"filename":"a"}`)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestDeleteResultHandler(t *testing.T) {
	mockService := new(MockAnalysisService)
	router := setupTestRouter(mockService, t.TempDir())

	mockService.On("DeleteResult", mock.Anything, int64(5)).Return(true, nil)
	mockService.On("DeleteResult", mock.Anything, int64(6)).Return(false, nil)

	w := doRequest(router, http.MethodDelete, "/api/fullnet/results/5", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])

	w = doRequest(router, http.MethodDelete, "/api/fullnet/results/6", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodDelete, "/api/fullnet/results/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockService.AssertExpectations(t)
}

func TestGetHistory_FolderAndFileName(t *testing.T) {
	mockService := new(MockAnalysisService)
	router := setupTestRouter(mockService, t.TempDir())

	mockService.On("GetHistory", mock.Anything, "case7/he").Return([]*result.Result{
		{ID: 1, Filename: "case7/he.svs"},
	}, nil)

	w := doRequest(router, http.MethodGet, "/api/fullnet/history?folderName=case7&fileName=he", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
	mockService.AssertExpectations(t)
}

func TestGetHistory_MissingName(t *testing.T) {
	mockService := new(MockAnalysisService)
	router := setupTestRouter(mockService, t.TempDir())

	mockService.On("GetHistory", mock.Anything, "").Return(nil, fmt.Errorf("%w: filename is required", ErrInvalidInput))

	w := doRequest(router, http.MethodGet, "/api/fullnet/history", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetImage(t *testing.T) {
	dir := t.TempDir()
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_overlay.png"), png, 0o644))

	router := setupTestRouter(new(MockAnalysisService), dir)

	w := doRequest(router, http.MethodGet, "/api/fullnet/images/fullnet_results/a_overlay.png", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = doRequest(router, http.MethodGet, "/api/fullnet/images/missing.png", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodGet, "/api/fullnet/images/..%2f..%2fetc%2fpasswd", "")
	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestSingularRouteAliases(t *testing.T) {
	mockService := new(MockAnalysisService)
	router := setupTestRouter(mockService, t.TempDir())

	mockService.On("GetTaskView", mock.Anything, "t1").Return(&TaskView{
		Task: &task.Task{ID: "t1", State: task.StatePending, CreatedAt: time.Now()},
	}, nil)
	mockService.On("GetLatestTaskForName", mock.Anything, "a.svs").Return(&TaskView{
		Task: &task.Task{ID: "t2", State: task.StateProcessing, CreatedAt: time.Now()},
	}, nil)
	mockService.On("GetResultByID", mock.Anything, int64(7)).Return(&result.Result{ID: 7, Filename: "a.svs"}, nil)

	w := doRequest(router, http.MethodGet, "/api/fullnet/task/t1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t1", decode(t, w)["task"].(map[string]interface{})["id"])

	w = doRequest(router, http.MethodGet, "/api/fullnet/task/file?filename=a.svs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t2", decode(t, w)["task"].(map[string]interface{})["id"])

	w = doRequest(router, http.MethodGet, "/api/fullnet/result/7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a.svs", decode(t, w)["filename"])
	mockService.AssertExpectations(t)
}
