package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/inboxflow/api"
	"github.com/BaSui01/inboxflow/engine"
	"github.com/BaSui01/inboxflow/types"
)

// =============================================================================
// 📨 工作流生命周期 Handler
// =============================================================================

// WorkflowEngine 处理器对引擎的依赖面
type WorkflowEngine interface {
	Start(ctx context.Context, item types.EmailInput) (*engine.Result, error)
	Resume(ctx context.Context, threadID string, response types.HumanResponse) (*engine.Result, error)
	Inspect(ctx context.Context, threadID string) (*types.WorkflowState, error)
}

// WorkflowHandler 工作流生命周期处理器
type WorkflowHandler struct {
	engine WorkflowEngine
	logger *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(e WorkflowEngine, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		engine: e,
		logger: logger.With(zap.String("component", "workflow_handler")),
	}
}

// HandleStart 处理 POST /v1/workflows（新邮件入队）
// @Summary 创建工作流
// @Description 为新邮件创建工作流并推进到第一个挂起点或终态
// @Tags workflow
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=engine.Result} "推进结果"
// @Failure 400 {object} Response "输入无效"
// @Router /v1/workflows [post]
func (h *WorkflowHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	var req api.StartWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	result, err := h.engine.Start(r.Context(), req.Email())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, result)
}

// HandleResume 处理 POST /v1/workflows/{thread_id}/resume（人工处置）
// @Summary 恢复工作流
// @Description 用一次人工响应恢复挂起的工作流
// @Tags workflow
// @Accept json
// @Produce json
// @Param thread_id path string true "线程 ID"
// @Success 200 {object} Response{data=engine.Result} "推进结果"
// @Failure 404 {object} Response "线程不存在"
// @Failure 409 {object} Response "非法转移或线程忙"
// @Router /v1/workflows/{thread_id}/resume [post]
func (h *WorkflowHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	threadID := extractThreadID(r)
	if threadID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "thread ID is required", h.logger)
		return
	}

	var req api.ResumeWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Type == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "response type is required", h.logger)
		return
	}

	result, err := h.engine.Resume(r.Context(), threadID, req.Response())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, result)
}

// HandleInspect 处理 GET /v1/workflows/{thread_id}（状态查询）
// @Summary 查询工作流
// @Description 返回线程状态的只读快照
// @Tags workflow
// @Produce json
// @Param thread_id path string true "线程 ID"
// @Success 200 {object} Response{data=api.WorkflowStateResponse} "线程状态"
// @Failure 404 {object} Response "线程不存在"
// @Router /v1/workflows/{thread_id} [get]
func (h *WorkflowHandler) HandleInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	threadID := extractThreadID(r)
	if threadID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "thread ID is required", h.logger)
		return
	}

	state, err := h.engine.Inspect(r.Context(), threadID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.NewWorkflowStateResponse(state))
}

// extractThreadID extracts the thread ID from the URL path.
// Supports both /v1/workflows/{thread_id} (PathValue) and prefix trimming.
func extractThreadID(r *http.Request) string {
	if id := r.PathValue("thread_id"); id != "" {
		return id
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/workflows/")
	path = strings.TrimSuffix(path, "/resume")
	if i := strings.Index(path, "/"); i >= 0 {
		path = path[:i]
	}
	return path
}
