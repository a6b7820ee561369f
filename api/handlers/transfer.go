package handlers

import (
	"net/http"
	"time"

	"github.com/taskrelay/taskrelay/internal/metrics"
	"github.com/taskrelay/taskrelay/relay"
	"github.com/taskrelay/taskrelay/types"
	"go.uber.org/zap"
)

// TransferHandler 处理任务交接请求
type TransferHandler struct {
	executor  *relay.Executor
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewTransferHandler 创建 TransferHandler。collector 可为 nil（不记录指标）。
func NewTransferHandler(executor *relay.Executor, collector *metrics.Collector, logger *zap.Logger) *TransferHandler {
	return &TransferHandler{executor: executor, collector: collector, logger: logger}
}

// RegisterRoutes 注册交接路由
func (h *TransferHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks/{id}/transfer", h.HandleTransfer)
}

// transferBody 交接请求体。操作者身份来自认证上下文，不接受请求体伪造。
type transferBody struct {
	SourceHolderID string `json:"source_holder_id"`
	TargetHolderID string `json:"target_holder_id"`
}

// HandleTransfer POST /api/v1/tasks/{id}/transfer
func (h *TransferHandler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	actorID, actorRole, ok := RequireActor(w, r, h.logger)
	if !ok {
		return
	}

	taskID := r.PathValue("id")
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "missing task id", h.logger)
		return
	}

	var body transferBody
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if body.SourceHolderID == "" || body.TargetHolderID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"source_holder_id and target_holder_id are required", h.logger)
		return
	}

	req := relay.TransferRequest{
		TaskID:         taskID,
		SourceHolderID: body.SourceHolderID,
		TargetHolderID: body.TargetHolderID,
		ActorID:        actorID,
	}

	start := time.Now()
	result, err := h.executor.Execute(r.Context(), req, actorRole)
	elapsed := time.Since(start)

	if err != nil {
		h.recordOutcome(err, elapsed)
		WriteErrorFrom(w, err, h.logger)
		return
	}

	if h.collector != nil {
		h.collector.RecordTransfer("admitted", "", elapsed)
	}
	if result.AuditWarning != "" {
		h.logger.Warn("transfer committed with audit warning",
			zap.String("task_id", taskID),
			zap.String("warning", result.AuditWarning),
		)
	}

	WriteSuccess(w, result)
}

// recordOutcome 按错误类型区分被拒与内部失败
func (h *TransferHandler) recordOutcome(err error, elapsed time.Duration) {
	if h.collector == nil {
		return
	}
	code := types.GetErrorCode(err)
	switch code {
	case "", types.ErrInternalError, types.ErrServiceUnavailable, types.ErrTimeout:
		h.collector.RecordTransfer("error", string(code), elapsed)
	default:
		h.collector.RecordTransfer("rejected", string(code), elapsed)
	}
}
