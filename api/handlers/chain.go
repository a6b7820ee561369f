package handlers

import (
	"errors"
	"net/http"

	"github.com/taskrelay/taskrelay/internal/metrics"
	"github.com/taskrelay/taskrelay/relay"
	"github.com/taskrelay/taskrelay/types"
	"go.uber.org/zap"
)

// ChainHandler 处理交接链的查询与重排
type ChainHandler struct {
	ledger    relay.Ledger
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewChainHandler 创建 ChainHandler。collector 可为 nil。
func NewChainHandler(ledger relay.Ledger, collector *metrics.Collector, logger *zap.Logger) *ChainHandler {
	return &ChainHandler{ledger: ledger, collector: collector, logger: logger}
}

// RegisterRoutes 注册链管理路由
func (h *ChainHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/chain", h.HandleGetChain)
	mux.HandleFunc("PUT /api/v1/chain/order", h.HandleReorder)
	mux.HandleFunc("POST /api/v1/chain/members", h.HandleInsert)
}

// HandleGetChain GET /api/v1/chain
// 返回按 rank 升序的当前链成员。
func (h *ChainHandler) HandleGetChain(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := RequireActor(w, r, h.logger); !ok {
		return
	}

	chain, err := h.ledger.Chain(r.Context())
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	if h.collector != nil {
		h.collector.SetChainSize(len(chain))
	}

	WriteSuccess(w, map[string]interface{}{
		"members": chain,
		"size":    len(chain),
	})
}

// reorderBody 重排请求体：新顺序必须恰好覆盖当前全部链成员
type reorderBody struct {
	OrderedIDs []string `json:"ordered_ids"`
}

// HandleReorder PUT /api/v1/chain/order（仅限 admin）
func (h *ChainHandler) HandleReorder(w http.ResponseWriter, r *http.Request) {
	actorID, ok := RequireAdmin(w, r, h.logger)
	if !ok {
		return
	}

	var body reorderBody
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if len(body.OrderedIDs) == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "ordered_ids is required", h.logger)
		return
	}

	if err := h.ledger.Reorder(r.Context(), body.OrderedIDs); err != nil {
		h.recordRewrite("reorder", "error")
		h.writeChainError(w, err)
		return
	}
	h.recordRewrite("reorder", "ok")

	h.logger.Info("chain reordered",
		zap.String("actor_id", actorID),
		zap.Int("size", len(body.OrderedIDs)),
	)

	h.respondWithChain(w, r)
}

// insertBody 入链请求体。position 为 1 基；越界时钳制到链尾。
type insertBody struct {
	CollaboratorID string `json:"collaborator_id"`
	Position       int    `json:"position"`
}

// HandleInsert POST /api/v1/chain/members（仅限 admin）
func (h *ChainHandler) HandleInsert(w http.ResponseWriter, r *http.Request) {
	actorID, ok := RequireAdmin(w, r, h.logger)
	if !ok {
		return
	}

	var body insertBody
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if body.CollaboratorID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "collaborator_id is required", h.logger)
		return
	}
	if body.Position < 1 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "position must be >= 1", h.logger)
		return
	}

	if err := h.ledger.Insert(r.Context(), body.CollaboratorID, body.Position); err != nil {
		h.recordRewrite("insert", "error")
		h.writeChainError(w, err)
		return
	}
	h.recordRewrite("insert", "ok")

	h.logger.Info("collaborator inserted into chain",
		zap.String("actor_id", actorID),
		zap.String("collaborator_id", body.CollaboratorID),
		zap.Int("position", body.Position),
	)

	h.respondWithChain(w, r)
}

// respondWithChain 写出当前链快照作为变更结果
func (h *ChainHandler) respondWithChain(w http.ResponseWriter, r *http.Request) {
	chain, err := h.ledger.Chain(r.Context())
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	if h.collector != nil {
		h.collector.SetChainSize(len(chain))
	}
	WriteSuccess(w, map[string]interface{}{
		"members": chain,
		"size":    len(chain),
	})
}

// writeChainError 将账本哨兵错误映射为带错误码的响应
func (h *ChainHandler) writeChainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrInvalidReorder):
		WriteError(w, types.NewError(types.ErrInvalidReorder, err.Error()), h.logger)
	case errors.Is(err, relay.ErrDuplicateInsert):
		WriteError(w, types.NewError(types.ErrDuplicateInsert, err.Error()), h.logger)
	case errors.Is(err, relay.ErrUnknownCollaborator):
		WriteError(w, types.NewError(types.ErrUnknownCollaborator, err.Error()), h.logger)
	case errors.Is(err, relay.ErrUnranked):
		WriteError(w, types.NewError(types.ErrUnrankedParticipant, err.Error()), h.logger)
	default:
		WriteErrorFrom(w, err, h.logger)
	}
}

func (h *ChainHandler) recordRewrite(operation, status string) {
	if h.collector != nil {
		h.collector.RecordChainRewrite(operation, status)
	}
}
