package handlers

import (
	"errors"
	"net/http"

	"github.com/taskrelay/taskrelay/relay"
	"github.com/taskrelay/taskrelay/relay/persistence"
	"github.com/taskrelay/taskrelay/types"
	"go.uber.org/zap"
)

// collaboratorBackend 协作者处理器需要的存储切面：账户 CRUD 加账本读写。
type collaboratorBackend interface {
	persistence.CollaboratorStore
	relay.Ledger
}

// CollaboratorHandler 处理协作者账户的 CRUD 与顺位查询
type CollaboratorHandler struct {
	backend collaboratorBackend
	logger  *zap.Logger
}

// NewCollaboratorHandler 创建 CollaboratorHandler
func NewCollaboratorHandler(backend collaboratorBackend, logger *zap.Logger) *CollaboratorHandler {
	return &CollaboratorHandler{backend: backend, logger: logger}
}

// RegisterRoutes 注册协作者路由
func (h *CollaboratorHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/collaborators", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/collaborators", h.HandleList)
	mux.HandleFunc("GET /api/v1/collaborators/{id}", h.HandleGet)
	mux.HandleFunc("PATCH /api/v1/collaborators/{id}", h.HandleRename)
	mux.HandleFunc("DELETE /api/v1/collaborators/{id}", h.HandleDelete)
	mux.HandleFunc("GET /api/v1/collaborators/{id}/next", h.HandleNext)
}

// createCollaboratorBody 建户请求体。position 非零时同时入链（1 基，越界钳制到链尾）。
type createCollaboratorBody struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Position    int    `json:"position"`
}

// HandleCreate POST /api/v1/collaborators（仅限 admin）
func (h *CollaboratorHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireAdmin(w, r, h.logger); !ok {
		return
	}

	var body createCollaboratorBody
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if body.DisplayName == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "display_name is required", h.logger)
		return
	}
	role := types.Role(body.Role)
	if body.Role == "" {
		role = types.RoleCollaborator
	}
	if !role.Valid() {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid role: "+body.Role, h.logger)
		return
	}
	if body.Position != 0 && role != types.RoleCollaborator {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"only collaborator accounts can hold a chain position", h.logger)
		return
	}
	if body.Position < 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "position must be >= 1", h.logger)
		return
	}

	col := &relay.Collaborator{
		ID:          body.ID,
		DisplayName: body.DisplayName,
		Role:        role,
	}
	if err := h.backend.CreateCollaborator(r.Context(), col); err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	// 账户落库后再入链，链内位次始终由账本统一分配
	if body.Position > 0 {
		if err := h.backend.Insert(r.Context(), col.ID, body.Position); err != nil {
			h.writeLedgerError(w, err)
			return
		}
		created, err := h.backend.GetCollaborator(r.Context(), col.ID)
		if err != nil {
			WriteErrorFrom(w, err, h.logger)
			return
		}
		col = created
	}

	WriteCreated(w, col)
}

// HandleList GET /api/v1/collaborators
func (h *CollaboratorHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := RequireActor(w, r, h.logger); !ok {
		return
	}

	cols, err := h.backend.ListCollaborators(r.Context())
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"collaborators": cols,
		"count":         len(cols),
	})
}

// HandleGet GET /api/v1/collaborators/{id}
func (h *CollaboratorHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := RequireActor(w, r, h.logger); !ok {
		return
	}

	col, err := h.backend.GetCollaborator(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	WriteSuccess(w, col)
}

// renameBody 改名请求体
type renameBody struct {
	DisplayName string `json:"display_name"`
}

// HandleRename PATCH /api/v1/collaborators/{id}
func (h *CollaboratorHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireAdmin(w, r, h.logger); !ok {
		return
	}

	var body renameBody
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if body.DisplayName == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "display_name is required", h.logger)
		return
	}

	col, err := h.backend.RenameCollaborator(r.Context(), r.PathValue("id"), body.DisplayName)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	WriteSuccess(w, col)
}

// HandleDelete DELETE /api/v1/collaborators/{id}（仅限 admin）
// 删除在链成员会压缩其余位次，链保持连续。
func (h *CollaboratorHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actorID, ok := RequireAdmin(w, r, h.logger)
	if !ok {
		return
	}

	id := r.PathValue("id")
	if id == actorID {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"cannot delete your own account", h.logger)
		return
	}

	if err := h.backend.DeleteCollaborator(r.Context(), id); err != nil {
		h.writeLedgerError(w, err)
		return
	}

	h.logger.Info("collaborator deleted",
		zap.String("collaborator_id", id),
		zap.String("actor_id", actorID),
	)

	WriteSuccess(w, map[string]string{"deleted": id})
}

// nextResponse 顺位查询响应。链尾成员 next_holder_id 为空且 end_of_chain 为真。
type nextResponse struct {
	CollaboratorID string `json:"collaborator_id"`
	Rank           int    `json:"rank"`
	NextHolderID   string `json:"next_holder_id,omitempty"`
	EndOfChain     bool   `json:"end_of_chain"`
}

// HandleNext GET /api/v1/collaborators/{id}/next
// 回答"这个成员之后轮到谁"，交接表单用它预填目标。
func (h *CollaboratorHandler) HandleNext(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := RequireActor(w, r, h.logger); !ok {
		return
	}

	id := r.PathValue("id")
	rank, err := h.backend.RankOf(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	resp := nextResponse{CollaboratorID: id, Rank: rank}
	next, err := h.backend.NextAfter(r.Context(), rank)
	switch {
	case errors.Is(err, relay.ErrEndOfChain):
		resp.EndOfChain = true
	case err != nil:
		WriteErrorFrom(w, err, h.logger)
		return
	default:
		resp.NextHolderID = next
	}

	WriteSuccess(w, resp)
}

// writeLedgerError 将账本与账户哨兵错误映射为响应
func (h *CollaboratorHandler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrUnknownCollaborator):
		WriteError(w, types.NewError(types.ErrUnknownCollaborator, "collaborator not found").
			WithHTTPStatus(http.StatusNotFound), h.logger)
	case errors.Is(err, relay.ErrUnranked):
		WriteError(w, types.NewError(types.ErrUnrankedParticipant, err.Error()), h.logger)
	case errors.Is(err, relay.ErrDuplicateInsert):
		WriteError(w, types.NewError(types.ErrDuplicateInsert, err.Error()), h.logger)
	default:
		WriteErrorFrom(w, err, h.logger)
	}
}
