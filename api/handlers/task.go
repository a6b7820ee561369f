package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/taskrelay/taskrelay/relay"
	"github.com/taskrelay/taskrelay/relay/persistence"
	"github.com/taskrelay/taskrelay/types"
	"go.uber.org/zap"
)

// TaskHandler 处理任务 CRUD、清单与活动记录。
// 持有人与状态的变更不走这里，统一经由交接执行器。
type TaskHandler struct {
	store  persistence.TaskStore
	sink   relay.ActivitySink
	logger *zap.Logger
}

// NewTaskHandler 创建 TaskHandler
func NewTaskHandler(store persistence.TaskStore, sink relay.ActivitySink, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{store: store, sink: sink, logger: logger}
}

// RegisterRoutes 注册任务路由
func (h *TaskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/tasks", h.HandleList)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.HandleGet)
	mux.HandleFunc("PATCH /api/v1/tasks/{id}", h.HandleUpdateDetails)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", h.HandleDelete)
	mux.HandleFunc("POST /api/v1/tasks/{id}/complete", h.HandleComplete)
	mux.HandleFunc("POST /api/v1/tasks/{id}/checklist", h.HandleAddChecklistItem)
	mux.HandleFunc("PATCH /api/v1/tasks/{id}/checklist/{itemId}", h.HandleSetChecklistItemDone)
	mux.HandleFunc("GET /api/v1/tasks/{id}/activity", h.HandleActivity)
}

// createTaskBody 建单请求体
type createTaskBody struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	HolderID    string   `json:"holder_id"`
	Checklist   []string `json:"checklist"`
}

// HandleCreate POST /api/v1/tasks
func (h *TaskHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := RequireActor(w, r, h.logger); !ok {
		return
	}

	var body createTaskBody
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if body.Title == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "title is required", h.logger)
		return
	}
	if body.HolderID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "holder_id is required", h.logger)
		return
	}

	task := &relay.Task{
		Title:       body.Title,
		Description: body.Description,
		HolderID:    body.HolderID,
	}
	for _, text := range body.Checklist {
		task.Checklist = append(task.Checklist, relay.ChecklistItem{Text: text})
	}

	if err := h.store.CreateTask(r.Context(), task); err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	WriteCreated(w, task)
}

// HandleList GET /api/v1/tasks?holder_id=&status=&limit=&offset=
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := RequireActor(w, r, h.logger); !ok {
		return
	}

	filter, err := parseTaskFilter(r)
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, err.Error(), h.logger)
		return
	}

	tasks, err := h.store.ListTasks(r.Context(), filter)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// HandleGet GET /api/v1/tasks/{id}
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := RequireActor(w, r, h.logger); !ok {
		return
	}

	task, err := h.store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeTaskError(w, err)
		return
	}

	WriteSuccess(w, task)
}

// updateTaskBody 详情更新请求体
type updateTaskBody struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// HandleUpdateDetails PATCH /api/v1/tasks/{id}
func (h *TaskHandler) HandleUpdateDetails(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := RequireActor(w, r, h.logger); !ok {
		return
	}

	var body updateTaskBody
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if body.Title == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "title is required", h.logger)
		return
	}

	task, err := h.store.UpdateTaskDetails(r.Context(), r.PathValue("id"), body.Title, body.Description)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}

	WriteSuccess(w, task)
}

// HandleDelete DELETE /api/v1/tasks/{id}（仅限 admin）
func (h *TaskHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actorID, ok := RequireAdmin(w, r, h.logger)
	if !ok {
		return
	}

	taskID := r.PathValue("id")
	if err := h.store.DeleteTask(r.Context(), taskID); err != nil {
		h.writeTaskError(w, err)
		return
	}

	h.logger.Info("task deleted",
		zap.String("task_id", taskID),
		zap.String("actor_id", actorID),
	)

	WriteSuccess(w, map[string]string{"deleted": taskID})
}

// HandleComplete POST /api/v1/tasks/{id}/complete
// 只有当前持有者能完结任务。
func (h *TaskHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	actorID, actorRole, ok := RequireActor(w, r, h.logger)
	if !ok {
		return
	}

	taskID := r.PathValue("id")
	task, err := h.store.GetTask(r.Context(), taskID)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}
	if actorRole != types.RoleAdmin && task.HolderID != actorID {
		WriteErrorMessage(w, http.StatusForbidden, types.ErrForbiddenActor,
			"only the current holder can complete the task", h.logger)
		return
	}
	if task.Status.IsTerminal() {
		WriteError(w, types.NewError(types.ErrTaskAlreadyCompleted, "task is already completed"), h.logger)
		return
	}

	task, err = h.store.CompleteTask(r.Context(), taskID)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}

	WriteSuccess(w, task)
}

// checklistItemBody 清单项请求体
type checklistItemBody struct {
	Text string `json:"text"`
}

// HandleAddChecklistItem POST /api/v1/tasks/{id}/checklist
func (h *TaskHandler) HandleAddChecklistItem(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := RequireActor(w, r, h.logger); !ok {
		return
	}

	var body checklistItemBody
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}
	if body.Text == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "text is required", h.logger)
		return
	}

	task, err := h.store.AddChecklistItem(r.Context(), r.PathValue("id"), body.Text)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}

	WriteSuccess(w, task)
}

// checklistDoneBody 勾选状态请求体
type checklistDoneBody struct {
	Done bool `json:"done"`
}

// HandleSetChecklistItemDone PATCH /api/v1/tasks/{id}/checklist/{itemId}
func (h *TaskHandler) HandleSetChecklistItemDone(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := RequireActor(w, r, h.logger); !ok {
		return
	}

	var body checklistDoneBody
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}

	task, err := h.store.SetChecklistItemDone(r.Context(), r.PathValue("id"), r.PathValue("itemId"), body.Done)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}

	WriteSuccess(w, task)
}

// HandleActivity GET /api/v1/tasks/{id}/activity
// 返回该任务的交接记录，最早在前。
func (h *TaskHandler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := RequireActor(w, r, h.logger); !ok {
		return
	}

	taskID := r.PathValue("id")

	// 任务不存在时返回 404 而不是空列表
	if _, err := h.store.GetTask(r.Context(), taskID); err != nil {
		h.writeTaskError(w, err)
		return
	}

	entries, err := h.sink.ListByTask(r.Context(), taskID)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// writeTaskError 将任务哨兵错误映射为响应
func (h *TaskHandler) writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrTaskNotFound):
		WriteError(w, types.NewError(types.ErrNotFound, "task not found").
			WithHTTPStatus(http.StatusNotFound), h.logger)
	case errors.Is(err, relay.ErrVersionConflict):
		WriteError(w, types.NewError(types.ErrConcurrentModification, err.Error()).
			WithRetryable(true), h.logger)
	default:
		WriteErrorFrom(w, err, h.logger)
	}
}

// parseTaskFilter 解析列表查询参数
func parseTaskFilter(r *http.Request) (persistence.TaskFilter, error) {
	q := r.URL.Query()
	filter := persistence.TaskFilter{
		HolderID: q.Get("holder_id"),
	}

	if status := q.Get("status"); status != "" {
		s := relay.TaskStatus(status)
		if !s.Valid() {
			return filter, errors.New("invalid status filter: " + status)
		}
		filter.Status = s
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return filter, errors.New("invalid limit: " + limitStr)
		}
		filter.Limit = limit
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filter, errors.New("invalid offset: " + offsetStr)
		}
		filter.Offset = offset
	}

	return filter, nil
}
