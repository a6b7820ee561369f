package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskrelay/taskrelay/relay"
	"github.com/taskrelay/taskrelay/relay/persistence"
	"github.com/taskrelay/taskrelay/types"
)

// setupBackend 构建内存后端并种入链 alice(1) → bob(2) → carol(3)，
// 外加未入链的 dave 与 admin 账户 root。
func setupBackend(t *testing.T) *persistence.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := persistence.NewMemoryStore(zap.NewNop())

	for i, id := range []string{"alice", "bob", "carol"} {
		seq := i + 1
		require.NoError(t, store.CreateCollaborator(ctx, &relay.Collaborator{
			ID:          id,
			DisplayName: id,
			Role:        types.RoleCollaborator,
			Sequence:    &seq,
		}))
	}
	require.NoError(t, store.CreateCollaborator(ctx, &relay.Collaborator{
		ID:          "dave",
		DisplayName: "dave",
		Role:        types.RoleCollaborator,
	}))
	require.NoError(t, store.CreateCollaborator(ctx, &relay.Collaborator{
		ID:          "root",
		DisplayName: "root",
		Role:        types.RoleAdmin,
	}))
	return store
}

func seedTask(t *testing.T, store *persistence.MemoryStore, holderID string) *relay.Task {
	t.Helper()
	task := &relay.Task{
		Title:    "quarterly report",
		HolderID: holderID,
	}
	require.NoError(t, store.CreateTask(context.Background(), task))
	return task
}

// newMux 注册全部路由，方便走真实的路径匹配
func newMux(store *persistence.MemoryStore) *http.ServeMux {
	logger := zap.NewNop()
	executor := relay.NewExecutor(store, store, logger)

	mux := http.NewServeMux()
	NewTransferHandler(executor, nil, logger).RegisterRoutes(mux)
	NewChainHandler(store, nil, logger).RegisterRoutes(mux)
	NewTaskHandler(store, store, logger).RegisterRoutes(mux)
	NewCollaboratorHandler(store, logger).RegisterRoutes(mux)
	return mux
}

// authedRequest 构造带操作者身份的请求
func authedRequest(t *testing.T, method, target, actorID string, role types.Role, body any) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if actorID != "" {
		ctx := types.WithActorID(req.Context(), actorID)
		ctx = types.WithActorRole(ctx, role)
		req = req.WithContext(ctx)
	}
	return req
}

func doRequest(t *testing.T, mux *http.ServeMux, req *http.Request) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

// dataMap 取出 data 字段并断言为对象
func dataMap(t *testing.T, resp Response) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "response data is not an object: %v", resp.Data)
	return m
}
