package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskrelay/taskrelay/types"
)

func TestHandleCreateCollaborator(t *testing.T) {
	store := setupBackend(t)
	mux := newMux(store)

	req := authedRequest(t, http.MethodPost, "/api/v1/collaborators", "root", types.RoleAdmin,
		map[string]any{"id": "erin", "display_name": "Erin"})
	w, resp := doRequest(t, mux, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "erin", data["id"])
	assert.Equal(t, "collaborator", data["role"])
	// 未指定 position，不入链
	assert.Nil(t, data["sequence"])
}

func TestHandleCreateCollaboratorWithPosition(t *testing.T) {
	store := setupBackend(t)
	mux := newMux(store)

	req := authedRequest(t, http.MethodPost, "/api/v1/collaborators", "root", types.RoleAdmin,
		map[string]any{"id": "erin", "display_name": "Erin", "position": 2})
	w, resp := doRequest(t, mux, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), data["sequence"])

	// 原 2 号及之后整体后移
	get := authedRequest(t, http.MethodGet, "/api/v1/chain", "root", types.RoleAdmin, nil)
	_, getResp := doRequest(t, mux, get)
	assert.Equal(t, []string{"alice", "erin", "bob", "carol"}, memberIDs(t, getResp))
}

func TestHandleCreateCollaboratorRequiresAdmin(t *testing.T) {
	store := setupBackend(t)
	mux := newMux(store)

	req := authedRequest(t, http.MethodPost, "/api/v1/collaborators", "alice", types.RoleCollaborator,
		map[string]any{"display_name": "Erin"})
	w, _ := doRequest(t, mux, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleCreateAdminRejectsPosition(t *testing.T) {
	store := setupBackend(t)
	mux := newMux(store)

	req := authedRequest(t, http.MethodPost, "/api/v1/collaborators", "root", types.RoleAdmin,
		map[string]any{"display_name": "Ops", "role": "admin", "position": 1})
	w, resp := doRequest(t, mux, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
}

func TestHandleListCollaborators(t *testing.T) {
	store := setupBackend(t)
	mux := newMux(store)

	req := authedRequest(t, http.MethodGet, "/api/v1/collaborators", "alice", types.RoleCollaborator, nil)
	w, resp := doRequest(t, mux, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), dataMap(t, resp)["count"])
}

func TestHandleGetCollaboratorNotFound(t *testing.T) {
	store := setupBackend(t)
	mux := newMux(store)

	req := authedRequest(t, http.MethodGet, "/api/v1/collaborators/ghost", "alice", types.RoleCollaborator, nil)
	w, resp := doRequest(t, mux, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrUnknownCollaborator), resp.Error.Code)
}

func TestHandleRenameCollaborator(t *testing.T) {
	store := setupBackend(t)
	mux := newMux(store)

	req := authedRequest(t, http.MethodPatch, "/api/v1/collaborators/bob", "root", types.RoleAdmin,
		map[string]any{"display_name": "Robert"})
	w, resp := doRequest(t, mux, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Robert", data["display_name"])
}

func TestHandleDeleteCollaboratorCompactsChain(t *testing.T) {
	store := setupBackend(t)
	mux := newMux(store)

	req := authedRequest(t, http.MethodDelete, "/api/v1/collaborators/bob", "root", types.RoleAdmin, nil)
	w, _ := doRequest(t, mux, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	get := authedRequest(t, http.MethodGet, "/api/v1/chain", "root", types.RoleAdmin, nil)
	_, getResp := doRequest(t, mux, get)
	assert.Equal(t, []string{"alice", "carol"}, memberIDs(t, getResp))
}

func TestHandleDeleteOwnAccountRefused(t *testing.T) {
	store := setupBackend(t)
	mux := newMux(store)

	req := authedRequest(t, http.MethodDelete, "/api/v1/collaborators/root", "root", types.RoleAdmin, nil)
	w, _ := doRequest(t, mux, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleNextHolder(t *testing.T) {
	store := setupBackend(t)
	mux := newMux(store)

	req := authedRequest(t, http.MethodGet, "/api/v1/collaborators/alice/next", "alice", types.RoleCollaborator, nil)
	w, resp := doRequest(t, mux, req)

	require.Equal(t, http.StatusOK, w.Code)
	data := dataMap(t, resp)
	assert.Equal(t, float64(1), data["rank"])
	assert.Equal(t, "bob", data["next_holder_id"])
	assert.Equal(t, false, data["end_of_chain"])
}

func TestHandleNextHolderAtTail(t *testing.T) {
	store := setupBackend(t)
	mux := newMux(store)

	req := authedRequest(t, http.MethodGet, "/api/v1/collaborators/carol/next", "carol", types.RoleCollaborator, nil)
	w, resp := doRequest(t, mux, req)

	require.Equal(t, http.StatusOK, w.Code)
	data := dataMap(t, resp)
	assert.Equal(t, true, data["end_of_chain"])
	assert.Nil(t, data["next_holder_id"])
}

func TestHandleNextHolderUnranked(t *testing.T) {
	store := setupBackend(t)
	mux := newMux(store)

	req := authedRequest(t, http.MethodGet, "/api/v1/collaborators/dave/next", "dave", types.RoleCollaborator, nil)
	w, resp := doRequest(t, mux, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrUnrankedParticipant), resp.Error.Code)
}
