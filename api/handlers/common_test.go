package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskrelay/taskrelay/types"
)

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	cases := map[types.ErrorCode]int{
		types.ErrInvalidRequest:         http.StatusBadRequest,
		types.ErrInvalidReorder:         http.StatusBadRequest,
		types.ErrDuplicateInsert:        http.StatusBadRequest,
		types.ErrUnauthorized:           http.StatusUnauthorized,
		types.ErrForbiddenActor:         http.StatusForbidden,
		types.ErrUnknownCollaborator:    http.StatusNotFound,
		types.ErrConcurrentModification: http.StatusConflict,
		types.ErrNotNextInSequence:      http.StatusUnprocessableEntity,
		types.ErrTaskAlreadyCompleted:   http.StatusUnprocessableEntity,
		types.ErrInternalError:          http.StatusInternalServerError,
		types.ErrorCode("SOMETHING"):    http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, mapErrorCodeToHTTPStatus(code), string(code))
	}
}

func TestWriteErrorUsesExplicitStatus(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.NewError(types.ErrNotFound, "gone").WithHTTPStatus(http.StatusGone)
	WriteError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusGone, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"x","bogus":1}`))
	w := httptest.NewRecorder()

	var dst struct {
		Title string `json:"title"`
	}
	err := DecodeJSONBody(w, req, &dst, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK) // 第二次写入被忽略
	_, err := rw.Write([]byte("x"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusTeapot, rw.StatusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
