package httperr

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrev/datapond/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   ErrorCode
	}{
		{errors.Unauthorized("no"), http.StatusForbidden, ErrorCodeForbidden},
		{errors.UserNotFound("alice"), http.StatusNotFound, ErrorCodeNotFound},
		{errors.Conflict("dup"), http.StatusConflict, ErrorCodeConflict},
		{errors.InvalidPayload("bad"), http.StatusBadRequest, ErrorCodeInvalidRequest},
		{errors.UploadFailed("s1", errors.Conflict("gap")), http.StatusBadGateway, ErrorCodeUploadFailed},
		{errors.NotKnown("down", nil), http.StatusInternalServerError, ErrorCodeInternalError},
		{stderrors.New("plain"), http.StatusInternalServerError, ErrorCodeInternalError},
	}
	for _, tc := range cases {
		status, code := Classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestHandleErrorIncludesDownstreamMessage(t *testing.T) {
	h := NewHandler(zap.NewNop())
	rec := httptest.NewRecorder()

	h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil),
		errors.UploadFailed("s1", errors.Conflict("out of order chunk")))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, ErrorCodeUploadFailed, body.ErrorCode)
	assert.Equal(t, "failed to upload file: out of order chunk", body.Message)
}
