package server

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devrev/datapond/internal/errors"
	"github.com/devrev/datapond/internal/gateway/config"
	"github.com/devrev/datapond/internal/model"
	"github.com/devrev/datapond/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const pageSize = 4

type fakeController struct {
	mu       sync.Mutex
	files    map[string]client.File
	content  map[string][]byte
	checkErr error
	keys     []string
}

func newFakeController() *fakeController {
	return &fakeController{files: make(map[string]client.File), content: make(map[string][]byte)}
}

func (f *fakeController) Upload(ctx context.Context, file client.File, r io.Reader) (*model.FileResponse, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[file.ID]; ok {
		return nil, errors.UploadFailed("shard-1", errors.Conflict("file already exists"))
	}
	f.files[file.ID] = file
	f.content[file.ID] = data
	f.keys = append(f.keys, file.IdempotencyKey)
	return &model.FileResponse{ID: file.ID, Name: file.Name, ShardID: "shard-1"}, nil
}

func (f *fakeController) Chunk(ctx context.Context, userID, fileID, shardID string, n uint64) (*model.FileChunkResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if shardID != "shard-1" {
		return nil, errors.ShardNotFound(shardID)
	}
	data, ok := f.content[fileID]
	if !ok {
		return nil, errors.NotKnown("failed to get file", errors.FileNotFound(fileID))
	}
	start := int(n) * pageSize
	if start > len(data) {
		start = len(data)
	}
	end := start + pageSize
	if end > len(data) {
		end = len(data)
	}
	return &model.FileChunkResponse{
		ID:      fileID,
		Name:    f.files[fileID].Name,
		Chunk:   data[start:end],
		HasNext: end < len(data),
	}, nil
}

func (f *fakeController) UserShards(ctx context.Context, userID string) (*model.UserRecord, error) {
	if userID != "alice" {
		return nil, errors.UserNotFound(userID)
	}
	return &model.UserRecord{UserID: userID, ShardIDs: []string{"shard-1", "shard-2"}, FullShardIDs: []string{"shard-1"}}, nil
}

func (f *fakeController) Check(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkErr
}

func (f *fakeController) setCheckErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkErr = err
}

func (f *fakeController) file(id string) client.File {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[id]
}

func (f *fakeController) idempotencyKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:           0,
			ReadTimeout:    time.Second,
			WriteTimeout:   time.Second,
			IdleTimeout:    time.Second,
			MaxUploadBytes: 64,
		},
		Controller: config.ControllerConfig{Timeout: time.Second},
		CORS:       config.CORSConfig{AllowedOrigins: []string{"*"}},
		Metrics:    config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestServer(t *testing.T, fc *fakeController) *httptest.Server {
	t.Helper()
	s := NewServer(testConfig(), fc, prometheus.NewRegistry(), zap.NewNop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestUploadThenDownload(t *testing.T) {
	fc := newFakeController()
	ts := newTestServer(t, fc)

	resp := do(t, http.MethodPut, ts.URL+"/v1/users/alice/files/f1", strings.NewReader("hello world"), map[string]string{
		"X-File-Name":     "greeting.txt",
		"Idempotency-Key": "k1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created model.FileResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, model.FileResponse{ID: "f1", Name: "greeting.txt", ShardID: "shard-1"}, created)
	assert.Equal(t, []string{"k1"}, fc.idempotencyKeys())
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = do(t, http.MethodGet, ts.URL+"/v1/users/alice/files/f1?shard_id=shard-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "greeting.txt", resp.Header.Get("X-File-Name"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestUploadNameDefaultsToFileID(t *testing.T) {
	fc := newFakeController()
	ts := newTestServer(t, fc)

	resp := do(t, http.MethodPut, ts.URL+"/v1/users/alice/files/report", strings.NewReader("x"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "report", fc.file("report").Name)
	assert.Equal(t, int64(1), fc.file("report").Size)
}

func TestUploadConflictMapsToBadGateway(t *testing.T) {
	fc := newFakeController()
	ts := newTestServer(t, fc)

	do(t, http.MethodPut, ts.URL+"/v1/users/alice/files/f1", strings.NewReader("a"), nil)
	resp := do(t, http.MethodPut, ts.URL+"/v1/users/alice/files/f1", strings.NewReader("b"), nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decodeError(t, resp)
	assert.Equal(t, "UPLOAD_FAILED", body["error_code"])
	assert.Equal(t, "failed to upload file: file already exists", body["message"])
}

func TestUploadTooLarge(t *testing.T) {
	ts := newTestServer(t, newFakeController())

	resp := do(t, http.MethodPut, ts.URL+"/v1/users/alice/files/big", bytes.NewReader(make([]byte, 65)), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", decodeError(t, resp)["error_code"])
}

func TestDownloadErrors(t *testing.T) {
	ts := newTestServer(t, newFakeController())

	resp := do(t, http.MethodGet, ts.URL+"/v1/users/alice/files/f1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/v1/users/alice/files/f1?shard_id=shard-9", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decodeError(t, resp)["error_code"])

	resp = do(t, http.MethodGet, ts.URL+"/v1/users/alice/files/missing?shard_id=shard-1", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "failed to get file: could not find file with given id=missing", decodeError(t, resp)["message"])
}

func TestReadChunk(t *testing.T) {
	fc := newFakeController()
	ts := newTestServer(t, fc)
	do(t, http.MethodPut, ts.URL+"/v1/users/alice/files/f1", strings.NewReader("abcdefg"), nil)

	resp := do(t, http.MethodGet, ts.URL+"/v1/users/alice/files/f1/chunks/1?shard_id=shard-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chunk model.FileChunkResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chunk))
	assert.Equal(t, []byte("efg"), chunk.Chunk)
	assert.False(t, chunk.HasNext)

	resp = do(t, http.MethodGet, ts.URL+"/v1/users/alice/files/f1/chunks/x?shard_id=shard-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUserShards(t *testing.T) {
	ts := newTestServer(t, newFakeController())

	resp := do(t, http.MethodGet, ts.URL+"/v1/users/alice/shards", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body shardsBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"shard-1", "shard-2"}, body.ShardIDs)
	assert.Equal(t, []string{"shard-1"}, body.FullShardIDs)

	resp = do(t, http.MethodGet, ts.URL+"/v1/users/bob/shards", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type shardsBody struct {
	ShardIDs     []string `json:"shard_ids"`
	FullShardIDs []string `json:"full_shard_ids"`
}

func TestHealthAndReadiness(t *testing.T) {
	fc := newFakeController()
	ts := newTestServer(t, fc)

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/health", nil, nil).StatusCode)
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/ready", nil, nil).StatusCode)

	fc.setCheckErr(stderrors.New("connection refused"))
	assert.Equal(t, http.StatusServiceUnavailable, do(t, http.MethodGet, ts.URL+"/ready", nil, nil).StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, newFakeController())
	do(t, http.MethodGet, ts.URL+"/v1/users/alice/shards", nil, nil)

	resp := do(t, http.MethodGet, ts.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `route="/v1/users/{user_id}/shards"`)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	ts := newTestServer(t, newFakeController())

	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/v2/nothing", nil, nil).StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, http.MethodDelete, ts.URL+"/v1/users/alice/files/f1", nil, nil).StatusCode)
}
