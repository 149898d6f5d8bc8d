package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/monihub/monihub/internal/config"
	"github.com/monihub/monihub/internal/infrastructure/db"
	"github.com/monihub/monihub/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testAdminKey = "test-admin-key"

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.RunMigrations(database))

	app := fiber.New()
	SetupRoutes(app, RouterConfig{
		DB:     database,
		Logger: logger.NewNop(),
		Config: &config.Config{
			Auth:  config.AuthConfig{AdminAPIKey: testAdminKey},
			Files: config.FilesConfig{UploadDir: t.TempDir()},
		},
	})
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload interface{}, admin bool) (*http.Response, map[string]interface{}) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("X-Admin-Token", testAdminKey)
	}

	resp, err := app.Test(req, 10000)
	require.NoError(t, err)

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", string(raw))
	}
	return resp, decoded
}

func createInstance(t *testing.T, app *fiber.App, name string) (uint, string) {
	t.Helper()
	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/instances", map[string]string{"name": name}, true)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	id := uint(body["id"].(float64))
	return id, body["agent_instance_id"].(string)
}

func TestAdminAuthGuardsOperatorRoutes(t *testing.T) {
	app := newTestApp(t)

	resp, _ := doJSON(t, app, fiber.MethodGet, "/api/v1/instances", nil, false)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/instances", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	resp2, err := app.Test(req, 10000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp2.StatusCode)
}

func TestReportEndpoint(t *testing.T) {
	app := newTestApp(t)
	instanceID, agentID := createInstance(t, app, "web-1")

	resp, _ := doJSON(t, app, fiber.MethodPost, "/api/open/instances/report", map[string]interface{}{
		"instance_id": "no-such-agent",
	}, false)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/api/open/instances/report", map[string]interface{}{
		"instance_id":      agentID,
		"report_timestamp": "yesterday at noon",
	}, false)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/open/instances/report", map[string]interface{}{
		"instance_id":      agentID,
		"agent_type":       "monihub-agent",
		"agent_version":    "0.1.0",
		"system_info":      map[string]interface{}{"hostname": "web-1.internal"},
		"report_timestamp": time.Now().UTC().Format(time.RFC3339),
	}, false)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
	assert.NotZero(t, body["record_id"])

	resp, body = doJSON(t, app, fiber.MethodGet, fmt.Sprintf("/api/v1/instances/%d", instanceID), nil, true)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "online", body["online_status"])
	assert.Equal(t, "web-1.internal", body["hostname"])
}

func TestTaskDispatchAndResultFlow(t *testing.T) {
	app := newTestApp(t)
	instanceID, agentID := createInstance(t, app, "web-1")

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"task_type":        "shell_exec",
		"task_content":     map[string]interface{}{"script": "echo hi"},
		"target_instances": []uint{instanceID},
		"timeout_seconds":  5,
	}, true)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	records := body["records"].([]interface{})
	require.Len(t, records, 1)
	recordID := uint(records[0].(map[string]interface{})["id"].(float64))

	resp, _ = doJSON(t, app, fiber.MethodGet, "/api/open/instances/tasks?agent_instance_id=unknown", nil, false)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, app, fiber.MethodGet, "/api/open/instances/tasks?agent_instance_id="+agentID+"&wait=false", nil, false)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	tasks := body["tasks"].([]interface{})
	require.Len(t, tasks, 1)
	item := tasks[0].(map[string]interface{})
	assert.Equal(t, "shell_exec", item["task_type"])
	assert.Equal(t, float64(recordID), item["record_id"])

	now := time.Now().UTC()
	result := map[string]interface{}{
		"record_id":   recordID,
		"instance_id": agentID,
		"status":      "success",
		"result_data": map[string]interface{}{"output": "hi\n", "status": 0},
		"start_time":  now.Add(-time.Second).Format(time.RFC3339),
		"end_time":    now.Format(time.RFC3339),
		"duration_ms": 1000,
	}

	bad := map[string]interface{}{}
	for k, v := range result {
		bad[k] = v
	}
	bad["status"] = "exploded"
	resp, _ = doJSON(t, app, fiber.MethodPost, "/api/open/instances/tasks/result", bad, false)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	bad["status"] = "success"
	bad["start_time"] = "not-a-time"
	resp, _ = doJSON(t, app, fiber.MethodPost, "/api/open/instances/tasks/result", bad, false)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/api/open/instances/tasks/result", result, false)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	// A terminal record is no longer offered.
	resp, body = doJSON(t, app, fiber.MethodGet, "/api/open/instances/tasks?agent_instance_id="+agentID+"&wait=false", nil, false)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, body["tasks"])
}

func TestSubmitResultWrongInstanceIsRejected(t *testing.T) {
	app := newTestApp(t)
	instanceID, _ := createInstance(t, app, "web-1")
	_, otherAgentID := createInstance(t, app, "web-2")

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"task_type":        "shell_exec",
		"task_content":     map[string]interface{}{"script": "true"},
		"target_instances": []uint{instanceID},
	}, true)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	recordID := body["records"].([]interface{})[0].(map[string]interface{})["id"].(float64)

	now := time.Now().UTC().Format(time.RFC3339)
	resp, _ = doJSON(t, app, fiber.MethodPost, "/api/open/instances/tasks/result", map[string]interface{}{
		"record_id":   recordID,
		"instance_id": otherAgentID,
		"status":      "success",
		"start_time":  now,
		"end_time":    now,
	}, false)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRetryAndCancelEndpoints(t *testing.T) {
	app := newTestApp(t)
	instanceID, agentID := createInstance(t, app, "web-1")

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"task_type":        "shell_exec",
		"task_content":     map[string]interface{}{"script": "false"},
		"target_instances": []uint{instanceID},
	}, true)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	recordID := int(body["records"].([]interface{})[0].(map[string]interface{})["id"].(float64))

	// Retry before any failure is rejected.
	resp, _ = doJSON(t, app, fiber.MethodPost, fmt.Sprintf("/api/v1/tasks/records/%d/retry", recordID), nil, true)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	now := time.Now().UTC().Format(time.RFC3339)
	resp, _ = doJSON(t, app, fiber.MethodPost, "/api/open/instances/tasks/result", map[string]interface{}{
		"record_id":     recordID,
		"instance_id":   agentID,
		"status":        "failed",
		"error_message": "exit status 1",
		"start_time":    now,
		"end_time":      now,
	}, false)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, app, fiber.MethodPost, fmt.Sprintf("/api/v1/tasks/records/%d/retry", recordID), nil, true)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "dispatched", body["status"])
	assert.Equal(t, float64(1), body["retry_attempt"])

	resp, body = doJSON(t, app, fiber.MethodPost, fmt.Sprintf("/api/v1/tasks/records/%d/cancel", recordID), nil, true)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["status"])

	resp, _ = doJSON(t, app, fiber.MethodPost, fmt.Sprintf("/api/v1/tasks/records/%d/cancel", recordID), nil, true)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/api/v1/tasks/records/99999/retry", nil, true)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDeleteTaskEndpoint(t *testing.T) {
	app := newTestApp(t)
	instanceID, agentID := createInstance(t, app, "web-1")

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"task_type":        "shell_exec",
		"task_content":     map[string]interface{}{"script": "echo hi"},
		"target_instances": []uint{instanceID},
	}, true)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	taskID := int(body["task"].(map[string]interface{})["id"].(float64))

	resp, _ = doJSON(t, app, fiber.MethodDelete, fmt.Sprintf("/api/v1/tasks/%d", taskID), nil, true)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Deleted tasks stay resolvable for record forensics.
	resp, _ = doJSON(t, app, fiber.MethodGet, fmt.Sprintf("/api/v1/tasks/%d", taskID), nil, true)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Their records are never handed out.
	resp, body = doJSON(t, app, fiber.MethodGet, "/api/open/instances/tasks?agent_instance_id="+agentID+"&wait=false", nil, false)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, body["tasks"])

	resp, _ = doJSON(t, app, fiber.MethodDelete, "/api/v1/tasks/99999", nil, true)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestChunkedUploadRoundTrip(t *testing.T) {
	app := newTestApp(t)

	resp, body := doJSON(t, app, fiber.MethodPost, "/api/files/upload/init", map[string]string{"filename": "payload.bin"}, false)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	uploadID := body["upload_id"].(string)
	require.NotEmpty(t, uploadID)

	chunks := [][]byte{
		bytes.Repeat([]byte{0x01}, 2048),
		bytes.Repeat([]byte{0x02}, 100),
	}
	for i, chunk := range chunks {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		require.NoError(t, writer.WriteField("upload_id", uploadID))
		require.NoError(t, writer.WriteField("chunk_index", strconv.Itoa(i)))
		part, err := writer.CreateFormFile("chunk", "chunk")
		require.NoError(t, err)
		_, err = part.Write(chunk)
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(fiber.MethodPost, "/api/files/upload/chunk", &buf)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		chunkResp, err := app.Test(req, 10000)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, chunkResp.StatusCode)
	}

	resp, body = doJSON(t, app, fiber.MethodPost, "/api/files/upload/complete", map[string]string{"upload_id": uploadID}, false)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	data, err := os.ReadFile(body["path"].(string))
	require.NoError(t, err)
	assert.Equal(t, bytes.Join(chunks, nil), data)
}
