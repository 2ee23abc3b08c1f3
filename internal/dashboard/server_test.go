package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdvision/people-counter/internal/alert"
	"github.com/crowdvision/people-counter/internal/auth"
	"github.com/crowdvision/people-counter/internal/counter"
	"github.com/crowdvision/people-counter/internal/detect"
	"github.com/crowdvision/people-counter/internal/metrics"
	"github.com/crowdvision/people-counter/internal/pipeline"
	"github.com/crowdvision/people-counter/pkg/types"
)

type idleSource struct{}

func (idleSource) Next(ctx context.Context) (types.Frame, error) {
	<-ctx.Done()
	return types.Frame{}, ctx.Err()
}
func (idleSource) Close() error { return nil }

type fakeDetector struct{ closed bool }

func (d *fakeDetector) Detect(image.Image) ([]types.Detection, error) { return nil, nil }
func (d *fakeDetector) Close() error                                  { d.closed = true; return nil }

type testEnv struct {
	server  *Server
	handler http.Handler
	pipe    *pipeline.Pipeline
	cookie  *http.Cookie

	loadErr error
	loads   int
}

func newTestEnv(t *testing.T, modelNames ...string) *testEnv {
	t.Helper()

	modelDir := t.TempDir()
	for _, name := range modelNames {
		require.NoError(t, os.WriteFile(filepath.Join(modelDir, name), []byte("weights"), 0o644))
	}
	registry := detect.NewRegistry(modelDir)
	_, err := registry.Scan()
	require.NoError(t, err)

	m := metrics.New()
	cnt := counter.New(counter.Config{Mode: counter.ModeEagleEye})
	alerts := alert.NewManager(10, nil, 10*time.Second, 16, nil)
	frames := NewFrameBroadcaster(m)
	pipe := pipeline.New(idleSource{}, cnt, alerts, m, nil, frames.Publish)

	env := &testEnv{pipe: pipe}
	loader := func(ref detect.ModelRef) (detect.Detector, error) {
		env.loads++
		if env.loadErr != nil {
			return nil, env.loadErr
		}
		return &fakeDetector{}, nil
	}

	gate := auth.NewGate("operator", auth.HashPassword("letmein"), time.Hour)
	srv := NewServer(Config{
		SnapshotDir:    filepath.Join(t.TempDir(), "snaps"),
		StatusInterval: time.Hour, // keep the broadcaster quiet during tests
	}, gate, pipe, registry, loader, frames, m)
	t.Cleanup(srv.Close)

	env.server = srv
	env.handler = srv.Handler()
	env.login(t)
	return env
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": "operator", "password": "letmein"})
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookie {
			e.cookie = c
		}
	}
	require.NotNil(t, e.cookie, "login did not set a session cookie")
}

func (e *testEnv) request(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(map[string]string{"username": "operator", "password": "wrong"})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", decodeBody(t, rec)["error"])
	assert.Empty(t, rec.Result().Cookies())
}

func TestProtectedEndpointsRequireSession(t *testing.T) {
	env := newTestEnv(t)
	env.cookie = nil

	for _, path := range []string{"/api/status", "/api/models", "/stream", "/api/snapshot/status"} {
		rec := env.request(http.MethodGet, path, nil)
		assert.Equalf(t, http.StatusUnauthorized, rec.Code, "path %s", path)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestModelsListing(t *testing.T) {
	env := newTestEnv(t, "yolov8n.onnx", "yolov8n.pt")

	rec := env.request(http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeBody(t, rec)
	assert.Equal(t, []any{"yolov8n.onnx", "yolov8n.pt"}, payload["models"])
	assert.Equal(t, "", payload["current"])
}

func TestModelSelect(t *testing.T) {
	env := newTestEnv(t, "yolov8n.onnx")

	rec := env.request(http.MethodPost, "/api/models/select", map[string]string{"name": "yolov8n.onnx"})
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeBody(t, rec)
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, "yolov8n.onnx", payload["model"])
	assert.Equal(t, "yolov8n.onnx", env.pipe.CurrentModel())
	assert.Equal(t, 1, env.loads)
}

func TestModelSelectUnknown(t *testing.T) {
	env := newTestEnv(t, "yolov8n.onnx")

	rec := env.request(http.MethodPost, "/api/models/select", map[string]string{"name": "missing.onnx"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, env.loads)
}

func TestModelSelectLoadFailureKeepsCurrent(t *testing.T) {
	env := newTestEnv(t, "good.onnx", "legacy.pt")

	rec := env.request(http.MethodPost, "/api/models/select", map[string]string{"name": "good.onnx"})
	require.Equal(t, http.StatusOK, rec.Code)

	env.loadErr = &detect.LoadError{Name: "legacy.pt", Err: detect.ErrUnsupportedFormat}
	rec = env.request(http.MethodPost, "/api/models/select", map[string]string{"name": "legacy.pt"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	payload := decodeBody(t, rec)
	assert.Contains(t, payload["error"], "legacy.pt")
	// The previously selected model stays active.
	assert.Equal(t, "good.onnx", payload["current"])
	assert.Equal(t, "good.onnx", env.pipe.CurrentModel())
}

func TestModeEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/mode", map[string]any{"mode": "lane", "lanes": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lane", env.pipe.Status().Mode)
	assert.Equal(t, 3, env.pipe.Status().Lanes)

	rec = env.request(http.MethodPost, "/api/mode", map[string]any{"mode": "birdseye"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(http.MethodPost, "/api/mode", map[string]any{"mode": "lane", "lanes": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCountsReset(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/counts/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(http.MethodGet, "/api/counts/reset", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusPayloadShape(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeBody(t, rec)
	for _, key := range []string{"model", "model_loaded", "mode", "lanes", "capacity", "frames_processed", "counts", "active_alerts", "alert_history", "timestamp"} {
		assert.Containsf(t, payload, key, "missing key %s", key)
	}
	assert.Equal(t, false, payload["model_loaded"])
	assert.Equal(t, "eagle-eye", payload["mode"])
}

func TestSnapshotWithoutFrame(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/snapshot", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no frame available", decodeBody(t, rec)["error"])
}

func TestSnapshotStatusShape(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/snapshot/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeBody(t, rec)
	assert.EqualValues(t, 0, payload["count"])
	assert.EqualValues(t, 0, payload["bytes_written"])
	assert.NotContains(t, payload, "last_file")
}

func TestIndexServesDashboardPage(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "People Counter")
}

func TestSnapshotterSavesFrames(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snaps")
	s := NewSnapshotter(dir)

	name, err := s.Save([]byte{0xff, 0xd8, 0x01, 0x02})
	require.NoError(t, err)
	assert.Contains(t, name, "snapshot_")

	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Len(t, data, 4)

	status := s.Status()
	assert.EqualValues(t, 1, status["count"])
	assert.EqualValues(t, 4, status["bytes_written"])
	assert.Equal(t, name, status["last_file"])

	_, err = s.Save(nil)
	assert.Error(t, err)
}

func TestFrameBroadcasterDropsSlowClients(t *testing.T) {
	m := metrics.New()
	fb := NewFrameBroadcaster(m)

	id, ch := fb.Subscribe()
	defer fb.Unsubscribe(id)
	assert.EqualValues(t, 1, m.StreamClients.Load())

	// The per-client buffer holds 2 frames; further publishes drop.
	for i := 0; i < 5; i++ {
		fb.Publish([]byte{byte(i)})
	}
	assert.EqualValues(t, 3, m.FramesDropped.Load())

	frame := <-ch
	assert.Equal(t, []byte{0}, frame)
}

func TestFrameBroadcasterUnsubscribeCloses(t *testing.T) {
	fb := NewFrameBroadcaster(nil)
	id, ch := fb.Subscribe()
	fb.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after the last client left is a no-op.
	fb.Publish([]byte{1})
}

func TestStatusBroadcasterDeliversJSON(t *testing.T) {
	sb := NewStatusBroadcaster(func() pipeline.Status {
		return pipeline.Status{Mode: "eagle-eye", Capacity: 10}
	}, 10*time.Millisecond)
	sb.Start()
	defer sb.Stop()

	id, ch := sb.Subscribe()
	defer sb.Unsubscribe(id)

	select {
	case data := <-ch:
		var st pipeline.Status
		require.NoError(t, json.Unmarshal(data, &st))
		assert.Equal(t, "eagle-eye", st.Mode)
		assert.Equal(t, 10, st.Capacity)
	case <-time.After(2 * time.Second):
		t.Fatal("no status event delivered")
	}
}

func TestBlankJPEGIsValid(t *testing.T) {
	data := blankJPEG(320, 240)
	require.NotEmpty(t, data)
	assert.Equal(t, []byte{0xff, 0xd8}, data[:2])
}
