package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medianalyst/internal/analyst"
	"medianalyst/internal/gateway/handler"
	"medianalyst/internal/gateway/middleware"
	"medianalyst/internal/gateway/repository/artifact"
	"medianalyst/internal/gateway/repository/history"
	"medianalyst/internal/gateway/session"
	"medianalyst/internal/llm"
	"medianalyst/internal/pipeline"
)

type testEnv struct {
	srv       *httptest.Server
	fake      *llm.FakeClient
	history   *history.Store
	artifacts *artifact.MemoryStore
	reg       *prometheus.Registry
	chats     *gatedChats
}

// gatedChats holds every Send until the gate is closed, when one is set.
type gatedChats struct {
	inner llm.ChatStarter
	mu    sync.Mutex
	gate  chan struct{}
}

func (g *gatedChats) setGate(c chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate = c
}

func (g *gatedChats) StartChat(ctx context.Context, instruction string) (llm.ChatSession, error) {
	s, err := g.inner.StartChat(ctx, instruction)
	if err != nil {
		return nil, err
	}
	return gatedSession{next: s, parent: g}, nil
}

type gatedSession struct {
	next   llm.ChatSession
	parent *gatedChats
}

func (s gatedSession) Send(ctx context.Context, text string) (string, error) {
	s.parent.mu.Lock()
	gate := s.parent.gate
	s.parent.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.next.Send(ctx, text)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fake := llm.NewFakeClient()
	chats := &gatedChats{inner: fake}
	svc := analyst.New(analyst.Deps{Search: fake, Analysis: fake, Images: fake, Chats: chats})
	store := history.New(history.NewMemoryBackend(), nil)
	reg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(reg)
	runs, err := session.NewRegistry(session.Options{OnSize: metrics.SetActiveRuns})
	require.NoError(t, err)
	arts := artifact.NewMemoryStore()

	h := handler.New(handler.Deps{
		Engine:    pipeline.NewEngine(svc, store, pipeline.WithObserver(metrics)),
		Runs:      runs,
		History:   store,
		Artifacts: arts,
		Images:    svc,
		Now:       func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) },
	})
	srv := httptest.NewServer(NewRouter(RouterDeps{Handler: h, Metrics: metrics, Gatherer: reg}))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, fake: fake, history: store, artifacts: arts, reg: reg, chats: chats}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	} else {
		out["body"] = string(raw)
	}
	return resp, out
}

func (e *testEnv) chattingRun(t *testing.T) string {
	t.Helper()
	resp, run := e.do(t, http.MethodPost, "/api/runs", map[string]string{"brand": "示例品牌", "product": "示例感冒颗粒"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := run["id"].(string)
	resp, _ = e.do(t, http.MethodPost, "/api/runs/"+id+"/confirm-product", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPost, "/api/runs/"+id+"/confirm-report", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return id
}

func TestFullFlowOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	resp, run := e.do(t, http.MethodPost, "/api/runs", map[string]string{"brand": "示例品牌", "product": "示例感冒颗粒"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "review_product", run["step"])
	id := run["id"].(string)

	resp, run = e.do(t, http.MethodPatch, "/api/runs/"+id+"/product", map[string]string{"origin": "进口"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "进口", run["product"].(map[string]any)["origin"])

	resp, run = e.do(t, http.MethodPost, "/api/runs/"+id+"/confirm-product", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "review_report", run["step"])
	assert.NotNil(t, run["pharmacology"])

	resp, run = e.do(t, http.MethodPost, "/api/runs/"+id+"/confirm-report", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "chatting", run["step"])
	assert.NotEmpty(t, run["historyId"])

	resp, out := e.do(t, http.MethodPost, "/api/runs/"+id+"/chat", map[string]string{"message": "孕妇能用吗"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "model", out["reply"].(map[string]any)["role"])
	assert.Contains(t, out["reply"].(map[string]any)["content"], "孕妇能用吗")

	resp, out = e.do(t, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["items"], 1)

	resp, run = e.do(t, http.MethodPost, "/api/runs/"+id+"/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", run["step"])
}

func TestCreateRunValidation(t *testing.T) {
	e := newTestEnv(t)

	resp, out := e.do(t, http.MethodPost, "/api/runs", map[string]string{"brand": " ", "product": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Nil(t, out["run"])

	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/api/runs", strings.NewReader("{"))
	r, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestSearchFailureReturnsNoticeAndIdleRun(t *testing.T) {
	e := newTestEnv(t)
	e.fake.Errs[llm.PhaseSearch] = errors.New("upstream down")

	resp, out := e.do(t, http.MethodPost, "/api/runs", map[string]string{"brand": "a", "product": "b"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, pipeline.NoticeSearchFailed, out["notice"])
	run := out["run"].(map[string]any)
	assert.Equal(t, "idle", run["step"])

	delete(e.fake.Errs, llm.PhaseSearch)
	resp, again := e.do(t, http.MethodPost, "/api/runs/"+run["id"].(string)+"/search", map[string]string{"brand": "a", "product": "b"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "review_product", again["step"])
}

func TestErrorStatusMapping(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.do(t, http.MethodGet, "/api/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, run := e.do(t, http.MethodPost, "/api/runs", map[string]string{"brand": "a", "product": "b"})
	id := run["id"].(string)

	resp, _ = e.do(t, http.MethodPost, "/api/runs/"+id+"/confirm-report", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/runs/"+id+"/report", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/api/runs/"+id+"/history/404", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatFailureKeepsSession(t *testing.T) {
	e := newTestEnv(t)
	id := e.chattingRun(t)

	e.fake.ChatErr = errors.New("quota")
	resp, out := e.do(t, http.MethodPost, "/api/runs/"+id+"/chat", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, pipeline.ChatErrorReply, out["reply"].(map[string]any)["content"])

	e.fake.ChatErr = nil
	resp, _ = e.do(t, http.MethodPost, "/api/runs/"+id+"/chat", map[string]string{"message": "again"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, run := e.do(t, http.MethodGet, "/api/runs/"+id, nil)
	assert.Len(t, run["chatHistory"], 5)
}

func TestReportDownloadAndExport(t *testing.T) {
	e := newTestEnv(t)
	id := e.chattingRun(t)

	resp, out := e.do(t, http.MethodGet, "/api/runs/"+id+"/report", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "filename*=utf-8''")
	assert.Contains(t, out["body"], "生成时间: 2024-05-01 09:30:00")

	resp, out = e.do(t, http.MethodPost, "/api/runs/"+id+"/report/export", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "示例品牌_示例感冒颗粒_解读报告.html", out["fileName"])
	key := out["key"].(string)
	assert.Equal(t, "/api/artifacts/"+key, out["url"])

	stored, err := e.artifacts.Get(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, artifact.ContentTypeHTML, stored.ContentType)

	_, listed := e.do(t, http.MethodGet, "/api/artifacts?prefix=reports/"+id, nil)
	assert.Len(t, listed["keys"], 2)
}

func TestLoadHistoryIntoFreshRun(t *testing.T) {
	e := newTestEnv(t)
	id := e.chattingRun(t)
	_, first := e.do(t, http.MethodGet, "/api/runs/"+id, nil)
	historyID := first["historyId"].(string)

	_, fresh := e.do(t, http.MethodPost, "/api/runs", map[string]string{"brand": "x", "product": "y"})
	resp, loaded := e.do(t, http.MethodPost, "/api/runs/"+fresh["id"].(string)+"/history/"+historyID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "chatting", loaded["step"])
	assert.Equal(t, first["product"], loaded["product"])
	assert.Equal(t, first["pathology"], loaded["pathology"])
}

func TestSaveHistoryMidChat(t *testing.T) {
	e := newTestEnv(t)
	id := e.chattingRun(t)
	resp, _ := e.do(t, http.MethodPost, "/api/runs/"+id+"/chat", map[string]string{"message": "饭前还是饭后"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out := e.do(t, http.MethodPost, "/api/runs/"+id+"/history", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rec := out["record"].(map[string]any)
	run := out["run"].(map[string]any)
	assert.Len(t, rec["chatHistory"], 3)
	assert.Equal(t, rec["id"], run["historyId"])
	assert.Equal(t, pipeline.NoticeSaved, run["notice"])

	_, listed := e.do(t, http.MethodGet, "/api/history", nil)
	assert.Len(t, listed["items"], 2)

	_, fresh := e.do(t, http.MethodPost, "/api/runs", map[string]string{"brand": "x", "product": "y"})
	resp, loaded := e.do(t, http.MethodPost, "/api/runs/"+fresh["id"].(string)+"/history/"+rec["id"].(string), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, loaded["chatHistory"], 3)

	resp, _ = e.do(t, http.MethodPost, "/api/runs/"+fresh["id"].(string)+"/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPost, "/api/runs/"+fresh["id"].(string)+"/history", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func multipartImage(t *testing.T, prompt string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if prompt != "" {
		require.NoError(t, mw.WriteField("prompt", prompt))
	}
	if data != nil {
		fw, err := mw.CreateFormFile("image", "pill.png")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestEditImage(t *testing.T) {
	e := newTestEnv(t)
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

	body, ct := multipartImage(t, "去掉背景", png)
	resp, err := http.Post(e.srv.URL+"/api/images/edit", ct, body)
	require.NoError(t, err)
	got, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, png, got)
	key := resp.Header.Get("X-Artifact-Key")
	require.NotEmpty(t, key)
	_, err = e.artifacts.Get(t.Context(), key)
	assert.NoError(t, err)

	body, ct = multipartImage(t, "", png)
	resp, err = http.Post(e.srv.URL+"/api/images/edit", ct, body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	e.fake.ImageErr = errors.New("no image")
	body, ct = multipartImage(t, "重绘", png)
	resp, err = http.Post(e.srv.URL+"/api/images/edit", ct, body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestChatWebSocket(t *testing.T) {
	e := newTestEnv(t)
	id := e.chattingRun(t)

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/runs/" + id + "/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "history", frame["type"])
	assert.Len(t, frame["messages"], 1)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	frame = map[string]any{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "pong", frame["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "send", "message": "一天几次"}))
	frame = map[string]any{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "message", frame["type"])
	assert.Contains(t, frame["message"].(map[string]any)["content"], "一天几次")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "send", "message": " "}))
	frame = map[string]any{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "invalid_argument", frame["code"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))
	frame = map[string]any{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame["type"])
}

func TestChatWebSocketReadsWhileReplyPending(t *testing.T) {
	e := newTestEnv(t)
	id := e.chattingRun(t)

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/runs/" + id + "/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	read := func() map[string]any {
		frame := map[string]any{}
		require.NoError(t, conn.ReadJSON(&frame))
		return frame
	}
	assert.Equal(t, "history", read()["type"])

	gate := make(chan struct{})
	e.chats.setGate(gate)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "send", "message": "慢一点"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", read()["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "send", "message": "再问"}))
	frame := read()
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "busy", frame["code"])

	close(gate)
	frame = read()
	assert.Equal(t, "message", frame["type"])
	assert.Contains(t, frame["message"].(map[string]any)["content"], "慢一点")

	_, run := e.do(t, http.MethodGet, "/api/runs/"+id, nil)
	assert.Len(t, run["chatHistory"], 3)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)
	e.chattingRun(t)

	resp, out := e.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])

	resp, out = e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := out["body"].(string)
	assert.Contains(t, body, `pipeline_step_total{outcome="ok",step="analyzing_pharmacology"} 1`)
	assert.Contains(t, body, `path="/api/runs/{runID}/confirm-product"`)
	assert.Contains(t, body, "pipeline_runs_active 1")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, handler.StatusFor(pipeline.ErrBusy))
	assert.Equal(t, http.StatusBadGateway, handler.StatusFor(&pipeline.StepError{Step: pipeline.StepSearching, Kind: pipeline.ErrSearchFailed, Err: errors.New("x")}))
	assert.Equal(t, http.StatusInternalServerError, handler.StatusFor(errors.New("other")))
}
