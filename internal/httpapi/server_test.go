package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"upscaled/internal/inference"
	"upscaled/pkg/types"
)

type mockService struct {
	models  []types.Model
	status  types.StatusResponse
	ready   bool
	reply   inference.Reply
	err     error
	block   bool
	got     types.InvocationRequest
	invoked int
}

func (m *mockService) ListModels() []types.Model    { return append([]types.Model(nil), m.models...) }
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }
func (m *mockService) Invoke(ctx context.Context, req types.InvocationRequest) (inference.Reply, error) {
	m.invoked++
	m.got = req
	if m.block {
		<-ctx.Done()
		return inference.Reply{}, ctx.Err()
	}
	return m.reply, m.err
}

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

func postInvocation(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestModelsHandler(t *testing.T) {
	svc := &mockService{models: []types.Model{{ID: "realesrgan_x4plus"}, {ID: "gfpganv1.3"}}}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	var body types.ModelsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body.Models) != 2 {
		t.Fatalf("models len=%d", len(body.Models))
	}
}

func TestStatusHandler(t *testing.T) {
	svc := &mockService{status: types.StatusResponse{State: "ready", BatchSize: 8}}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.State != "ready" || body.BatchSize != 8 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestPingAndReadyz(t *testing.T) {
	for _, path := range []string{"/ping", "/readyz"} {
		svc := &mockService{ready: false}
		h := NewMux(svc)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s cold: status=%d", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), "loading") {
			t.Fatalf("%s body=%q", path, w.Body.String())
		}
		svc.ready = true
		w = httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s warm: status=%d", path, w.Code)
		}
	}
}

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestInvocations_Single(t *testing.T) {
	svc := &mockService{ready: true, reply: inference.Reply{
		Status: http.StatusOK,
		Body:   &types.ItemResponse{Status: 200, OutputFilePath: "s3://b/out.png", JobID: "7", BatchID: "1"},
	}}
	w := postInvocation(NewMux(svc), `{"input_file_path":"s3://b/in.png","job_id":7,"batch_id":1,"face_enhanced":"no"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if svc.got.JobID != "7" || svc.got.BatchID != "1" || svc.got.IsBatch() {
		t.Fatalf("request not decoded: %+v", svc.got)
	}
	var body types.ItemResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.OutputFilePath != "s3://b/out.png" || body.JobID != "7" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestInvocations_SingleFailureMirrorsStatus(t *testing.T) {
	svc := &mockService{ready: true, reply: inference.Reply{
		Status: http.StatusInternalServerError,
		Body:   &types.ItemResponse{Status: 500, Error: "boom", ErrorKind: "decode"},
	}}
	w := postInvocation(NewMux(svc), `{"input_file_path":"/tmp/x.png"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"error_kind":"decode"`) {
		t.Fatalf("body=%s", w.Body.String())
	}
}

func TestInvocations_Batch(t *testing.T) {
	svc := &mockService{ready: true, reply: inference.Reply{
		Status: http.StatusOK,
		Body: &types.BatchResponse{Status: 200, JobID: "j", TotalProcessed: 2, BatchResults: []types.ItemResponse{
			{Status: 200, BatchID: "0"}, {Status: 500, BatchID: "1", Error: "x"},
		}},
	}}
	w := postInvocation(NewMux(svc), `{"job_id":"j","batch":[{"input_file_path":"a.png"},{"input_file_path":"b.png"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if !svc.got.IsBatch() || len(svc.got.Batch) != 2 {
		t.Fatalf("batch not decoded: %+v", svc.got)
	}
	var body types.BatchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.TotalProcessed != 2 || len(body.BatchResults) != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestInvocations_ContentType(t *testing.T) {
	svc := &mockService{ready: true}
	req := httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d", w.Code)
	}
	if svc.invoked != 0 {
		t.Fatalf("service should not be invoked")
	}
}

func TestInvocations_InvalidJSON(t *testing.T) {
	svc := &mockService{ready: true}
	w := postInvocation(NewMux(svc), `{"input_file_path":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Code != http.StatusBadRequest || body.Error == "" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestInvocations_BodyTooLarge(t *testing.T) {
	SetMaxBodyBytes(16)
	defer SetMaxBodyBytes(0)
	svc := &mockService{ready: true}
	w := postInvocation(NewMux(svc), `{"input_file_path":"/a/very/long/path/to/an/image.png"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestInvocations_NotReady(t *testing.T) {
	svc := &mockService{ready: false}
	w := postInvocation(NewMux(svc), `{"input_file_path":"a.png"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	if svc.invoked != 0 {
		t.Fatalf("service should not be invoked before warm-up")
	}
}

func TestInvocations_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{mockHTTPError{msg: "tile_size must be >= 0", code: 400}, http.StatusBadRequest},
		{inference.ValidationError{}, http.StatusBadRequest},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		svc := &mockService{ready: true, err: c.err}
		w := postInvocation(NewMux(svc), `{"input_file_path":"a.png"}`)
		if w.Code != c.want {
			t.Fatalf("%v: status=%d want %d", c.err, w.Code, c.want)
		}
		var body types.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("json: %v", err)
		}
		if body.Code != c.want {
			t.Fatalf("body code=%d want %d", body.Code, c.want)
		}
	}
}

func TestInvocations_TimeoutCancelsService(t *testing.T) {
	SetInvocationTimeout(20 * time.Millisecond)
	defer SetInvocationTimeout(0)
	svc := &mockService{ready: true, block: true}
	w := postInvocation(NewMux(svc), `{"input_file_path":"a.png"}`)
	// The request context itself is still live, so the error is reported.
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestInvocations_ClientGoneWritesNoBody(t *testing.T) {
	svc := &mockService{ready: true, block: true}
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(`{"input_file_path":"a.png"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	NewMux(svc).ServeHTTP(w, req)
	if w.Body.Len() != 0 {
		t.Fatalf("expected no body, got %q", w.Body.String())
	}
}

func TestInvocations_ServerShutdownCancels(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	SetBaseContext(base)
	defer SetBaseContext(nil)
	svc := &mockService{ready: true, block: true}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	w := postInvocation(NewMux(svc), `{"input_file_path":"a.png"}`)
	if w.Body.Len() != 0 {
		t.Fatalf("expected no body on shutdown, got %q", w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	SetCORSOptions(true, []string{"https://console.example"}, nil, nil)
	defer SetCORSOptions(false, nil, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/invocations", nil)
	req.Header.Set("Origin", "https://console.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example" {
		t.Fatalf("allow-origin=%q", got)
	}
}

func TestCORSDisabledByDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://console.example")
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin=%q", got)
	}
}
