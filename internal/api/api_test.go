package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/assessment-bridge/internal/catalog"
	"github.com/celerix-dev/assessment-bridge/internal/middleware"
	"github.com/celerix-dev/assessment-bridge/internal/relay"
	"github.com/celerix-dev/assessment-bridge/internal/service"
	"github.com/celerix-dev/assessment-bridge/pkg/engine"
	"github.com/celerix-dev/assessment-bridge/pkg/schema"
)

const (
	testHeader = "X_EXAMPLE_ASSESSMENTS_KEY"
	testKey    = "ABCDEFG123456789"
)

type notes struct {
	mu   sync.Mutex
	list []schema.Notification
}

func (n *notes) all() []schema.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]schema.Notification(nil), n.list...)
}

func setupTestRouter() (*gin.Engine, *Handler, *notes) {
	gin.SetMode(gin.TestMode)
	sent := &notes{}
	notifier := relay.NotifierFunc(func(ctx context.Context, url string, n schema.Notification) error {
		sent.mu.Lock()
		sent.list = append(sent.list, n)
		sent.mu.Unlock()
		return nil
	})
	svc := service.New(engine.NewMemStore(nil, nil), catalog.Default(), notifier, nil)
	h := &Handler{Service: svc}
	r := gin.New()
	r.GET("/hello", h.Hello)
	h.Register(r, middleware.RequireAPIKey(testHeader, testKey))
	h.Register(r.Group("/api"), middleware.RequireAPIKey(testHeader, testKey))
	return r, h, sent
}

func createAda(t *testing.T, r *gin.Engine) schema.Assessment {
	t.Helper()
	body := `{"name":"Ada Lovelace","email":"ada@example.com","packageId":1,"webhookUrl":"http://provider.test/webhook"}`
	req, _ := http.NewRequest("POST", "/assessments/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(testHeader, testKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Create: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rec schema.Assessment
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("Create: bad JSON: %v", err)
	}
	return rec
}

func TestHello(t *testing.T) {
	r, _, _ := setupTestRouter()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/hello", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestListPackages(t *testing.T) {
	r, _, _ := setupTestRouter()

	for _, path := range []string{"/packages", "/api/packages"} {
		req, _ := http.NewRequest("GET", path, nil)
		req.Header.Set(testHeader, testKey)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, w.Code)
		}
		var pkgs map[int]string
		if err := json.Unmarshal(w.Body.Bytes(), &pkgs); err != nil {
			t.Fatalf("%s: bad JSON: %v", path, err)
		}
		if pkgs[1] != "Python Basics" || len(pkgs) != 10 {
			t.Errorf("%s: unexpected packages %v", path, pkgs)
		}
	}
}

func TestProtectedEndpointsRequireKey(t *testing.T) {
	r, _, _ := setupTestRouter()

	req, _ := http.NewRequest("GET", "/packages", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for packages, got %d", w.Code)
	}

	req, _ = http.NewRequest("POST", "/assessments/", bytes.NewBufferString(`{"name":"a","email":"b","packageId":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(testHeader, "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for create, got %d", w.Code)
	}
}

func TestCreateAndGetAssessment(t *testing.T) {
	r, _, _ := setupTestRouter()
	rec := createAda(t, r)

	if rec.ID == "" || rec.Status != schema.StatusPending || rec.Description != "Python Basics" {
		t.Errorf("Unexpected record: %+v", rec)
	}

	req, _ := http.NewRequest("GET", "/assessments/"+rec.ID, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var got schema.Assessment
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.ID != rec.ID || got.Name != "Ada Lovelace" {
		t.Errorf("Unexpected record: %+v", got)
	}
}

func TestCreateAssessmentErrors(t *testing.T) {
	r, h, _ := setupTestRouter()

	cases := []struct {
		body   string
		status int
	}{
		{`{"name":"Ada","email":"ada@example.com","packageId":99}`, http.StatusUnprocessableEntity},
		{`{"email":"ada@example.com","packageId":1}`, http.StatusBadRequest},
		{`invalid`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest("POST", "/api/assessments/", strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(testHeader, testKey)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Errorf("%s: expected %d, got %d", tc.body, tc.status, w.Code)
		}
	}

	pkgs, _ := h.Service.ListPackages(context.Background())
	if len(pkgs) != 10 {
		t.Fatalf("catalog changed")
	}
}

func TestGetAssessmentNotFound(t *testing.T) {
	r, _, _ := setupTestRouter()

	for _, path := range []string{"/assessments/missing", "/assessments/reports/missing"} {
		req, _ := http.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

func TestUpdateStatusForm(t *testing.T) {
	r, h, sent := setupTestRouter()
	rec := createAda(t, r)

	form := url.Values{"status": {"completed"}, "score": {"95"}}
	req, _ := http.NewRequest("POST", "/assessments/"+rec.ID+"/update", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	h.Service.Wait()

	list := sent.all()
	if len(list) != 1 || list[0].ID != rec.ID || list[0].ReportPath != "reports/"+rec.ID {
		t.Fatalf("Unexpected notifications: %+v", list)
	}

	req, _ = http.NewRequest("GET", "/assessments/reports/"+rec.ID, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var report schema.Report
	json.Unmarshal(w.Body.Bytes(), &report)
	if report.Score == nil || *report.Score != 95 || report.Status != schema.StatusCompleted {
		t.Errorf("Unexpected report: %+v", report)
	}
}

func TestUpdateStatusJSON(t *testing.T) {
	r, h, _ := setupTestRouter()
	rec := createAda(t, r)

	req, _ := http.NewRequest("POST", "/api/assessments/"+rec.ID+"/update", strings.NewReader(`{"status":"abandoned"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	h.Service.Wait()

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var got schema.Assessment
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.Status != schema.StatusAbandoned || got.Score != nil {
		t.Errorf("Unexpected record: %+v", got)
	}
}

func TestUpdateStatusErrors(t *testing.T) {
	r, h, _ := setupTestRouter()
	rec := createAda(t, r)

	cases := []struct {
		id     string
		form   url.Values
		status int
	}{
		{rec.ID, url.Values{"status": {"submitted"}}, http.StatusBadRequest},
		{rec.ID, url.Values{"score": {"10"}}, http.StatusBadRequest},
		{rec.ID, url.Values{"status": {"completed"}, "score": {"ten"}}, http.StatusBadRequest},
		{"missing", url.Values{"status": {"completed"}}, http.StatusNotFound},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest("POST", "/assessments/"+tc.id+"/update", strings.NewReader(tc.form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Errorf("%v: expected %d, got %d", tc.form, tc.status, w.Code)
		}
	}
	h.Service.Wait()
}

func TestCreateSetsLocationFromPublicURL(t *testing.T) {
	r, h, _ := setupTestRouter()

	req, _ := http.NewRequest("POST", "/assessments/", strings.NewReader(`{"name":"Ada","email":"ada@example.com","packageId":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(testHeader, testKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if loc := w.Header().Get("Location"); loc != "" {
		t.Errorf("Expected no Location without a public URL, got %q", loc)
	}

	h.PublicURL = "https://assess.example.com/"
	req, _ = http.NewRequest("POST", "/assessments/", strings.NewReader(`{"name":"Ada","email":"ada@example.com","packageId":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(testHeader, testKey)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var created schema.Assessment
	json.Unmarshal(w.Body.Bytes(), &created)
	if got, want := w.Header().Get("Location"), "https://assess.example.com/assessments/"+created.ID; got != want {
		t.Errorf("Expected Location %q, got %q", want, got)
	}
}
