package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/assessment-bridge/internal/vault"
	"github.com/celerix-dev/assessment-bridge/pkg/engine"
	"github.com/celerix-dev/assessment-bridge/pkg/schema"
	"github.com/celerix-dev/assessment-bridge/pkg/sdk"
)

const (
	testHeader = "X_EXAMPLE_ASSESSMENTS_KEY"
	testKey    = "ABCDEFG123456789"
)

// fakeBackend implements sdk.Backend and records the calls it receives.
type fakeBackend struct {
	mu        sync.Mutex
	listCalls int
	created   []schema.CreateRequest

	pkgs      map[int]string
	listErr   error
	createErr error
}

func (f *fakeBackend) ListPackages(ctx context.Context) (map[int]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.pkgs, f.listErr
}

func (f *fakeBackend) CreateAssessment(ctx context.Context, req schema.CreateRequest) (schema.Assessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return schema.Assessment{}, f.createErr
	}
	name, ok := f.pkgs[req.PackageID]
	if !ok {
		return schema.Assessment{}, fmt.Errorf("%w: %d", engine.ErrInvalidPackage, req.PackageID)
	}
	return schema.Assessment{ID: "rec-1", Name: req.Name, Email: req.Email, PackageID: req.PackageID, Description: name, Status: schema.StatusPending}, nil
}

func (f *fakeBackend) GetAssessment(ctx context.Context, id string) (schema.Assessment, error) {
	return schema.Assessment{}, engine.ErrNotFound
}

func (f *fakeBackend) UpdateStatus(ctx context.Context, id string, upd schema.StatusUpdate) (schema.Assessment, error) {
	return schema.Assessment{}, engine.ErrNotFound
}

func (f *fakeBackend) GetReport(ctx context.Context, id string) (schema.Report, error) {
	return schema.Report{}, engine.ErrNotFound
}

var _ sdk.Backend = (*fakeBackend)(nil)

func setupTestRouter(backend *fakeBackend, signingKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(backend, Config{
		APIKey:       testKey,
		APIKeyHeader: testHeader,
		PublicURL:    "http://assess.test/",
		WebhookURL:   "http://adapter.test/webhook",
		PlatformURL:  "http://host.test",
		SigningKey:   signingKey,
	}, nil)
	r := gin.New()
	h.Register(r)
	return r
}

func post(r *gin.Engine, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func authed() map[string]string {
	return map[string]string{testHeader: testKey}
}

func TestHelloAndDescriptor(t *testing.T) {
	r := setupTestRouter(&fakeBackend{}, "")

	req, _ := http.NewRequest("GET", "/hello", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != `{"Message":"Hello, World!"}` {
		t.Errorf("Unexpected hello body: %s", w.Body.String())
	}

	w = post(r, "/", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var d Descriptor
	if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if len(d.Actions) != 1 || d.Actions[0].Key != ActionKey || d.Actions[0].MetaEndpoint != "/export" {
		t.Errorf("Unexpected actions: %+v", d.Actions)
	}
	if d.WebhookProcessEndpoint != "/webhook" || d.WebhookAuthenticationHeader != "X-Verify" {
		t.Errorf("Unexpected webhook settings: %+v", d)
	}
	if len(d.ConfigurationFormFields) != 2 || !d.ConfigurationFormFields[0].Sensitive || d.ConfigurationFormFields[0].UseAsHTTPHeader != testHeader {
		t.Errorf("Unexpected configuration fields: %+v", d.ConfigurationFormFields)
	}
}

func TestExport_Unauthorized(t *testing.T) {
	backend := &fakeBackend{pkgs: map[int]string{1: "Python Basics"}}
	r := setupTestRouter(backend, "")

	for _, headers := range []map[string]string{nil, {testHeader: "wrong"}} {
		w := post(r, "/export", "{}", headers)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var form Form
		json.Unmarshal(w.Body.Bytes(), &form)
		if len(form.FormFields) != 1 || form.FormFields[0].Type != "callout" || form.FormFields[0].Intent != "danger" {
			t.Errorf("Expected a single callout, got %+v", form.FormFields)
		}
	}
	if backend.listCalls != 0 {
		t.Errorf("ListPackages must not be called, got %d calls", backend.listCalls)
	}
}

func TestExport_Authorized(t *testing.T) {
	backend := &fakeBackend{pkgs: map[int]string{2: "Data Structures", 1: "Python Basics"}}
	r := setupTestRouter(backend, "")

	w := post(r, "/export", "{}", authed())
	var form Form
	if err := json.Unmarshal(w.Body.Bytes(), &form); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if len(form.FormFields) != 4 || form.SubmitEndpoint != "/create_assessment" {
		t.Fatalf("Unexpected form: %+v", form)
	}
	opts := form.FormFields[0].SingleSelectOptions
	if len(opts) != 2 || opts[0] != (SelectOption{Label: "Python Basics", Value: "1"}) {
		t.Errorf("Unexpected options: %+v", opts)
	}
	if !form.FormFields[1].IncludeValueInRefetch {
		t.Errorf("firstName must be included in refetch")
	}
}

func TestExport_PeerUnreachableDegrades(t *testing.T) {
	backend := &fakeBackend{listErr: fmt.Errorf("%w: dial tcp", sdk.ErrPeerUnreachable)}
	r := setupTestRouter(backend, "")

	w := post(r, "/export", "{}", authed())
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"singleSelectOptions":[]`) {
		t.Errorf("Expected an empty options list, got %s", w.Body.String())
	}
}

const submitBody = `{"formFields":[
	{"key":"selectedTest","value":"1"},
	{"key":"firstName","value":"Ada"},
	{"key":"lastName","value":"Lovelace"},
	{"key":"email","value":"ada@example.com"}]}`

func TestCreateAssessment_Success(t *testing.T) {
	backend := &fakeBackend{pkgs: map[int]string{1: "Python Basics"}}
	r := setupTestRouter(backend, "")

	w := post(r, "/create_assessment", submitBody, authed())
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var res CreateSuccess
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Success || res.ExternalIdentifier != "rec-1" || res.Status != schema.StatusPending {
		t.Errorf("Unexpected envelope: %+v", res)
	}
	if res.ExternalRecordURL != "http://assess.test/assessments/rec-1" {
		t.Errorf("Unexpected record URL %s", res.ExternalRecordURL)
	}
	if !strings.Contains(res.Message, "\n") {
		t.Errorf("Expected a multi-line message, got %q", res.Message)
	}

	got := backend.created[0]
	if got.Name != "Ada Lovelace" || got.PackageID != 1 || got.WebhookURL != "http://adapter.test/webhook" || got.PlatformURL != "http://host.test" {
		t.Errorf("Unexpected backend payload: %+v", got)
	}
}

func TestCreateAssessment_BaseURLFallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	backend := &fakeBackend{pkgs: map[int]string{1: "Python Basics"}}
	h := NewHandler(backend, Config{APIKey: testKey, APIKeyHeader: testHeader}, nil)
	r := gin.New()
	h.Register(r)

	body := `{"formFields":[
	{"key":"selectedTest","value":"1"},
	{"key":"firstName","value":"Ada"},
	{"key":"email","value":"ada@example.com"}],
	"configurationValues":[{"key":"apiBaseURL","value":"https://config.test/"}]}`

	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"configuration value", authed(), "https://config.test/assessments/rec-1"},
		{"header wins", map[string]string{testHeader: testKey, BaseURLHeader: "https://header.test/"}, "https://header.test/assessments/rec-1"},
	}
	for _, tc := range cases {
		w := post(r, "/create_assessment", body, tc.headers)
		var res CreateSuccess
		json.Unmarshal(w.Body.Bytes(), &res)
		if res.ExternalRecordURL != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, res.ExternalRecordURL)
		}
	}
}

func TestCreateAssessment_FailuresAreEnvelopes(t *testing.T) {
	cases := []struct {
		name    string
		backend *fakeBackend
		body    string
		headers map[string]string
	}{
		{"unauthorized", &fakeBackend{}, submitBody, nil},
		{"unreachable", &fakeBackend{createErr: fmt.Errorf("%w: refused", sdk.ErrPeerUnreachable)}, submitBody, authed()},
		{"unknown package", &fakeBackend{pkgs: map[int]string{}}, submitBody, authed()},
		{"missing email", &fakeBackend{}, `{"formFields":[{"key":"firstName","value":"Ada"},{"key":"selectedTest","value":1}]}`, authed()},
		{"not json", &fakeBackend{}, `nope`, authed()},
	}
	for _, tc := range cases {
		r := setupTestRouter(tc.backend, "")
		w := post(r, "/create_assessment", tc.body, tc.headers)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", tc.name, w.Code)
			continue
		}
		var res CreateFailure
		json.Unmarshal(w.Body.Bytes(), &res)
		if res.Success || res.Toast.Error == "" || res.ResultVersion != ResultVersion {
			t.Errorf("%s: unexpected envelope %s", tc.name, w.Body.String())
		}
		if strings.Contains(res.Toast.Error, "refused") {
			t.Errorf("%s: raw backend error leaked: %q", tc.name, res.Toast.Error)
		}
	}
}

func TestWebhook(t *testing.T) {
	r := setupTestRouter(&fakeBackend{}, "")

	inner := `{"id":"abc","status":"completed","score":87,"report_path":"reports/abc"}`
	envelope, _ := json.Marshal(map[string]string{"body": inner})

	w := post(r, "/webhook", string(envelope), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res WebhookResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if len(res.UpdateAssessments) != 1 {
		t.Fatalf("Unexpected result: %+v", res)
	}
	u := res.UpdateAssessments[0]
	if u.ExternalIdentifier != "abc" || u.Status != schema.StatusCompleted || u.Score == nil || *u.Score != 87 || !u.ShouldNotify {
		t.Errorf("Unexpected update: %+v", u)
	}
	if u.ExternalLinks[0].URL != "http://assess.test/assessments/reports/abc" {
		t.Errorf("Unexpected report URL %s", u.ExternalLinks[0].URL)
	}
}

func TestWebhook_Malformed(t *testing.T) {
	r := setupTestRouter(&fakeBackend{}, "")

	for _, body := range []string{
		`not json`,
		`{"body":"not json"}`,
		`{"body":"{\"status\":\"completed\"}"}`,
		`{"body":"{\"id\":\"abc\"}"}`,
		`{}`,
	} {
		w := post(r, "/webhook", body, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestWebhook_Signature(t *testing.T) {
	r := setupTestRouter(&fakeBackend{}, "signing-key")

	inner := `{"id":"abc","status":"failed","score":null,"report_path":"reports/abc"}`
	envelope, _ := json.Marshal(map[string]string{"body": inner})

	w := post(r, "/webhook", string(envelope), map[string]string{vault.SignatureHeader: "deadbeef"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for bad signature, got %d", w.Code)
	}

	sig := vault.Sign([]byte(inner), []byte("signing-key"))
	w = post(r, "/webhook", string(envelope), map[string]string{vault.SignatureHeader: sig})
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for valid signature, got %d", w.Code)
	}
}

func TestToastFor(t *testing.T) {
	if ToastFor(errors.New("boom")) == "" {
		t.Error("Expected a generic toast")
	}
	if ToastFor(sdk.ErrUnauthorized) == ToastFor(sdk.ErrPeerUnreachable) {
		t.Error("Expected distinct toasts")
	}
}
