package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"horizon-portal/internal/app"
	"horizon-portal/internal/auth"
	"horizon-portal/internal/domain"
	"horizon-portal/internal/infra/memory"
	"horizon-portal/internal/metrics"
)

type testEnv struct {
	server          *httptest.Server
	adminToken      string
	clientToken     string
	questionIDs     []string
	questionnaireID string
}

// newTestEnv bootstraps an admin and a client over HTTP and assigns the
// client a questionnaire with one required and one optional question.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	cache := memory.NewQuestionSetCache(store, time.Minute)
	signer, err := auth.NewSigner("test-secret", "horizon-test")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	recorder := metrics.NewRecorder()
	clients := app.NewClientService(store, memory.NewSessionStore(), signer, time.Hour)
	api := API{
		Questionnaires: app.NewQuestionnaireService(store, cache).WithHub(app.NewProgressHub()).WithRecorder(recorder),
		Templates:      app.NewTemplateService(store, cache),
		Projects:       app.NewProjectService(store),
		Clients:        clients,
		Metrics:        recorder.Handler(),
	}
	if _, err := clients.Register(ctx, app.UserInput{Name: "Root", Email: "root@example.com", Password: "rootpw", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("register admin: %v", err)
	}

	env := &testEnv{server: httptest.NewServer(NewRouter(api))}
	t.Cleanup(env.server.Close)
	env.adminToken = env.login(t, "root@example.com", "rootpw")

	var client domain.User
	env.mustDo(t, env.adminToken, http.MethodPost, "/api/clients", map[string]any{
		"name": "Ada", "email": "ada@example.com", "password": "adapw",
	}, http.StatusCreated, &client)
	env.clientToken = env.login(t, "ada@example.com", "adapw")

	var tmpl domain.Template
	env.mustDo(t, env.adminToken, http.MethodPost, "/api/templates", map[string]any{
		"name": "SaaS intake", "projectType": "SAAS",
	}, http.StatusCreated, &tmpl)
	for _, q := range []map[string]any{
		{"label": "Product name", "type": "TEXT", "required": true},
		{"label": "Notes", "type": "TEXT"},
	} {
		var created domain.Question
		env.mustDo(t, env.adminToken, http.MethodPost, "/api/templates/"+tmpl.ID+"/questions", q, http.StatusCreated, &created)
		env.questionIDs = append(env.questionIDs, created.ID)
	}

	var project domain.Project
	env.mustDo(t, env.adminToken, http.MethodPost, "/api/projects", map[string]any{
		"name": "Billing app", "clientId": client.ID, "type": "SAAS",
	}, http.StatusCreated, &project)
	var pq domain.ProjectQuestionnaire
	env.mustDo(t, env.adminToken, http.MethodPost, "/api/projects/"+project.ID+"/questionnaires", map[string]any{
		"templateId": tmpl.ID,
	}, http.StatusCreated, &pq)
	env.questionnaireID = pq.ID
	return env
}

func (e *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	var res app.LoginResult
	e.mustDo(t, "", http.MethodPost, "/api/auth/login", map[string]any{"email": email, "password": password}, http.StatusOK, &res)
	if res.Token == "" {
		t.Fatalf("login %s: empty token", email)
	}
	return res.Token
}

func (e *testEnv) do(t *testing.T, token, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func (e *testEnv) mustDo(t *testing.T, token, method, path string, body any, wantStatus int, out any) {
	t.Helper()
	resp, raw := e.do(t, token, method, path, body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, wantStatus, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func TestRESTQuestionnaireLifecycle(t *testing.T) {
	env := newTestEnv(t)
	base := "/api/questionnaires/" + env.questionnaireID

	var errBody errorBody
	env.mustDo(t, env.clientToken, http.MethodPost, base+"/submit", nil, http.StatusUnprocessableEntity, &errBody)
	if errBody.Error != "incomplete_submission" || errBody.Missing != 1 {
		t.Fatalf("unexpected incomplete body %+v", errBody)
	}

	var saved savedResponse
	env.mustDo(t, env.clientToken, http.MethodPut, base+"/answers/"+env.questionIDs[0], map[string]any{"value": "Ledgerly"}, http.StatusOK, &saved)
	if saved.ID == "" {
		t.Fatalf("expected answer id")
	}

	var progress domain.Progress
	env.mustDo(t, env.clientToken, http.MethodGet, base+"/progress", nil, http.StatusOK, &progress)
	if progress.Answered != 1 || progress.PercentComplete != 50 || !progress.CanSubmit {
		t.Fatalf("unexpected progress %+v", progress)
	}

	var pq domain.ProjectQuestionnaire
	env.mustDo(t, env.clientToken, http.MethodPost, base+"/submit", nil, http.StatusOK, &pq)
	if pq.Status != domain.StatusSubmitted || pq.SubmittedAt == nil {
		t.Fatalf("unexpected submitted questionnaire %+v", pq)
	}

	env.mustDo(t, env.clientToken, http.MethodPut, base+"/answers/"+env.questionIDs[1], map[string]any{"value": "late"}, http.StatusConflict, &errBody)
	if errBody.Error != "already_submitted" {
		t.Fatalf("expected already_submitted, got %+v", errBody)
	}

	env.mustDo(t, env.adminToken, http.MethodPatch, base+"/status", map[string]any{"status": "LOCKED"}, http.StatusOK, &pq)
	if pq.Status != domain.StatusLocked {
		t.Fatalf("expected LOCKED, got %s", pq.Status)
	}
	env.mustDo(t, env.clientToken, http.MethodPost, base+"/answers", map[string]any{
		"answers": []map[string]any{{"questionId": env.questionIDs[1], "value": "x"}},
	}, http.StatusConflict, &errBody)
	if errBody.Error != "locked" {
		t.Fatalf("expected locked, got %+v", errBody)
	}
}

func TestRESTAccessControl(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "", http.MethodGet, "/api/questionnaires/"+env.questionnaireID, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous read: expected 401, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, "garbage", http.MethodGet, "/api/me/projects", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, env.clientToken, http.MethodGet, "/api/clients", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("client listing clients: expected 403, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, env.clientToken, http.MethodGet, "/api/questionnaires/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing questionnaire: expected 404, got %d", resp.StatusCode)
	}

	var projects []app.ProjectDetail
	env.mustDo(t, env.clientToken, http.MethodGet, "/api/me/projects", nil, http.StatusOK, &projects)
	if len(projects) != 1 || len(projects[0].Questionnaires) != 1 {
		t.Fatalf("unexpected own projects %+v", projects)
	}

	var pending []domain.QuestionnaireSummary
	env.mustDo(t, env.clientToken, http.MethodGet, "/api/me/questionnaires/pending", nil, http.StatusOK, &pending)
	if len(pending) != 1 {
		t.Fatalf("expected one pending questionnaire, got %d", len(pending))
	}
}

func TestRESTLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)

	env.mustDo(t, env.clientToken, http.MethodPost, "/api/auth/logout", nil, http.StatusNoContent, nil)
	resp, _ := env.do(t, env.clientToken, http.MethodGet, "/api/me/projects", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}

	var errBody errorBody
	env.mustDo(t, "", http.MethodPost, "/api/auth/login", map[string]any{"email": "ada@example.com", "password": "wrong"}, http.StatusUnauthorized, &errBody)
	if errBody.Error != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %+v", errBody)
	}
}

func TestRESTTemplateInUseAndDuplicate(t *testing.T) {
	env := newTestEnv(t)

	var page domain.Page[domain.TemplateSummary]
	env.mustDo(t, env.adminToken, http.MethodGet, "/api/templates", nil, http.StatusOK, &page)
	if len(page.Items) != 1 {
		t.Fatalf("expected one template, got %d", len(page.Items))
	}
	tmplID := page.Items[0].ID

	var errBody errorBody
	env.mustDo(t, env.adminToken, http.MethodDelete, "/api/templates/"+tmplID, nil, http.StatusConflict, &errBody)
	if errBody.Error != "in_use" || errBody.Usage != 1 {
		t.Fatalf("unexpected in-use body %+v", errBody)
	}

	var dup domain.Template
	env.mustDo(t, env.adminToken, http.MethodPost, "/api/templates/"+tmplID+"/duplicate", nil, http.StatusCreated, &dup)
	if dup.Version != 2 || dup.Name != "SaaS intake v2" {
		t.Fatalf("unexpected duplicate %+v", dup)
	}

	var count countResponse
	env.mustDo(t, env.adminToken, http.MethodPut, "/api/templates/"+tmplID+"/questions/order", map[string]any{
		"questionIds": []string{env.questionIDs[1], env.questionIDs[0]},
	}, http.StatusOK, &count)
	if count.Count != 2 {
		t.Fatalf("expected 2 reordered, got %d", count.Count)
	}
	env.mustDo(t, env.adminToken, http.MethodPut, "/api/templates/"+tmplID+"/questions/order", map[string]any{
		"questionIds": []string{env.questionIDs[1]},
	}, http.StatusBadRequest, &errBody)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.mustDo(t, env.clientToken, http.MethodPut, "/api/questionnaires/"+env.questionnaireID+"/answers/"+env.questionIDs[0], map[string]any{"value": "x"}, http.StatusOK, nil)

	resp, raw := env.do(t, "", http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(raw), "horizon_answers_saved_total 1") {
		t.Fatalf("expected answers counter in metrics output")
	}
}

func TestWebSocketAutoSaveFlow(t *testing.T) {
	env := newTestEnv(t)

	u := "ws" + env.server.URL[len("http"):] + "/ws/questionnaires/" + env.questionnaireID + "?token=" + env.clientToken
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// initial snapshot
	_, payload := readNext(conn, t, "progress")
	if payload["answeredQuestions"] != float64(0) {
		t.Fatalf("unexpected initial progress %v", payload)
	}

	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"questionId": env.questionIDs[0],
			"value":      "Ledgerly",
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	savedSeen := false
	progressSeen := false
	for i := 0; i < 4 && !(savedSeen && progressSeen); i++ {
		typ, payload := readNext(conn, t, "")
		switch typ {
		case "saved":
			savedSeen = payload["answerId"] != nil
		case "progress":
			progressSeen = payload["answeredQuestions"] == float64(1)
		}
	}
	if !savedSeen || !progressSeen {
		t.Fatalf("expected saved and progress, got saved=%v progress=%v", savedSeen, progressSeen)
	}

	if err := conn.WriteJSON(map[string]any{"type": "submit"}); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	submitted := false
	for i := 0; i < 4 && !submitted; i++ {
		typ, payload := readNext(conn, t, "")
		if typ == "submitted" {
			submitted = payload["status"] == string(domain.StatusSubmitted)
		}
	}
	if !submitted {
		t.Fatalf("expected submitted message")
	}

	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write late answer: %v", err)
	}
	for i := 0; i < 4; i++ {
		typ, payload := readNext(conn, t, "")
		if typ == "error" {
			if payload["code"] != "already_submitted" {
				t.Fatalf("unexpected error payload %v", payload)
			}
			return
		}
	}
	t.Fatalf("expected error after submit")
}

func TestWebSocketRejectsStranger(t *testing.T) {
	env := newTestEnv(t)

	u := "ws" + env.server.URL[len("http"):] + "/ws/questionnaires/" + env.questionnaireID
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected anonymous dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %v", resp)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

// brokenConn delivers unsupported messages forever while every write fails.
type brokenConn struct{}

func (brokenConn) ReadJSON(v interface{}) error {
	return json.Unmarshal([]byte(`{"type":"ping"}`), v)
}

func (brokenConn) WriteJSON(interface{}) error {
	return errors.New("connection reset")
}

func TestWebSocketSessionEndsWhenWriterFails(t *testing.T) {
	h := &WSHandler{}
	updates := make(chan domain.Progress)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.serve(context.Background(), brokenConn{}, domain.Identity{}, "q-1", updates)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("session still running after its writer failed")
	}
}
