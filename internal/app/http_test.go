package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

type gqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message    string         `json:"message"`
		Extensions map[string]any `json:"extensions"`
	} `json:"errors"`
}

func newTestServer(t *testing.T) (*HTTPServer, *Service, *memoryStore) {
	t.Helper()
	svc, data, _ := newTestService(t)
	server, err := NewHTTPServer(svc, ServerOptions{})
	if err != nil {
		t.Fatalf("NewHTTPServer() error = %v", err)
	}
	return server, svc, data
}

func postGraphQL(t *testing.T, handler http.Handler, query string, variables map[string]any, cookies ...*http.Cookie) (*httptest.ResponseRecorder, gqlResponse) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out gqlResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return rec, out
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == "qid" {
			return cookie
		}
	}
	t.Fatalf("expected qid cookie, got %v", rec.Header().Values("Set-Cookie"))
	return nil
}

func errorCode(t *testing.T, out gqlResponse) string {
	t.Helper()
	if len(out.Errors) == 0 {
		t.Fatalf("expected an error, got data %s", out.Data)
	}
	code, _ := out.Errors[0].Extensions["code"].(string)
	return code
}

const signUpMutation = `mutation SignUp($data: InputCreateUser!) {
	createUser(userData: $data) { id username email }
}`

func signUp(t *testing.T, handler http.Handler, username string) (string, *http.Cookie) {
	t.Helper()
	rec, out := postGraphQL(t, handler, signUpMutation, map[string]any{"data": map[string]any{
		"email":    username + "@example.com",
		"username": username,
		"password": "correct horse battery",
	}})
	if len(out.Errors) > 0 {
		t.Fatalf("createUser errors: %+v", out.Errors)
	}
	var user struct{ ID string }
	if err := json.Unmarshal(out.Data["createUser"], &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	return user.ID, sessionCookie(t, rec)
}

func TestHealth(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected credentialed CORS headers")
	}
}

func TestReadyReportsFailingDependency(t *testing.T) {
	server, _, data := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when dependencies are up, got %d: %s", rec.Code, rec.Body.String())
	}

	data.pingErr = errors.New("connection refused")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "not_ready" || body.Checks["database"]["status"] != "error" || body.Checks["sessions"]["status"] != "ok" {
		t.Fatalf("unexpected readiness body: %s", rec.Body.String())
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestGraphQLRejectsEmptyQuery(t *testing.T) {
	server, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewBufferString(`{"query":""}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCurrentUserRequiresSession(t *testing.T) {
	server, _, _ := newTestServer(t)
	_, out := postGraphQL(t, server.Handler(), `{ currentUser { id } }`, nil)
	if code := errorCode(t, out); code != "UNAUTHENTICATED" {
		t.Fatalf("expected UNAUTHENTICATED, got %q", code)
	}

	_, out = postGraphQL(t, server.Handler(), `{ currentUser { id } }`, nil, &http.Cookie{Name: "qid", Value: "forged.value"})
	if code := errorCode(t, out); code != "UNAUTHENTICATED" {
		t.Fatalf("expected UNAUTHENTICATED for forged cookie, got %q", code)
	}
}

func TestSignUpIssuesSessionCookie(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()
	userID, cookie := signUp(t, handler, "avery")

	if !cookie.HttpOnly || cookie.MaxAge <= 0 {
		t.Fatalf("unexpected cookie attributes: %+v", cookie)
	}

	_, out := postGraphQL(t, handler, `{ currentUser { id username email } }`, nil, cookie)
	if len(out.Errors) > 0 {
		t.Fatalf("currentUser errors: %+v", out.Errors)
	}
	var me struct{ ID, Username, Email string }
	if err := json.Unmarshal(out.Data["currentUser"], &me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me.ID != userID || me.Username != "avery" || me.Email != "avery@example.com" {
		t.Fatalf("unexpected current user: %+v", me)
	}

	_, out = postGraphQL(t, handler, signUpMutation, map[string]any{"data": map[string]any{
		"email":    "avery@example.com",
		"username": "avery2",
		"password": "correct horse battery",
	}})
	if code := errorCode(t, out); code != "CONFLICT" {
		t.Fatalf("expected CONFLICT for taken email, got %q", code)
	}
}

func TestEmailHiddenFromOtherUsers(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()
	signUp(t, handler, "avery")
	_, cookie := signUp(t, handler, "blake")

	_, out := postGraphQL(t, handler, `{ getUser(username: "avery") { username email } }`, nil, cookie)
	if len(out.Errors) > 0 {
		t.Fatalf("getUser errors: %+v", out.Errors)
	}
	var user struct {
		Username string
		Email    *string
	}
	if err := json.Unmarshal(out.Data["getUser"], &user); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if user.Username != "avery" || user.Email != nil {
		t.Fatalf("expected email to be hidden, got %+v", user)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()
	_, cookie := signUp(t, handler, "avery")

	rec, out := postGraphQL(t, handler, `mutation { logout }`, nil, cookie)
	if string(out.Data["logout"]) != "true" {
		t.Fatalf("expected logout to return true, got %s", out.Data["logout"])
	}
	if cleared := sessionCookie(t, rec); cleared.MaxAge >= 0 || cleared.Value != "" {
		t.Fatalf("expected cleared cookie, got %+v", cleared)
	}

	_, out = postGraphQL(t, handler, `{ currentUser { id } }`, nil, cookie)
	if code := errorCode(t, out); code != "UNAUTHENTICATED" {
		t.Fatalf("expected destroyed session to be anonymous, got %q", code)
	}
}

func TestCreateBookAndReactOverGraphQL(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()
	_, author := signUp(t, handler, "author")
	_, reader := signUp(t, handler, "reader")

	_, out := postGraphQL(t, handler, `mutation($data: InputNewBook!) {
		createBook(data: $data) { id title chapters { title chapterNumber status } }
	}`, map[string]any{"data": map[string]any{"title": "Tides", "description": "a book"}}, author)
	if len(out.Errors) > 0 {
		t.Fatalf("createBook errors: %+v", out.Errors)
	}
	var book struct {
		ID       string
		Title    string
		Chapters []struct {
			Title         string
			ChapterNumber int
			Status        string
		}
	}
	if err := json.Unmarshal(out.Data["createBook"], &book); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(book.Chapters) != 1 || book.Chapters[0].Title != "First Chapter" || book.Chapters[0].ChapterNumber != 1 {
		t.Fatalf("expected first chapter, got %+v", book)
	}

	react := `mutation($id: String!, $value: Int!) {
		reactToBook(id: $id, value: $value) { hasVoted action book { likes dislikes } }
	}`
	type reacted struct {
		HasVoted bool
		Action   string
		Book     struct{ Likes, Dislikes int }
	}
	decode := func(out gqlResponse) reacted {
		t.Helper()
		if len(out.Errors) > 0 {
			t.Fatalf("reactToBook errors: %+v", out.Errors)
		}
		var r reacted
		if err := json.Unmarshal(out.Data["reactToBook"], &r); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return r
	}

	_, out = postGraphQL(t, handler, react, map[string]any{"id": book.ID, "value": 1}, reader)
	if r := decode(out); !r.HasVoted || r.Book.Likes != 1 || r.Action != "create" {
		t.Fatalf("unexpected like: %+v", r)
	}
	_, out = postGraphQL(t, handler, react, map[string]any{"id": book.ID, "value": 1}, reader)
	if r := decode(out); r.HasVoted || r.Book.Likes != 0 || r.Action != "retract" {
		t.Fatalf("unexpected retraction: %+v", r)
	}

	_, out = postGraphQL(t, handler, react, map[string]any{"id": book.ID, "value": 1})
	if code := errorCode(t, out); code != "UNAUTHENTICATED" {
		t.Fatalf("expected UNAUTHENTICATED for anonymous reaction, got %q", code)
	}
	_, out = postGraphQL(t, handler, react, map[string]any{"id": book.ID, "value": 3}, reader)
	if code := errorCode(t, out); code != "BAD_USER_INPUT" {
		t.Fatalf("expected BAD_USER_INPUT for value 3, got %q", code)
	}
}

func TestFollowOverGraphQL(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()
	leaderID, _ := signUp(t, handler, "writer")
	followerID, reader := signUp(t, handler, "reader")

	follow := `mutation($id: String!) {
		followUser(data: { followId: $id }) {
			leaderId followId
			leader { followerCount }
			follower { followingCount }
		}
	}`
	_, out := postGraphQL(t, handler, follow, map[string]any{"id": followerID}, reader)
	if code := errorCode(t, out); code != "BAD_USER_INPUT" {
		t.Fatalf("expected BAD_USER_INPUT for self-follow, got %q", code)
	}

	_, out = postGraphQL(t, handler, follow, map[string]any{"id": leaderID}, reader)
	if len(out.Errors) > 0 {
		t.Fatalf("followUser errors: %+v", out.Errors)
	}
	var edge struct {
		LeaderID string
		FollowID string
		Leader   struct{ FollowerCount int }
		Follower struct{ FollowingCount int }
	}
	if err := json.Unmarshal(out.Data["followUser"], &edge); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if edge.LeaderID != leaderID || edge.FollowID != followerID || edge.Leader.FollowerCount != 1 || edge.Follower.FollowingCount != 1 {
		t.Fatalf("unexpected edge: %+v", edge)
	}

	_, out = postGraphQL(t, handler, follow, map[string]any{"id": leaderID}, reader)
	if code := errorCode(t, out); code != "BAD_USER_INPUT" {
		t.Fatalf("expected BAD_USER_INPUT for duplicate follow, got %q", code)
	}
}

func TestGraphQLOverGET(t *testing.T) {
	server, _, _ := newTestServer(t)
	target := "/graphql?query=" + url.QueryEscape(`{ currentUser { id } }`)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out gqlResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if code := errorCode(t, out); code != "UNAUTHENTICATED" {
		t.Fatalf("expected UNAUTHENTICATED, got %q", code)
	}
}

func TestGraphQLOverGETRejectsMutations(t *testing.T) {
	server, _, data := newTestServer(t)
	handler := server.Handler()
	leaderID, _ := signUp(t, handler, "writer")
	followerID, reader := signUp(t, handler, "reader")

	tests := []struct {
		name      string
		query     string
		operation string
	}{
		{name: "anonymous mutation", query: `mutation { followUser(data: { followId: "` + leaderID + `" }) { leaderId } }`},
		{name: "named mutation", query: `query Me { currentUser { id } } mutation Follow { followUser(data: { followId: "` + leaderID + `" }) { leaderId } }`, operation: "Follow"},
		{name: "no operation name", query: `query Me { currentUser { id } } mutation Follow { followUser(data: { followId: "` + leaderID + `" }) { leaderId } }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := url.Values{"query": {tt.query}}
			if tt.operation != "" {
				values.Set("operationName", tt.operation)
			}
			req := httptest.NewRequest(http.MethodGet, "/graphql?"+values.Encode(), nil)
			req.AddCookie(reader)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodPost {
				t.Fatalf("expected 405 with Allow: POST, got %d %q: %s", rec.Code, rec.Header().Get("Allow"), rec.Body.String())
			}
			if data.mem.HasEdge(leaderID, followerID) {
				t.Fatal("follow edge must not be written by a GET request")
			}
		})
	}

	values := url.Values{"query": {`query Me { currentUser { id } } mutation Follow { followUser(data: { followId: "x" }) { leaderId } }`}, "operationName": {"Me"}}
	req := httptest.NewRequest(http.MethodGet, "/graphql?"+values.Encode(), nil)
	req.AddCookie(reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("selecting the query operation should be allowed, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPreflightIsAnsweredForAnyPath(t *testing.T) {
	server, _, _ := newTestServer(t)
	for _, path := range []string{"/graphql", "/api/health", "/nope"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, path, nil))
		if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Methods") == "" {
			t.Fatalf("OPTIONS %s: unexpected response %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST /api/health, got %d", rec.Code)
	}
}
