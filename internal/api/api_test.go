package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/talkdrop/internal/schedule"
	"github.com/starford/talkdrop/internal/storage"
	"github.com/starford/talkdrop/internal/talks"
	"github.com/starford/talkdrop/internal/talkservice"
	"github.com/starford/talkdrop/internal/testutil"
)

type env struct {
	router http.Handler
	root   string
}

// testEnv starts an engine over a temp talk root with a three-talk schedule
// and builds a router. An empty token means auth disabled.
func testEnv(t *testing.T, token string) env {
	t.Helper()
	return testEnvWithEvents(t, token, nil)
}

func testEnvWithEvents(t *testing.T, token string, events http.Handler) env {
	t.Helper()

	sched := testutil.WriteFile(t, t.TempDir(), "schedule.json", testutil.ScheduleJSON(t, "37c3", "1.0",
		testutil.Talk{GUID: "z1", Title: "Zebra"},
		testutil.Talk{GUID: "w1", Title: "The Widget", Speakers: []string{"Ada"}},
		testutil.Talk{GUID: "a1", Title: "Apple Pie"},
	))
	srcs, err := schedule.ParseSources([]string{sched})
	if err != nil {
		t.Fatal(err)
	}

	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	engine, err := talks.NewEngine(talks.Config{Sources: srcs}, fs, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	if err := engine.WaitReady(waitCtx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	router := NewRouter(talkservice.NewService(engine.Store), Options{
		AuthEnabled: token != "",
		Token:       token,
		UploadDir:   filepath.Join(fs.Root(), ".temp"),
		Events:      events,
	})
	return env{router: router, root: fs.Root()}
}

func (e env) do(t *testing.T, req *http.Request, token string) *httptest.ResponseRecorder {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e env) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, httptest.NewRequest(http.MethodGet, path, nil), token)
}

func (e env) upload(t *testing.T, id, token string, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write([]byte(content))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/talks/"+id+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(t, req, token)
}

func TestListTalks_Sorted(t *testing.T) {
	e := testEnv(t, "")
	w := e.get(t, "/talks", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var list TalkList
	_ = json.Unmarshal(w.Body.Bytes(), &list)

	var got []string
	for _, s := range list.Talks {
		got = append(got, s.Title)
	}
	if strings.Join(got, ",") != "Apple Pie,The Widget,Zebra" {
		t.Errorf("titles = %v", got)
	}
	if !list.IsAuthorized {
		t.Error("auth disabled should mark every request authorized")
	}
	if list.Talks[1].URL != "/talks/w1" || list.Talks[1].Speakers[0] != "Ada" {
		t.Errorf("summary = %+v", list.Talks[1])
	}
}

func TestGetTalk_NotFound(t *testing.T) {
	e := testEnv(t, "")
	if w := e.get(t, "/talks/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown talk = %d, want 404", w.Code)
	}
	if w := e.get(t, "/talks/by-slug/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown slug = %d, want 404", w.Code)
	}
}

func TestGetTalkBySlug(t *testing.T) {
	e := testEnv(t, "")
	w := e.get(t, "/talks/by-slug/the-widget", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var d TalkDetail
	_ = json.Unmarshal(w.Body.Bytes(), &d)
	if d.ID != "w1" {
		t.Errorf("id = %q", d.ID)
	}
}

func TestUploadAndDownload(t *testing.T) {
	e := testEnv(t, "secret")

	w := e.upload(t, "w1", "", map[string]string{"slides.pdf": "pdf-bytes"})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	data, err := os.ReadFile(filepath.Join(e.root, "w1", "slides.pdf"))
	if err != nil || string(data) != "pdf-bytes" {
		t.Fatalf("file on disk = %q, %v", data, err)
	}
	staged, _ := os.ReadDir(filepath.Join(e.root, ".temp"))
	if len(staged) != 0 {
		t.Errorf("staged uploads left behind: %d", len(staged))
	}

	// Public view: count and redacted name only.
	var pub TalkDetail
	_ = json.Unmarshal(e.get(t, "/talks/w1", "").Body.Bytes(), &pub)
	if pub.FileCount != 1 || len(pub.Files) != 1 {
		t.Fatalf("public detail = %+v", pub)
	}
	if pub.Files[0].Name != "" || pub.Files[0].URL != "" || pub.Files[0].RedactedName != "s***.pdf" {
		t.Errorf("public file view leaks name: %+v", pub.Files[0])
	}

	// Authorized view: real name and download URL.
	var priv TalkDetail
	_ = json.Unmarshal(e.get(t, "/talks/w1", "secret").Body.Bytes(), &priv)
	if priv.Files[0].Name != "slides.pdf" || priv.Files[0].URL != "/talks/w1/files/slides.pdf" {
		t.Errorf("authorized file view = %+v", priv.Files[0])
	}

	if w := e.get(t, "/talks/w1/files/slides.pdf", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("download without token = %d, want 401", w.Code)
	}
	w = e.get(t, "/talks/w1/files/slides.pdf?token=secret", "")
	if w.Code != http.StatusOK || w.Body.String() != "pdf-bytes" {
		t.Errorf("download = %d %q", w.Code, w.Body.String())
	}
}

func TestUpload_Rejections(t *testing.T) {
	e := testEnv(t, "")

	if w := e.upload(t, "w1", "", map[string]string{".hidden": "x"}); w.Code != http.StatusBadRequest {
		t.Errorf("hidden name = %d, want 400", w.Code)
	}
	if w := e.upload(t, "w1", "", map[string]string{"1703671200000.comment.txt": "forged"}); w.Code != http.StatusBadRequest {
		t.Errorf("comment name = %d, want 400", w.Code)
	}
	if _, err := os.Stat(filepath.Join(e.root, "w1", "1703671200000.comment.txt")); !os.IsNotExist(err) {
		t.Errorf("upload created a comment file: %v", err)
	}
	if w := e.upload(t, "nope", "", map[string]string{"a.txt": "x"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown talk = %d, want 404", w.Code)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("wrong", "data")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/talks/w1/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if w := e.do(t, req, ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing field = %d, want 400", w.Code)
	}

	staged, _ := os.ReadDir(filepath.Join(e.root, ".temp"))
	if len(staged) != 0 {
		t.Errorf("rejected uploads left behind: %d", len(staged))
	}
}

func TestServeFile_TraversalBlocked(t *testing.T) {
	e := testEnv(t, "")
	testutil.WriteFile(t, e.root, "z1/private.txt", []byte("private"))

	for _, name := range []string{url.PathEscape("../z1/private.txt"), "..%2F..%2Fetc%2Fpasswd"} {
		if w := e.get(t, "/talks/w1/files/"+name, ""); w.Code == http.StatusOK {
			t.Errorf("traversal %q returned 200", name)
		}
	}
}

func TestComments(t *testing.T) {
	e := testEnv(t, "secret")

	body, _ := json.Marshal(AddCommentRequest{Body: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/talks/a1/comments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if w := e.do(t, req, ""); w.Code != http.StatusCreated {
		t.Fatalf("add comment = %d, body = %s", w.Code, w.Body.String())
	}

	form := strings.NewReader(url.Values{"comment": {"from a form"}}.Encode())
	req = httptest.NewRequest(http.MethodPost, "/talks/a1/comments", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if w := e.do(t, req, ""); w.Code != http.StatusCreated {
		t.Fatalf("add form comment = %d, body = %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/talks/a1/comments", strings.NewReader(`{"body":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	if w := e.do(t, req, ""); w.Code != http.StatusBadRequest {
		t.Errorf("empty comment = %d, want 400", w.Code)
	}

	if w := e.get(t, "/talks/a1/comments", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("comments without token = %d, want 401", w.Code)
	}
	w := e.get(t, "/talks/a1/comments", "secret")
	var resp CommentListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Comments) != 2 {
		t.Fatalf("comments = %+v", resp.Comments)
	}
	bodies := resp.Comments[0].Body + "|" + resp.Comments[1].Body
	if !strings.Contains(bodies, "hello") || !strings.Contains(bodies, "from a form") {
		t.Errorf("bodies = %q", bodies)
	}

	// Comments are not uploads.
	var d TalkDetail
	_ = json.Unmarshal(e.get(t, "/talks/a1", "").Body.Bytes(), &d)
	if d.FileCount != 0 || d.CommentCount != 2 || d.Comments != nil {
		t.Errorf("public detail = %+v", d)
	}
}

func TestScheduleVersionAndReady(t *testing.T) {
	e := testEnv(t, "")

	var v struct {
		Version   string `json:"version"`
		Available bool   `json:"available"`
	}
	_ = json.Unmarshal(e.get(t, "/schedule/version", "").Body.Bytes(), &v)
	if v.Version != "37c3: 1.0" || !v.Available {
		t.Errorf("version = %+v", v)
	}
	if w := e.get(t, "/health/ready", ""); w.Code != http.StatusOK {
		t.Errorf("ready = %d", w.Code)
	}
}

func TestReady_BeforeGates(t *testing.T) {
	svc := talkservice.NewService(talks.NewStore(make(chan struct{})))
	router := NewRouter(svc, Options{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready before gates = %d, want 503", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	mw := AuthMiddleware(true, "tok")
	var seen bool
	h := mw(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) { seen = Authorized(r) }))

	cases := []struct {
		name   string
		header string
		query  string
		want   bool
	}{
		{"bearer", "Bearer tok", "", true},
		{"query", "", "?token=tok", true},
		{"wrong", "Bearer nope", "", false},
		{"missing", "", "", false},
		{"basic", "Basic tok", "", false},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/"+c.query, nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		if seen != c.want {
			t.Errorf("%s: authorized = %v, want %v", c.name, seen, c.want)
		}
	}

	AuthMiddleware(false, "")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = Authorized(r)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !seen {
		t.Error("disabled mode should authorize every request")
	}
}

func TestEvents_AuthProtected(t *testing.T) {
	stub := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	})
	e := testEnvWithEvents(t, "secret", stub)

	if w := e.get(t, "/events", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("events without token = %d, want 401", w.Code)
	}
	if w := e.get(t, "/events", "secret"); w.Code != http.StatusOK {
		t.Errorf("events with token = %d, want 200", w.Code)
	}
}
