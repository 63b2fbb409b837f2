package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/heimdex/chapter-agent/internal/db"
	"github.com/heimdex/chapter-agent/internal/fetch"
	"github.com/heimdex/chapter-agent/internal/session"
	"github.com/heimdex/chapter-agent/internal/store"
)

const testToken = "test-token-123456"

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type testEnv struct {
	router   *chi.Mux
	sessions *session.Manager
	repo     *store.SQLiteRepository
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := store.NewRepository(database.Conn(), nil)
	if err := repo.SetConfig(context.Background(), store.ConfigKeyAuthToken, testToken); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}

	sessions := session.NewManager(session.ManagerConfig{
		Images:  repo,
		Fetcher: fetch.NewClient(5*time.Second, 1<<20, nil),
		Logger:  logger,
	})

	router := NewRouter(ServerConfig{
		Sessions:   sessions,
		Repository: repo,
		Reaper:     session.NewReaper(sessions, time.Hour, logger),
		Logger:     logger,
		StartTime:  time.Now(),
		DeviceID:   "test-device",
	})
	return &testEnv{router: router, sessions: sessions, repo: repo}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	case []byte:
		r = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.RemoteAddr = "127.0.0.1:40000"
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rr.Body.String(), err)
	}
	return body
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rr.Body.String(), err)
	}
}

func createSession(t *testing.T, e *testEnv, req CreateSessionRequest) SessionResponse {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/sessions", req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp SessionResponse
	decodeInto(t, rr, &resp)
	return resp
}

func floatPtr(f float64) *float64 { return &f }

func TestHealth_NoAuth(t *testing.T) {
	e := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["device_id"] != "test-device" {
		t.Errorf("unexpected body %v", body)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q", got)
	}
}

func TestSessions_RequireAuth(t *testing.T) {
	e := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestSession_Lifecycle(t *testing.T) {
	e := setupTestServer(t)

	created := createSession(t, e, CreateSessionRequest{MediaFilename: "ep1.mp3"})
	if created.DurationS != nil {
		t.Errorf("duration should be unknown, got %v", *created.DurationS)
	}
	if len(created.Chapters) != 1 || created.Chapters[0].Title != "Introduction" {
		t.Fatalf("new session chapters = %+v", created.Chapters)
	}

	rr := e.do(t, http.MethodGet, "/sessions", nil)
	var list SessionsResponse
	decodeInto(t, rr, &list)
	if len(list.Sessions) != 1 || list.Sessions[0].ID != created.ID {
		t.Fatalf("sessions = %+v", list.Sessions)
	}

	rr = e.do(t, http.MethodGet, "/sessions/"+created.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}

	rr = e.do(t, http.MethodDelete, "/sessions/"+created.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	rr = e.do(t, http.MethodGet, "/sessions/"+created.ID, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rr.Code)
	}
	rr = e.do(t, http.MethodDelete, "/sessions/"+created.ID, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rr.Code)
	}
}

func TestChapters_AddAndExportList(t *testing.T) {
	e := setupTestServer(t)
	s := createSession(t, e, CreateSessionRequest{DurationS: floatPtr(600)})

	rr := e.do(t, http.MethodPost, "/sessions/"+s.ID+"/chapters", ChapterInput{Title: "_Sponsor", Start: "02:30"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", rr.Code, rr.Body.String())
	}
	var state ChaptersResponse
	decodeInto(t, rr, &state)
	if len(state.Chapters) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(state.Chapters))
	}
	if state.Chapters[0].End != 150000 || state.Chapters[1].End != 600000 {
		t.Errorf("ends = %d, %d", state.Chapters[0].End, state.Chapters[1].End)
	}
	if !state.Chapters[1].ExcludeFromTOC || state.Chapters[1].Title != "Sponsor" {
		t.Errorf("second chapter = %+v", state.Chapters[1])
	}

	rr = e.do(t, http.MethodGet, "/sessions/"+s.ID+"/export/list", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("export status = %d", rr.Code)
	}
	if got := rr.Body.String(); got != "00:00:00 Introduction\n00:02:30 _Sponsor\n" {
		t.Errorf("list = %q", got)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestChapters_AddRejectsBadStart(t *testing.T) {
	e := setupTestServer(t)
	s := createSession(t, e, CreateSessionRequest{})

	for _, in := range []ChapterInput{
		{Title: "No start"},
		{Title: "Bad", Start: "1:99"},
		{Title: "Negative", StartMs: floatPtr(-5)},
	} {
		rr := e.do(t, http.MethodPost, "/sessions/"+s.ID+"/chapters", in)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", in.Title, rr.Code)
		}
	}
}

func TestChapters_RejectEmptyTitle(t *testing.T) {
	e := setupTestServer(t)
	s := createSession(t, e, CreateSessionRequest{})

	for _, title := range []string{"", "   ", "_"} {
		rr := e.do(t, http.MethodPost, "/sessions/"+s.ID+"/chapters", ChapterInput{Title: title, Start: "00:01:00"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("add %q: status = %d, want 400", title, rr.Code)
		}
	}

	rr := e.do(t, http.MethodPut, "/sessions/"+s.ID+"/chapters", ReplaceChaptersRequest{Chapters: []ChapterInput{
		{Title: "Start", StartMs: floatPtr(0)},
		{Title: "", StartMs: floatPtr(1000)},
	}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("replace status = %d, want 400", rr.Code)
	}
	var resp ErrorResponse
	decodeInto(t, rr, &resp)
	if resp.Code != "BAD_REQUEST" {
		t.Errorf("code = %q, want BAD_REQUEST", resp.Code)
	}

	rr = e.do(t, http.MethodGet, "/sessions/"+s.ID+"/chapters", nil)
	var state ChaptersResponse
	decodeInto(t, rr, &state)
	if len(state.Chapters) != 1 || state.Chapters[0].Title != "Introduction" {
		t.Errorf("chapters changed after rejected input: %+v", state.Chapters)
	}
}

func TestChapters_ReplaceAll(t *testing.T) {
	e := setupTestServer(t)
	s := createSession(t, e, CreateSessionRequest{DurationS: floatPtr(90)})

	toc := false
	rr := e.do(t, http.MethodPut, "/sessions/"+s.ID+"/chapters", ReplaceChaptersRequest{Chapters: []ChapterInput{
		{Title: "Late", StartMs: floatPtr(120000)},
		{Title: "Middle", Start: "00:00:30.250", TOC: &toc},
		{Title: "Start", StartMs: floatPtr(0)},
	}})
	if rr.Code != http.StatusOK {
		t.Fatalf("replace status = %d: %s", rr.Code, rr.Body.String())
	}
	var state ChaptersResponse
	decodeInto(t, rr, &state)

	if len(state.Chapters) != 3 || state.Chapters[0].Title != "Start" || state.Chapters[2].Title != "Late" {
		t.Fatalf("chapters = %+v", state.Chapters)
	}
	if !state.UsesMs {
		t.Errorf("uses_ms should be true")
	}
	if state.Chapters[2].Warning == "" {
		t.Errorf("chapter past the end should carry a warning")
	}
	if !state.Chapters[1].ExcludeFromTOC {
		t.Errorf("toc:false should exclude the chapter")
	}

	rr = e.do(t, http.MethodPut, "/sessions/"+s.ID+"/chapters", ReplaceChaptersRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty replace status = %d, want 400", rr.Code)
	}
	if body := decodeJSONBody(t, rr); body["code"] != "EMPTY_TIMELINE" {
		t.Errorf("code = %v", body["code"])
	}

	rr = e.do(t, http.MethodGet, "/sessions/"+s.ID+"/chapters", nil)
	decodeInto(t, rr, &state)
	if len(state.Chapters) != 3 {
		t.Errorf("rejected replace changed the timeline: %d chapters", len(state.Chapters))
	}
}

func TestDuration_SetAndClear(t *testing.T) {
	e := setupTestServer(t)
	s := createSession(t, e, CreateSessionRequest{})

	rr := e.do(t, http.MethodPut, "/sessions/"+s.ID+"/duration", DurationRequest{DurationS: floatPtr(42.5)})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var state ChaptersResponse
	decodeInto(t, rr, &state)
	if state.DurationS == nil || *state.DurationS != 42.5 {
		t.Fatalf("duration = %v", state.DurationS)
	}
	if state.Chapters[0].End != 42500 {
		t.Errorf("last end = %d, want 42500", state.Chapters[0].End)
	}

	rr = e.do(t, http.MethodPut, "/sessions/"+s.ID+"/duration", `{"duration_s": null}`)
	decodeInto(t, rr, &state)
	if state.DurationS != nil {
		t.Errorf("duration should be unknown")
	}
	if state.Chapters[0].End != -1 {
		t.Errorf("last end = %d, want -1", state.Chapters[0].End)
	}
}

func TestImport_FatalLeavesChapters(t *testing.T) {
	e := setupTestServer(t)
	s := createSession(t, e, CreateSessionRequest{})

	cases := []struct {
		format, body, code string
		status             int
	}{
		{"json", `{"version":"1.2.0"}`, "INVALID_DOCUMENT", http.StatusUnprocessableEntity},
		{"json", `not json`, "INVALID_DOCUMENT", http.StatusUnprocessableEntity},
		{"json", `{"chapters":[]}`, "NO_CHAPTERS", http.StatusUnprocessableEntity},
		{"podlove", `<psc:chapters xmlns:psc="http://podlove.org/simple-chapters"></psc:chapters>`, "NO_CHAPTERS", http.StatusUnprocessableEntity},
		{"list", `00:00 Intro`, "BAD_REQUEST", http.StatusBadRequest},
	}
	for _, tc := range cases {
		rr := e.do(t, http.MethodPost, "/sessions/"+s.ID+"/import/"+tc.format, tc.body)
		if rr.Code != tc.status {
			t.Errorf("%s %q: status = %d, want %d", tc.format, tc.body, rr.Code, tc.status)
			continue
		}
		if body := decodeJSONBody(t, rr); body["code"] != tc.code {
			t.Errorf("%s %q: code = %v, want %s", tc.format, tc.body, body["code"], tc.code)
		}
	}

	rr := e.do(t, http.MethodGet, "/sessions/"+s.ID+"/chapters", nil)
	var state ChaptersResponse
	decodeInto(t, rr, &state)
	if len(state.Chapters) != 1 || state.Chapters[0].Title != "Introduction" {
		t.Errorf("timeline changed: %+v", state.Chapters)
	}
}

func TestImport_WithImages(t *testing.T) {
	e := setupTestServer(t)

	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cover.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer images.Close()

	s := createSession(t, e, CreateSessionRequest{DurationS: floatPtr(120)})
	doc := `{"version":"1.2.0","chapters":[
		{"startTime": 0, "title": "Intro", "img": "` + images.URL + `/cover.png"},
		{"startTime": "00:01:00", "title": "Missing image", "img": "` + images.URL + `/gone.png"},
		{"startTime": 90, "title": "Link", "url": "https://example.com"}
	]}`

	rr := e.do(t, http.MethodPost, "/sessions/"+s.ID+"/import/json", doc)
	if rr.Code != http.StatusOK {
		t.Fatalf("import status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp ImportResponse
	decodeInto(t, rr, &resp)
	if resp.Result.Chapters != 3 || resp.Result.Images != 1 || resp.Result.ImagesFailed != 1 {
		t.Errorf("result = %+v", resp.Result)
	}
	imageID := resp.Chapters.Chapters[0].ImageID
	if imageID == "" {
		t.Fatal("first chapter should have an image")
	}
	if resp.Chapters.Chapters[1].ImageID != "" {
		t.Errorf("failed image should leave chapter without image")
	}

	rr = e.do(t, http.MethodGet, "/images/image-"+imageID+".jpg", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get image status = %d", rr.Code)
	}
	if !bytes.Equal(rr.Body.Bytes(), pngBytes) {
		t.Errorf("image bytes differ")
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}

	rr = e.do(t, http.MethodGet, "/sessions/"+s.ID+"/export/podlove?images=1&base_url=https://cdn.example/ep1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("export status = %d", rr.Code)
	}
	out := rr.Body.String()
	if !strings.Contains(out, `image="https://cdn.example/ep1/image-`+imageID+`.jpg"`) {
		t.Errorf("podlove export missing image link: %s", out)
	}
	if !strings.Contains(out, `href="https://example.com"`) {
		t.Errorf("podlove export missing href: %s", out)
	}

	rr = e.do(t, http.MethodDelete, "/sessions/"+s.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if n, _ := e.repo.CountImages(context.Background()); n != 0 {
		t.Errorf("closing the session should delete its images, %d left", n)
	}
}

func TestExport_ContentDisposition(t *testing.T) {
	e := setupTestServer(t)
	s := createSession(t, e, CreateSessionRequest{MediaFilename: "Show: Episode/1.mp3"})

	rr := e.do(t, http.MethodGet, "/sessions/"+s.ID+"/export/json", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	want := `attachment; filename="Show_ Episode_1.json"`
	if got := rr.Header().Get("Content-Disposition"); got != want {
		t.Errorf("Content-Disposition = %q, want %q", got, want)
	}

	rr = e.do(t, http.MethodGet, "/sessions/"+s.ID+"/export/edl", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown format status = %d", rr.Code)
	}
	rr = e.do(t, http.MethodGet, "/sessions/"+s.ID+"/export/json?images=maybe", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad images flag status = %d", rr.Code)
	}
}

func TestTags_RequiresDuration(t *testing.T) {
	e := setupTestServer(t)
	s := createSession(t, e, CreateSessionRequest{})

	rr := e.do(t, http.MethodGet, "/sessions/"+s.ID+"/tags", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}

	e.do(t, http.MethodPut, "/sessions/"+s.ID+"/duration", DurationRequest{DurationS: floatPtr(30)})
	rr = e.do(t, http.MethodGet, "/sessions/"+s.ID+"/tags", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeJSONBody(t, rr)
	chapters, ok := body["chapters"].([]interface{})
	if !ok || len(chapters) != 1 {
		t.Errorf("tag plan chapters = %v", body["chapters"])
	}
}

func TestImages_UploadAndCover(t *testing.T) {
	e := setupTestServer(t)
	s := createSession(t, e, CreateSessionRequest{})

	rr := e.do(t, http.MethodPost, "/sessions/"+s.ID+"/images?cover=1", pngBytes)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rr.Code, rr.Body.String())
	}
	var img ImageResponse
	decodeInto(t, rr, &img)
	if img.ContentType != "image/png" || img.Size != int64(len(pngBytes)) {
		t.Errorf("image = %+v", img)
	}

	rr = e.do(t, http.MethodGet, "/sessions/"+s.ID, nil)
	var got SessionResponse
	decodeInto(t, rr, &got)
	if got.CoverImageID != img.ImageID {
		t.Errorf("cover = %q, want %q", got.CoverImageID, img.ImageID)
	}

	rr = e.do(t, http.MethodPost, "/sessions/"+s.ID+"/images", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty upload status = %d", rr.Code)
	}

	rr = e.do(t, http.MethodGet, "/images/"+img.ImageID, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("get by bare id status = %d", rr.Code)
	}
	rr = e.do(t, http.MethodGet, "/images/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing image status = %d", rr.Code)
	}
}

func TestImages_RejectsRemoteClients(t *testing.T) {
	e := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/images/anything", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestUpdateSession(t *testing.T) {
	e := setupTestServer(t)
	s := createSession(t, e, CreateSessionRequest{})

	name := "renamed.m4a"
	rr := e.do(t, http.MethodPatch, "/sessions/"+s.ID, UpdateSessionRequest{MediaFilename: &name})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got SessionResponse
	decodeInto(t, rr, &got)
	if got.MediaFilename != name {
		t.Errorf("media filename = %q", got.MediaFilename)
	}

	bogus := "not-an-image"
	rr = e.do(t, http.MethodPatch, "/sessions/"+s.ID, UpdateSessionRequest{CoverImageID: &bogus})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown cover status = %d", rr.Code)
	}
}

func TestStatus(t *testing.T) {
	e := setupTestServer(t)
	createSession(t, e, CreateSessionRequest{})

	rr := e.do(t, http.MethodGet, "/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp StatusResponse
	decodeInto(t, rr, &resp)
	if resp.State != "editing" || resp.Sessions != 1 || resp.ReaperPaused {
		t.Errorf("status = %+v", resp)
	}
}

func TestImages_RangeAndHead(t *testing.T) {
	e := setupTestServer(t)
	s := createSession(t, e, CreateSessionRequest{})

	rr := e.do(t, http.MethodPost, "/sessions/"+s.ID+"/images", pngBytes)
	var img ImageResponse
	decodeInto(t, rr, &img)

	req := httptest.NewRequest(http.MethodGet, "/images/"+img.ImageID, nil)
	req.RemoteAddr = "127.0.0.1:40000"
	req.Header.Set("Range", "bytes=0-3")
	rr = httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("range status = %d, want 206", rr.Code)
	}
	if !bytes.Equal(rr.Body.Bytes(), pngBytes[:4]) {
		t.Errorf("range body = %q", rr.Body.Bytes())
	}

	req = httptest.NewRequest(http.MethodHead, "/images/"+img.ImageID, nil)
	req.RemoteAddr = "127.0.0.1:40000"
	rr = httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("head status = %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("HEAD should not return a body")
	}
}
