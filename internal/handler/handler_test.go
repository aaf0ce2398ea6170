package handler_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blogpulse/internal/db"
	"github.com/blogpulse/internal/handler"
	"github.com/blogpulse/internal/metrics"
	"github.com/blogpulse/internal/middleware"
	"github.com/blogpulse/internal/router"
	"github.com/blogpulse/internal/service"
	"github.com/blogpulse/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const adminPassword = "s3cret-pass"

type testServer struct {
	engine *gin.Engine
	posts  *service.PostService
}

// browser keeps the session cookie between requests like a real browser would.
type browser struct {
	t       *testing.T
	srv     *testServer
	cookies map[string]*http.Cookie
}

func setupTestServer(t *testing.T, limiter *middleware.RateLimiter) *testServer {
	t.Helper()
	return setupTestServerWithOptions(t, router.Options{CommentLimiter: limiter})
}

func setupTestServerWithOptions(t *testing.T, opts router.Options) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:handler-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	admin := service.NewAdminService(gdb)
	if err := admin.EnsureAdmin("admin", adminPassword); err != nil {
		t.Fatalf("failed to seed admin: %v", err)
	}

	reg := prometheus.NewRegistry()
	engagement := service.NewEngagementService(
		store.BackendState{},
		nil,
		store.NewLocalStore(gdb, nil),
		admin,
		service.EngagementOptions{Metrics: metrics.NewCollector(reg), DayLocation: time.UTC},
	)
	posts := service.NewPostService(gdb)
	api := handler.NewAPI(engagement, posts, admin, "https://blog.example.com", nil)

	opts.SessionSecret = "test-secret"
	opts.Gatherer = reg
	engine := router.SetupRouter(api, opts)
	return &testServer{engine: engine, posts: posts}
}

func (s *testServer) newBrowser(t *testing.T) *browser {
	return &browser{t: t, srv: s, cookies: make(map[string]*http.Cookie)}
}

func (b *browser) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	b.t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	for _, ck := range b.cookies {
		req.AddCookie(ck)
	}

	rr := httptest.NewRecorder()
	b.srv.engine.ServeHTTP(rr, req)
	for _, ck := range rr.Result().Cookies() {
		b.cookies[ck.Name] = ck
	}
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode %q: %v", rr.Body.String(), err)
	}
}

func adminHeader() map[string]string {
	return map[string]string{handler.AdminSecretHeader: adminPassword}
}

func seedPost(t *testing.T, s *testServer, slug, title, body, category string, publishedAt time.Time) {
	t.Helper()
	if _, err := s.posts.Upsert(t.Context(), service.PostInput{Slug: slug, Title: title, Body: body, Category: category, PublishedAt: publishedAt}); err != nil {
		t.Fatalf("failed to seed post: %v", err)
	}
}

func TestPing(t *testing.T) {
	s := setupTestServer(t, nil)
	rr := s.newBrowser(t).do(http.MethodGet, "/ping", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "pong") {
		t.Fatalf("unexpected ping response %d %s", rr.Code, rr.Body.String())
	}
}

func TestBackendReportsLocal(t *testing.T) {
	s := setupTestServer(t, nil)
	rr := s.newBrowser(t).do(http.MethodGet, "/api/backend", "", nil)

	var resp struct {
		Backend         string `json:"backend"`
		RemoteAvailable bool   `json:"remote_available"`
	}
	decode(t, rr, &resp)
	if resp.Backend != "local" || resp.RemoteAvailable {
		t.Fatalf("unexpected backend %+v", resp)
	}
}

func TestToggleLikeFlow(t *testing.T) {
	s := setupTestServer(t, nil)
	alice := s.newBrowser(t)
	bob := s.newBrowser(t)

	var state service.LikeState
	decode(t, alice.do(http.MethodPost, "/api/posts/future-fear/like", `{"liked":false}`, nil), &state)
	if state.Count != 1 || !state.Liked {
		t.Fatalf("unexpected state after like %+v", state)
	}

	decode(t, bob.do(http.MethodPost, "/api/posts/future-fear/like", `{"liked":false}`, nil), &state)
	if state.Count != 2 {
		t.Fatalf("expected 2 likes, got %+v", state)
	}

	var likes struct {
		Likes []service.LikeState `json:"likes"`
	}
	decode(t, alice.do(http.MethodGet, "/api/likes?post=future-fear&post=other", "", nil), &likes)
	if len(likes.Likes) != 2 || !likes.Likes[0].Liked || likes.Likes[0].Count != 2 || likes.Likes[1].Liked {
		t.Fatalf("unexpected like states %+v", likes.Likes)
	}

	decode(t, alice.do(http.MethodPost, "/api/posts/future-fear/like", `{"liked":true}`, nil), &state)
	if state.Count != 1 || state.Liked {
		t.Fatalf("unexpected state after unlike %+v", state)
	}
}

func TestGetLikesRequiresPost(t *testing.T) {
	s := setupTestServer(t, nil)
	if rr := s.newBrowser(t).do(http.MethodGet, "/api/likes", "", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCommentLifecycle(t *testing.T) {
	s := setupTestServer(t, nil)
	b := s.newBrowser(t)

	var empty struct {
		Comments []map[string]any `json:"comments"`
		Empty    bool             `json:"empty"`
	}
	decode(t, b.do(http.MethodGet, "/api/posts/p/comments", "", nil), &empty)
	if !empty.Empty || len(empty.Comments) != 0 {
		t.Fatalf("expected empty marker, got %+v", empty)
	}

	if rr := b.do(http.MethodPost, "/api/posts/p/comments", `{"author":" ","text":"hi"}`, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank author, got %d", rr.Code)
	}

	rr := b.do(http.MethodPost, "/api/posts/p/comments", `{"author":"Ann","text":"first!"}`, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	var created struct {
		ID    string `json:"id"`
		Local bool   `json:"local"`
	}
	decode(t, rr, &created)
	if !created.Local || !strings.HasPrefix(created.ID, store.LocalIDPrefix) {
		t.Fatalf("expected local comment, got %+v", created)
	}
	if strings.Contains(rr.Body.String(), "192.0.2.1") {
		t.Fatal("client ip must not be exposed")
	}

	var list struct {
		Comments []struct {
			ID     string `json:"id"`
			Author string `json:"author"`
		} `json:"comments"`
		Empty  bool   `json:"empty"`
		Source string `json:"source"`
	}
	decode(t, b.do(http.MethodGet, "/api/posts/p/comments", "", nil), &list)
	if list.Empty || len(list.Comments) != 1 || list.Comments[0].Author != "Ann" || list.Source != "local" {
		t.Fatalf("unexpected list %+v", list)
	}

	path := "/api/posts/p/comments/" + created.ID
	if rr := b.do(http.MethodDelete, path, "", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without secret, got %d", rr.Code)
	}
	if rr := b.do(http.MethodDelete, path, "", map[string]string{handler.AdminSecretHeader: "guess"}); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong secret, got %d", rr.Code)
	}
	if rr := b.do(http.MethodDelete, path, "", adminHeader()); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if rr := b.do(http.MethodDelete, path, "", adminHeader()); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rr.Code)
	}
}

func TestDeleteRemoteIDWithoutRemote(t *testing.T) {
	s := setupTestServer(t, nil)
	rr := s.newBrowser(t).do(http.MethodDelete, "/api/posts/p/comments/0f8fad5b-d9cb-469f-a165-70867728950e", "", adminHeader())
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestListCommentsRejectsBadSince(t *testing.T) {
	s := setupTestServer(t, nil)
	if rr := s.newBrowser(t).do(http.MethodGet, "/api/posts/p/comments?since=yesterday", "", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestBulkDelete(t *testing.T) {
	s := setupTestServer(t, nil)
	b := s.newBrowser(t)

	var ids []string
	for i := 0; i < 3; i++ {
		rr := b.do(http.MethodPost, "/api/posts/p/comments", fmt.Sprintf(`{"author":"Ann","text":"c%d","form_id":"f%d"}`, i, i), nil)
		var c struct {
			ID string `json:"id"`
		}
		decode(t, rr, &c)
		ids = append(ids, c.ID)
	}
	ids = append(ids, "local_missing")

	body, _ := json.Marshal(map[string][]string{"ids": ids})
	if rr := b.do(http.MethodPost, "/api/posts/p/comments/bulk-delete", string(body), nil); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	var result struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	decode(t, b.do(http.MethodPost, "/api/posts/p/comments/bulk-delete", string(body), adminHeader()), &result)
	if result.Succeeded != 3 || result.Failed != 1 {
		t.Fatalf("expected 3/1, got %+v", result)
	}

	if rr := b.do(http.MethodPost, "/api/posts/p/comments/bulk-delete", `{"ids":[]}`, adminHeader()); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty ids, got %d", rr.Code)
	}
}

func TestRecordViewDedupe(t *testing.T) {
	s := setupTestServer(t, nil)
	alice := s.newBrowser(t)
	bob := s.newBrowser(t)

	var view service.ViewResult
	decode(t, alice.do(http.MethodPost, "/api/views", `{"page":"/posts/future-fear"}`, nil), &view)
	if !view.Counted || view.Count != 1 || view.PageID != "posts_future_fear" {
		t.Fatalf("unexpected first view %+v", view)
	}
	decode(t, alice.do(http.MethodPost, "/api/views", `{"page":"/posts/future-fear"}`, nil), &view)
	if view.Counted || view.Count != 1 {
		t.Fatalf("expected dedupe, got %+v", view)
	}
	decode(t, bob.do(http.MethodPost, "/api/views", `{"page":"/posts/future-fear"}`, nil), &view)
	if !view.Counted || view.Count != 2 {
		t.Fatalf("expected second visitor counted, got %+v", view)
	}
}

func TestListPostsAndStats(t *testing.T) {
	s := setupTestServer(t, nil)
	base := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	seedPost(t, s, "go-notes", "Go Notes", "channels", "Tech", base)
	seedPost(t, s, "future-fear", "On Future Fear", "anxiety", "Essay", base.Add(24*time.Hour))
	seedPost(t, s, "rat", "The Bouncing Rat", "easter egg", "Tech", base.Add(48*time.Hour))

	b := s.newBrowser(t)
	b.do(http.MethodPost, "/api/posts/go-notes/like", `{"liked":false}`, nil)
	b.do(http.MethodPost, "/api/views", `{"page":"/posts/go-notes"}`, nil)

	var list struct {
		Posts []struct {
			Slug  string `json:"slug"`
			Likes int    `json:"likes"`
			Liked bool   `json:"liked"`
		} `json:"posts"`
		Total      int      `json:"total"`
		Categories []string `json:"categories"`
	}
	decode(t, b.do(http.MethodGet, "/api/posts", "", nil), &list)
	if list.Total != 3 || list.Posts[0].Slug != "rat" {
		t.Fatalf("expected newest first, got %+v", list)
	}

	decode(t, b.do(http.MethodGet, "/api/posts?sort=popular&category=tech&limit=1", "", nil), &list)
	if list.Total != 1 || list.Posts[0].Slug != "go-notes" || list.Posts[0].Likes != 1 || !list.Posts[0].Liked {
		t.Fatalf("unexpected popular listing %+v", list)
	}

	decode(t, b.do(http.MethodGet, "/api/posts?search=FEAR", "", nil), &list)
	if list.Total != 1 || list.Posts[0].Slug != "future-fear" {
		t.Fatalf("unexpected search result %+v", list)
	}

	var totals service.Totals
	decode(t, b.do(http.MethodGet, "/api/stats", "", nil), &totals)
	if totals.Posts != 3 || totals.Likes != 1 || totals.Views != 1 {
		t.Fatalf("unexpected totals %+v", totals)
	}
}

func TestGetPost(t *testing.T) {
	s := setupTestServer(t, nil)
	seedPost(t, s, "future-fear", "On Future Fear", "**bold** <script>x</script>", "Essay", time.Now())
	b := s.newBrowser(t)

	if rr := b.do(http.MethodGet, "/api/posts/missing", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	var resp struct {
		Post struct {
			HTML   string `json:"html"`
			PageID string `json:"page_id"`
		} `json:"post"`
		Like  service.LikeState  `json:"like"`
		Share service.ShareLinks `json:"share"`
	}
	decode(t, b.do(http.MethodGet, "/api/posts/future-fear", "", nil), &resp)
	if !strings.Contains(resp.Post.HTML, "<strong>bold</strong>") || strings.Contains(resp.Post.HTML, "<script") {
		t.Fatalf("unexpected html %q", resp.Post.HTML)
	}
	if resp.Post.PageID != "posts_future_fear" {
		t.Fatalf("unexpected page id %q", resp.Post.PageID)
	}
	if resp.Like.PostID != "future-fear" || resp.Like.Liked {
		t.Fatalf("unexpected like state %+v", resp.Like)
	}
	if resp.Share.URL != "https://blog.example.com/posts/future-fear" {
		t.Fatalf("unexpected share url %q", resp.Share.URL)
	}
}

func TestAdminPostRoutes(t *testing.T) {
	s := setupTestServer(t, nil)
	b := s.newBrowser(t)
	body := `{"title":"Autumn Walk","body":"leaves","category":"Life","published_at":"2024-10-26T08:00:00Z"}`

	if rr := b.do(http.MethodPut, "/api/admin/posts/autumn", body, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if rr := b.do(http.MethodPut, "/api/admin/posts/autumn", body, adminHeader()); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if rr := b.do(http.MethodPut, "/api/admin/posts/autumn", `{"title":"x","published_at":"soon"}`, adminHeader()); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rr.Code)
	}
	if rr := b.do(http.MethodPut, "/api/admin/posts/Bad%20Slug", `{"title":"x"}`, adminHeader()); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad slug, got %d", rr.Code)
	}
	if rr := b.do(http.MethodGet, "/api/posts/autumn", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected post to exist, got %d", rr.Code)
	}
	if rr := b.do(http.MethodDelete, "/api/admin/posts/autumn", "", adminHeader()); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr := b.do(http.MethodDelete, "/api/admin/posts/autumn", "", adminHeader()); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestCommentRateLimit(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.CommentRateLimiterConfig(1, 2))
	defer limiter.Stop()
	s := setupTestServer(t, limiter)
	b := s.newBrowser(t)

	var codes []int
	for i := 0; i < 3; i++ {
		rr := b.do(http.MethodPost, "/api/posts/p/comments", fmt.Sprintf(`{"author":"Ann","text":"spam %d"}`, i), nil)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusCreated || codes[1] != http.StatusCreated || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}

func TestCommentRateLimitSurvivesDroppedCookies(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.CommentRateLimiterConfig(1, 2))
	defer limiter.Stop()
	s := setupTestServer(t, limiter)

	var codes []int
	for i := 0; i < 5; i++ {
		rr := s.newBrowser(t).do(http.MethodPost, "/api/posts/p/comments", fmt.Sprintf(`{"author":"Ann","text":"spam %d"}`, i), nil)
		codes = append(codes, rr.Code)
	}
	want := []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, codes)
		}
	}
	if limiter.Count() != 1 {
		t.Fatalf("expected a single bucket, got %d", limiter.Count())
	}
}

func TestAdminRoutesRateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.AdminRateLimiterConfig(1, 2))
	defer limiter.Stop()
	s := setupTestServerWithOptions(t, router.Options{AdminLimiter: limiter})
	b := s.newBrowser(t)
	guess := map[string]string{handler.AdminSecretHeader: "guess"}

	if rr := b.do(http.MethodDelete, "/api/posts/p/comments/local_1", "", guess); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if rr := b.do(http.MethodPost, "/api/posts/p/comments/bulk-delete", `{"ids":["local_1"]}`, guess); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if rr := b.do(http.MethodDelete, "/api/admin/posts/autumn", "", adminHeader()); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the admin budget is spent, got %d", rr.Code)
	}
	if rr := b.do(http.MethodDelete, "/api/posts/p/comments/local_1", "", adminHeader()); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 even with the right secret, got %d", rr.Code)
	}

	// comment submission has its own budget
	if rr := b.do(http.MethodPost, "/api/posts/p/comments", `{"author":"Ann","text":"still here"}`, nil); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
}

func TestEngagementUsesCatalogSlug(t *testing.T) {
	s := setupTestServer(t, nil)
	seedPost(t, s, "my-post", "My Post", "body", "Tech", time.Now())
	b := s.newBrowser(t)

	if rr := b.do(http.MethodPost, "/api/posts/My-Post/like", `{"liked":false}`, nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr := b.do(http.MethodPost, "/api/posts/My-Post/comments", `{"author":"Ann","text":"hi"}`, nil); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	b.do(http.MethodPost, "/api/views", `{"page":"/posts/My-Post"}`, nil)

	var likes struct {
		Likes []service.LikeState `json:"likes"`
	}
	decode(t, b.do(http.MethodGet, "/api/likes?post=my-post&post=My-Post", "", nil), &likes)
	if len(likes.Likes) != 2 || likes.Likes[0].Count != 1 || likes.Likes[1].Count != 1 || likes.Likes[1].PostID != "my-post" {
		t.Fatalf("expected both spellings to share one counter, got %+v", likes.Likes)
	}

	var list struct {
		Comments []map[string]any `json:"comments"`
	}
	decode(t, b.do(http.MethodGet, "/api/posts/my-post/comments", "", nil), &list)
	if len(list.Comments) != 1 {
		t.Fatalf("expected comment under the catalog slug, got %+v", list.Comments)
	}

	var totals service.Totals
	decode(t, b.do(http.MethodGet, "/api/stats", "", nil), &totals)
	if totals.Likes != 1 || totals.Views != 1 {
		t.Fatalf("expected like and view in stats, got %+v", totals)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t, nil)
	b := s.newBrowser(t)
	b.do(http.MethodPost, "/api/posts/p/comments", `{"author":"Ann","text":"hi"}`, nil)

	rr := b.do(http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `blogpulse_comments_submitted_total{backend="local"} 1`) {
		t.Fatalf("expected comment counter in metrics output:\n%s", rr.Body.String())
	}
}
