package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kinber/kinber/internal/config"
	"github.com/kinber/kinber/internal/db"
	"github.com/kinber/kinber/internal/identity"
	"github.com/kinber/kinber/internal/models"
	"gorm.io/gorm"
)

const testThreadID = "6f1c2f4e-9a51-4a7e-8d38-3a0f6b1d2c11"

// writeConfig writes a sqlite-backed config pointing at backendURL and
// returns its path.
func writeConfig(t *testing.T, backendURL string) string {
	t.Helper()
	dir := t.TempDir()
	data := fmt.Sprintf(`backend:
  url: %s
identity:
  url: http://127.0.0.1:1
  anon_key: anon
database:
  driver: sqlite
  dsn: %s
log:
  level: error
`, backendURL, filepath.Join(dir, "kinber.db"))
	path := filepath.Join(dir, "kinber.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// openDB connects to the database named in the config at path.
func openDB(t *testing.T, path string) *gorm.DB {
	t.Helper()
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, _ := gormDB.DB()
	t.Cleanup(func() { sqlDB.Close() })
	return gormDB
}

// signIn stores a session that does not expire.
func signIn(t *testing.T, gormDB *gorm.DB) {
	t.Helper()
	s := &identity.Session{
		AccessToken: "token-1",
		User:        identity.User{ID: "user-1", Email: "ada@example.com", Name: "Ada"},
	}
	store := &identity.GormStore{DB: gormDB}
	if err := store.Save(context.Background(), s); err != nil {
		t.Fatalf("save session: %v", err)
	}
}

func seedThread(t *testing.T, gormDB *gorm.DB, id, title string) {
	t.Helper()
	if err := gormDB.Create(&models.Thread{ThreadID: id, Title: title}).Error; err != nil {
		t.Fatalf("seed thread: %v", err)
	}
}

// run executes the root command with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runWithInput(t, "", args...)
}

func runWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// fakeBackend answers thread creation and agent start requests.
type fakeBackend struct {
	mu      sync.Mutex
	created int
	started []map[string]interface{}
	reply   string
	fail    bool

	// triplets holds the bodies of triplet requests.
	triplets []map[string]interface{}
}

func (f *fakeBackend) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/threads/":
			f.created++
			json.NewEncoder(w).Encode(map[string]string{"thread_id": testThreadID})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/agent/start"):
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			f.started = append(f.started, body)
			if f.fail {
				http.Error(w, `{"detail":"boom"}`, http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"assistant_reply": f.reply}})
		case r.Method == http.MethodPost && r.URL.Path == "/api/triplet/stream":
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			f.triplets = append(f.triplets, body)
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"model\":\"gpt\",\"response\":\"GPT answer\",\"elapsed\":1.5}\n\n")
			fmt.Fprint(w, "data: {\"model\":\"claude\",\"response\":\"Claude answer\"}\n\n")
			fmt.Fprint(w, "data: {\"model\":\"deepseek\",\"response\":\"DeepSeek answer\"}\n\n")
			fmt.Fprint(w, "data: {\"model\":\"verdict\",\"response\":\"Claude is clearest.\"}\n\n")
			if body["document_context"] == nil {
				fmt.Fprint(w, "data: {\"document_context\":\"notes: 42\"}\n\n")
			}
			fmt.Fprint(w, "data: {\"done\":true}\n\n")
		case r.Method == http.MethodGet && r.URL.Path == "/api/threads/"+testThreadID:
			json.NewEncoder(w).Encode(map[string]interface{}{"messages": []map[string]string{
				{"role": "user", "content": "earlier question"},
				{"role": "assistant", "content": "earlier answer"},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}
