package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/plume/journal"
	"github.com/hazyhaar/plume/prepare"
	"github.com/hazyhaar/plume/queue"
)

func TestRequireToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	h := requireToken(string(hash))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(200)
	}))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer s3cret", 200},
		{"wrong token", "Bearer nope", 401},
		{"missing header", "", 401},
		{"no bearer prefix", "s3cret", 401},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/stats", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("code: got %d, want %d", w.Code, tc.want)
			}
			if tc.want == 401 {
				if ct := w.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("content type: got %q", ct)
				}
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{prepare.ErrNothingToPost, 400},
		{queue.ErrNotFound, 404},
		{journal.ErrNotFound, 404},
		{os.ErrPermission, 500},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v): got %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestResolveConfig_Defaults(t *testing.T) {
	t.Setenv("BROWSER_STEALTH", "")
	cfg, err := resolveConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath == "" {
		t.Error("db path default missing")
	}
	if cfg.Queue.Poll <= 0 {
		t.Error("queue poll default missing")
	}
	if cfg.Retention.AttemptsDays <= 0 || cfg.Retention.ArchiveDays <= 0 {
		t.Error("retention defaults missing")
	}
	if cfg.Browser.Stealth != "headless" {
		t.Errorf("stealth default: got %q", cfg.Browser.Stealth)
	}
}

func TestResolveConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plume.yaml")
	body := `
listen: ":9999"
db_path: /tmp/plume-test.db
poster:
  base_url: https://x.com
  handle: plumebot
browser:
  stealth: headful
  recycle_interval: 2h
queue:
  poll: 10s
retention:
  attempts_days: 7
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := resolveConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9999" {
		t.Errorf("listen: got %q", cfg.Listen)
	}
	if cfg.Poster.Handle != "plumebot" {
		t.Errorf("handle: got %q", cfg.Poster.Handle)
	}
	if cfg.Browser.RecycleInterval != 2*time.Hour {
		t.Errorf("recycle interval: got %v", cfg.Browser.RecycleInterval)
	}
	if cfg.Queue.Poll != 10*time.Second {
		t.Errorf("poll: got %v", cfg.Queue.Poll)
	}
	if cfg.Retention.AttemptsDays != 7 {
		t.Errorf("attempts days: got %d", cfg.Retention.AttemptsDays)
	}
	// Unset sections still get defaults.
	if cfg.Retention.ArchiveDays != 180 {
		t.Errorf("archive days default: got %d", cfg.Retention.ArchiveDays)
	}
}

func TestStealthLevel(t *testing.T) {
	if stealthLevel("headful") == stealthLevel("headless") {
		t.Error("headful and headless map to the same level")
	}
	if stealthLevel("") != stealthLevel("headless") {
		t.Error("empty should default to headless")
	}
}
