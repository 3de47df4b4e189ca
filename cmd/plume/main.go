// Command plume is the thread posting service. It owns one Chrome, one
// SQLite file, and a queue of chains to post, and exposes both a JSON
// ops API and MCP tools over the same service layer.
//
// Usage:
//
//	plume -config plume.yaml
//	PLATFORM_HANDLE=plumebot AUTH_TOKEN=s3cret plume
package main

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/plume/browser"
	"github.com/hazyhaar/plume/dbopen"
	"github.com/hazyhaar/plume/dbwatch"
	"github.com/hazyhaar/plume/journal"
	"github.com/hazyhaar/plume/mcpquic"
	"github.com/hazyhaar/plume/poster"
	"github.com/hazyhaar/plume/prepare"
	"github.com/hazyhaar/plume/pulse"
	"github.com/hazyhaar/plume/queue"
	"github.com/hazyhaar/plume/session"
	"github.com/hazyhaar/plume/shield"
	"github.com/hazyhaar/plume/trace"
)

func main() {
	configPath := flag.String("config", "", "path to plume.yaml config file")
	flag.Parse()

	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// Logs go to stderr; stdout belongs to the MCP stdio transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath); err != nil {
		logger.Error("plume: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string) error {
	cfg, err := resolveConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tokenHash, err := resolveTokenHash()
	if err != nil {
		return err
	}

	dbOpts := []dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(journal.Schema),
		dbopen.WithSchema(queue.Schema),
		dbopen.WithSchema(shield.Schema),
		dbopen.WithSchema(pulse.Schema),
	}

	// Optional SQL tracing: TRACE_DB names a separate file that receives
	// one row per statement, written with the plain driver so the trace
	// store never traces itself.
	if tracePath := os.Getenv("TRACE_DB"); tracePath != "" {
		traceDB, err := dbopen.Open(tracePath, dbopen.WithMkdirAll(), dbopen.WithSchema(trace.Schema))
		if err != nil {
			return fmt.Errorf("open trace db: %w", err)
		}
		defer traceDB.Close()
		traceStore := trace.NewStore(traceDB)
		trace.SetStore(traceStore)
		defer traceStore.Close()
		dbOpts = append(dbOpts, dbopen.WithTrace())
		logger.Info("sql tracing enabled", "path", tracePath)
	}

	// One database file for the journal, the queue, the shield rules and
	// the operational record.
	db, err := dbopen.Open(cfg.DBPath, dbOpts...)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}
	defer db.Close()

	hb := pulse.NewHeartbeat(db, "plume", 15*time.Second, logger)
	go hb.Run(ctx)
	rec := pulse.NewRecorder(db, logger)
	go rec.Run(ctx)
	trail := pulse.NewTrail(db)

	// Session file sealed with a key derived from SESSION_SECRET. The
	// cookies in it are the account credentials.
	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	key := sha256.Sum256([]byte(secret))
	sessions, err := session.NewFileStore(cfg.DataDir, cfg.Poster.Handle+".session", key[:])
	if err != nil {
		return err
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Stealth:          stealthLevel(cfg.Browser.Stealth),
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Logger:           logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("browser start: %w", err)
	}
	defer mgr.Close()

	svc, err := poster.New(cfg.Poster, logger)
	if err != nil {
		return fmt.Errorf("poster: %w", err)
	}

	jrnl := journal.NewStore(db)
	arch := journal.NewArchiver(jrnl, logger)
	go jrnl.RunRetention(ctx, cfg.retention(), cfg.Retention.Sweep, logger)

	// The watcher wakes the worker when another process inserts into
	// chain_queue; same-process enqueues nudge the worker directly.
	notifier := dbwatch.New(db, dbwatch.Options{
		Interval: cfg.Queue.WatchInterval,
		Debounce: cfg.Queue.WatchDebounce,
		Detector: dbwatch.MaxColumn("chain_queue", "created_at"),
		Logger:   logger,
	})
	go notifier.Run(ctx)

	qstore := queue.NewStore(db)
	worker := queue.NewWorker(qstore, prepare.New(cfg.Prepare), svc, jrnl,
		&queue.BrowserPages{Manager: mgr, Origin: cfg.Poster.BaseURL, Sessions: sessions},
		queue.Config{Poll: cfg.Queue.Poll}, logger,
		queue.WithArchiver(arch),
		queue.WithWake(notifier.C()),
	)
	go worker.Run(ctx)

	// Sample queue and worker gauges once a minute.
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if counts, err := qstore.Counts(ctx); err == nil {
					rec.Record("queue_pending", float64(counts[queue.StatusPending]), "count")
				}
				st := worker.Stats()
				rec.Record("chains_completed", float64(st.Completed), "count")
				rec.Record("chains_failed", float64(st.Failed), "count")
			}
		}
	}()

	// MCP: one server, tools from all three layers.
	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    "plume",
		Version: "1.0.0",
	}, nil)
	svc.RegisterMCP(mcpSrv)
	jrnl.RegisterMCP(mcpSrv)
	worker.RegisterMCP(mcpSrv)

	// MCP transport: streamable HTTP on /mcp by default; "stdio" hands
	// stdout to the SDK; "quic" opens a dedicated UDP listener.
	mcpTransport := env("MCP_TRANSPORT", "")
	switch mcpTransport {
	case "stdio":
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("mcp stdio", "error", err)
			}
		}()
	case "quic":
		quicAddr := env("MCP_QUIC_ADDR", ":9444")
		var tlsCfg *tls.Config
		var tlsErr error
		if cert, key := os.Getenv("TLS_CERT"), os.Getenv("TLS_KEY"); cert != "" && key != "" {
			tlsCfg, tlsErr = mcpquic.ServerTLSConfig(cert, key)
		} else {
			tlsCfg, tlsErr = mcpquic.SelfSignedTLSConfig()
		}
		if tlsErr != nil {
			return fmt.Errorf("mcp quic tls: %w", tlsErr)
		}
		ql, err := mcpquic.NewListener(quicAddr, tlsCfg, mcpSrv, logger)
		if err != nil {
			return fmt.Errorf("mcp quic listen: %w", err)
		}
		defer ql.Close()
		go func() {
			if err := ql.Serve(ctx); err != nil && ctx.Err() == nil {
				logger.Error("mcp quic", "error", err)
			}
		}()
	}

	// Router.
	st := shield.NewStack(db)
	st.StartReloaders(ctx.Done())

	r := chi.NewRouter()
	for _, mw := range st.Chain {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			writeError(w, 503, err)
			return
		}
		if mgr.Browser() == nil {
			writeJSON(w, 503, map[string]string{"error": "browser not running"})
			return
		}
		writeJSON(w, 200, map[string]string{"status": "ready"})
	})

	r.Group(func(r chi.Router) {
		r.Use(requireToken(tokenHash))

		r.Post("/v1/chains", func(w http.ResponseWriter, r *http.Request) {
			var req queue.Request
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			sub, err := worker.Enqueue(r.Context(), req)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			if err := trail.Record(r.Context(), "chain_enqueued", sub.ID, fmt.Sprintf("%d texts", len(req.Texts))); err != nil {
				logger.Warn("audit", "error", err)
			}
			writeJSON(w, 202, sub)
		})

		r.Get("/v1/chains/{id}", func(w http.ResponseWriter, r *http.Request) {
			status, err := worker.ChainStatus(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, 200, status)
		})

		r.Get("/v1/posts", func(w http.ResponseWriter, r *http.Request) {
			posts, err := jrnl.RecentPosts(r.Context(), queryInt(r, "limit", 50))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			if posts == nil {
				posts = []*journal.Post{}
			}
			writeJSON(w, 200, posts)
		})

		r.Post("/v1/posts/{id}/attribution", func(w http.ResponseWriter, r *http.Request) {
			var attr journal.Attribution
			if err := json.NewDecoder(r.Body).Decode(&attr); err != nil {
				writeError(w, 400, err)
				return
			}
			attr.PostID = chi.URLParam(r, "id")
			if err := jrnl.UpsertAttribution(r.Context(), &attr); err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			if err := trail.Record(r.Context(), "attribution_written", attr.PostID, ""); err != nil {
				logger.Warn("audit", "error", err)
			}
			saved, err := jrnl.Attribution(r.Context(), attr.PostID)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, saved)
		})

		// Force a Chrome recycle between runs; 409 while a run holds the tab.
		r.Post("/v1/browser/recycle", func(w http.ResponseWriter, r *http.Request) {
			if err := mgr.Recycle(); err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			if err := trail.Record(r.Context(), "browser_recycled", "", ""); err != nil {
				logger.Warn("audit", "error", err)
			}
			writeJSON(w, 200, map[string]string{"status": "recycled"})
		})

		r.Get("/v1/audit", func(w http.ResponseWriter, r *http.Request) {
			entries, err := trail.Recent(r.Context(), queryInt(r, "limit", 50))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			if entries == nil {
				entries = []*pulse.Entry{}
			}
			writeJSON(w, 200, entries)
		})

		r.Get("/v1/metrics", func(w http.ResponseWriter, r *http.Request) {
			since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
			series, err := rec.Series(r.Context(), r.URL.Query().Get("name"), since, queryInt(r, "limit", 100))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			if series == nil {
				series = []*pulse.Metric{}
			}
			writeJSON(w, 200, series)
		})

		r.Get("/v1/stats", func(w http.ResponseWriter, r *http.Request) {
			counts, err := qstore.Counts(r.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			totals, err := jrnl.Totals(r.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			beat, err := hb.Latest(r.Context(), "plume")
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]any{
				"queue":     counts,
				"worker":    worker.Stats(),
				"journal":   totals,
				"watch":     notifier.Stats(),
				"heartbeat": beat,
			})
		})

		if mcpTransport == "" {
			r.Handle("/mcp", mcp.NewStreamableHTTPHandler(
				func(*http.Request) *mcp.Server { return mcpSrv }, nil))
		}
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Listen, "handle", cfg.Poster.Handle)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// resolveTokenHash reads the ops bearer token configuration. Operators
// either provide a pre-computed bcrypt hash (AUTH_TOKEN_HASH) or a plain
// token (AUTH_TOKEN) hashed once at boot.
func resolveTokenHash() (string, error) {
	if h := os.Getenv("AUTH_TOKEN_HASH"); h != "" {
		return h, nil
	}
	tok := os.Getenv("AUTH_TOKEN")
	if tok == "" {
		return "", fmt.Errorf("AUTH_TOKEN or AUTH_TOKEN_HASH is required")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(tok), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// requireToken returns 401 JSON unless the request carries the ops bearer
// token matching the bcrypt hash.
func requireToken(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(tok)) != nil {
				writeJSON(w, 401, map[string]string{"error": "invalid token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, prepare.ErrNothingToPost):
		return 400
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, journal.ErrNotFound):
		return 404
	case errors.Is(err, browser.ErrBusy):
		return 409
	default:
		return 500
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
