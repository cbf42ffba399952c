package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tilebridge.ai/internal/bridge"
	"tilebridge.ai/internal/mcp"
	"tilebridge.ai/internal/persistence/archive"
	"tilebridge.ai/internal/persistence/indexdb"
	persistlog "tilebridge.ai/internal/persistence/log"
	"tilebridge.ai/internal/persistence/snapshot"
	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/scene/doors"
	"tilebridge.ai/internal/transport/ndjson"
	"tilebridge.ai/internal/transport/observer"
	"tilebridge.ai/internal/transport/ws"
	"tilebridge.ai/internal/tuning"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address (ws, metrics, admin)")
		ndjsonListen = flag.String("ndjson_listen", "127.0.0.1:7070", "ndjson tcp listen address (empty to disable)")
		scenePath    = flag.String("scene", "", "scene file to load (.scene.zst or .yaml)")
		watch        = flag.Bool("watch", true, "reload the scene file when it changes")
		tuningPath   = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite plan index")

		mcpListen     = flag.String("mcp_listen", "127.0.0.1:8090", "MCP http listen address (empty to disable)")
		mcpHMACSecret = flag.String("mcp_hmac_secret", "", "MCP hmac secret (or set TB_MCP_HMAC_SECRET)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bridge] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}

	cls := doors.NewNameClassifier(tune.DoorKeywords...)
	var src scene.Source = scene.NewStatic(0, 0, 0)
	if p := strings.TrimSpace(*scenePath); p != "" {
		st, err := snapshot.LoadFile(p)
		if err != nil {
			logger.Fatalf("load scene: %v", err)
		}
		src = st
		logger.Printf("loaded scene %s layer=%d", filepath.Base(p), st.Layer)
		archiveScene(*dataDir, sceneID(p), st, cls, logger)
	} else {
		logger.Printf("no -scene given; serving an empty open scene at origin")
	}

	ctx, cancel := signalContext()
	defer cancel()

	loop := scene.NewLoop(src, cls)
	go func() {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("scene loop stopped: %v", err)
		}
	}()

	if *watch && strings.TrimSpace(*scenePath) != "" {
		stopWatch, err := watchScene(ctx, loop, *scenePath, *dataDir, cls, log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds))
		if err != nil {
			logger.Printf("scene watcher disabled: %v", err)
		} else {
			defer stopWatch()
		}
	}

	uploader, err := openUploader(*dataDir, log.New(os.Stdout, "[objstore] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("objstore: %v", err)
	}
	if uploader != nil {
		defer uploader.Close()
	}
	planLog := persistlog.NewPlanLogger(*dataDir)
	if uploader != nil {
		planLog.OnSegmentClosed(uploader.Enqueue)
	}
	defer planLog.Close()
	hub := observer.NewHub()
	sinks := []bridge.PlanSink{planLog, hub}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "plans.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		sinks = append(sinks, idx)
	}
	ingest, err := openIngest(logger)
	if err != nil {
		logger.Fatalf("ingest: %v", err)
	}
	if ingest != nil {
		defer ingest.Close()
		sinks = append(sinks, ingest)
	}

	svc, err := bridge.New(bridge.Config{Tuning: tune, Loop: loop, Sinks: sinks, Logger: logger})
	if err != nil {
		logger.Fatalf("bridge: %v", err)
	}
	if idx != nil {
		if err := idx.RecordTuning(tune, svc.TuningDigest()); err != nil {
			logger.Printf("index: record tuning: %v", err)
		}
	}

	if l := strings.TrimSpace(*ndjsonListen); l != "" {
		ln, err := net.Listen("tcp", l)
		if err != nil {
			logger.Fatalf("ndjson listen: %v", err)
		}
		nd := ndjson.NewServer(svc, log.New(os.Stdout, "[ndjson] ", log.LstdFlags|log.Lmicroseconds))
		go func() {
			if err := nd.Serve(ctx, ln); err != nil {
				logger.Printf("ndjson: %v", err)
			}
		}()
		logger.Printf("ndjson listening on %s", ln.Addr())
	}

	if l := strings.TrimSpace(*mcpListen); l != "" {
		secret := strings.TrimSpace(*mcpHMACSecret)
		if secret == "" {
			secret = strings.TrimSpace(os.Getenv("TB_MCP_HMAC_SECRET"))
		}
		if err := startMCP(ctx, l, svc, secret, log.New(os.Stdout, "[mcp] ", log.LstdFlags|log.Lmicroseconds)); err != nil {
			logger.Fatalf("mcp: %v", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(svc, idx, hub, uploader))

	if envBool("TB_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		registerAdmin(mux, svc, loop, idx, func(ctx context.Context) (string, error) {
			return archiveLive(ctx, loop, *dataDir, cls)
		})
		obsSrv := observer.NewServer(svc, hub, logger)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (TB_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("TB_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(svc, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds)).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (protocol %s, tuning %s)", *addr, tune.ProtocolVersion, svc.TuningDigest()[:12])
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func startMCP(ctx context.Context, listen string, svc *bridge.Service, secret string, logger *log.Logger) error {
	s, err := mcp.NewServer(mcp.Config{
		Handler:      svc,
		HMACSecret:   secret,
		LoopbackOnly: secret == "",
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Printf("serve: %v", err)
		}
	}()
	if secret == "" {
		logger.Printf("listening on %s (no hmac secret; loopback clients only)", ln.Addr())
	} else {
		logger.Printf("listening on %s (hmac auth)", ln.Addr())
	}
	return nil
}

// watchScene reloads path into loop whenever it is rewritten.
func watchScene(ctx context.Context, loop *scene.Loop, path, dataDir string, cls doors.Classifier, logger *log.Logger) (func(), error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := snapshot.NewWatcher(filepath.Dir(abs))
	if err != nil {
		return nil, err
	}
	go func() {
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case name, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(name) != abs {
					continue
				}
				// Editors write in several steps; settle before reloading.
				pending = time.After(150 * time.Millisecond)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Printf("watch: %v", err)
			case <-pending:
				pending = nil
				st, err := snapshot.LoadFile(abs)
				if err != nil {
					logger.Printf("reload %s: %v", filepath.Base(abs), err)
					continue
				}
				archiveScene(dataDir, sceneID(abs), st, cls, logger)
				if err := loop.Replace(ctx, st); err != nil {
					logger.Printf("replace scene: %v", err)
					continue
				}
				logger.Printf("reloaded %s", filepath.Base(abs))
			}
		}
	}()
	return func() { _ = w.Close() }, nil
}

func sceneID(path string) string {
	name := filepath.Base(path)
	for _, ext := range []string{".scene.zst", ".yaml", ".yml"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

// archiveScene keeps a copy of st keyed by digest for later replay.
func archiveScene(dataDir, id string, st *scene.Static, cls doors.Classifier, logger *log.Logger) {
	digest, _, created, err := archive.ArchiveScene(dataDir, snapshot.FromStatic(id, st), cls)
	if err != nil {
		logger.Printf("archive scene: %v", err)
		return
	}
	if created {
		logger.Printf("archived scene %s digest=%s", id, digest[:12])
	}
}

// archiveLive archives the scene currently owned by loop.
func archiveLive(ctx context.Context, loop *scene.Loop, dataDir string, cls doors.Classifier) (string, error) {
	var v1 *snapshot.SceneV1
	err := loop.Update(ctx, func(src scene.Source) {
		if st, ok := src.(*scene.Static); ok {
			c := snapshot.FromStatic("live", st)
			v1 = &c
		}
	})
	if err != nil {
		return "", err
	}
	if v1 == nil {
		return "", fmt.Errorf("scene source cannot be archived")
	}
	digest, _, _, err := archive.ArchiveScene(dataDir, *v1, cls)
	return digest, err
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
