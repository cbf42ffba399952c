package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"tilebridge.ai/internal/bridge"
	"tilebridge.ai/internal/persistence/indexdb"
	"tilebridge.ai/internal/persistence/objstore"
	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/scene/collision"
	"tilebridge.ai/internal/scene/coords"
)

// registerAdmin adds local-only admin endpoints.
func registerAdmin(mux *http.ServeMux, svc *bridge.Service, loop *scene.Loop, idx *indexdb.SQLiteIndex, archiveLive func(context.Context) (string, error)) {
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp := struct {
			TuningDigest string                `json:"tuning_digest"`
			Stats        bridge.Stats          `json:"stats"`
			Scene        *scene.Summary        `json:"scene,omitempty"`
			Index        *indexdb.Stats        `json:"index,omitempty"`
			Reasons      []indexdb.ReasonCount `json:"reasons,omitempty"`
			Error        string                `json:"error,omitempty"`
		}{
			TuningDigest: svc.TuningDigest(),
			Stats:        svc.Stats(),
		}
		if info, err := svc.Scene(ctx, "admin"); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Scene = &info.Scene
		}
		if idx != nil {
			st := idx.Stats()
			resp.Index = &st
			if rc, err := idx.CountByReason(ctx); err == nil {
				resp.Reasons = rc
			}
		}
		writeJSON(rw, http.StatusOK, resp)
	})

	// POST {"layer":0,"x":12,"y":40,"flags":16}
	mux.HandleFunc("/admin/v1/scene/cell", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		var req struct {
			Layer int    `json:"layer"`
			X     int    `json:"x"`
			Y     int    `json:"y"`
			Flags uint32 `json:"flags"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		err := loop.SetFlags(r.Context(), req.Layer, coords.LocalCell{X: req.X, Y: req.Y}, collision.Flags(req.Flags))
		if err != nil {
			writeJSON(rw, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		// The edit changes the scene digest; archive it so replay can resolve
		// plans made from here on.
		resp := map[string]any{"ok": true}
		if digest, err := archiveLive(r.Context()); err != nil {
			resp["archive_error"] = err.Error()
		} else {
			resp["digest"] = digest
		}
		writeJSON(rw, http.StatusOK, resp)
	})

	mux.HandleFunc("/admin/v1/scene/archive", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		digest, err := archiveLive(r.Context())
		if err != nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "digest": digest})
	})

	// POST {"x":3205,"y":3205,"layer":0}
	mux.HandleFunc("/admin/v1/scene/player", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		var p coords.WorldPoint
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		if err := loop.SetPlayer(r.Context(), p); err != nil {
			writeJSON(rw, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
	})
}

func openIngest(logger *log.Logger) (*indexdb.HTTPIngest, error) {
	endpoint := strings.TrimSpace(os.Getenv("TB_INGEST_URL"))
	if endpoint == "" {
		return nil, nil
	}
	h, err := indexdb.OpenHTTPIngest(indexdb.IngestConfig{
		Endpoint:      endpoint,
		Token:         strings.TrimSpace(os.Getenv("TB_INGEST_TOKEN")),
		Source:        strings.TrimSpace(os.Getenv("TB_INGEST_SOURCE")),
		BatchSize:     envInt("TB_INGEST_BATCH_SIZE", 128),
		FlushInterval: time.Duration(envInt("TB_INGEST_FLUSH_MS", 500)) * time.Millisecond,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("TB_INGEST_URL: %w", err)
	}
	logger.Printf("forwarding plan records to %s", endpoint)
	return h, nil
}

func openUploader(dataDir string, logger *log.Logger) (*objstore.Uploader, error) {
	endpoint := strings.TrimSpace(os.Getenv("TB_OBJSTORE_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}
	store, err := objstore.New(objstore.Config{
		Endpoint:        endpoint,
		Bucket:          os.Getenv("TB_OBJSTORE_BUCKET"),
		Region:          os.Getenv("TB_OBJSTORE_REGION"),
		AccessKeyID:     os.Getenv("TB_OBJSTORE_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("TB_OBJSTORE_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("TB_OBJSTORE_ENDPOINT set but config incomplete: %w", err)
	}
	logger.Printf("uploading finished plan segments to %s", endpoint)
	return objstore.NewUploader(store, dataDir, os.Getenv("TB_OBJSTORE_PREFIX"), envInt("TB_OBJSTORE_WORKERS", 2), logger), nil
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
