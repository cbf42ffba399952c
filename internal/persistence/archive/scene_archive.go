package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tilebridge.ai/internal/persistence/snapshot"
	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/scene/coords"
	"tilebridge.ai/internal/scene/doors"
)

const sceneFile = "scene.scene.zst"

type SceneArchiveMeta struct {
	Digest    string        `json:"digest"`
	SceneID   string        `json:"scene_id"`
	Layer     int           `json:"layer"`
	Origin    coords.Origin `json:"origin"`
	Snapshot  string        `json:"snapshot"`
	CreatedAt string        `json:"created_at"`
}

// ArchiveScene stores v1 under dataDir/scenes/<digest prefix>/ so plan
// records can later be matched to the scene they were planned on. The
// digest is computed the same way the bridge computes it, using cls for
// door cells. An already archived digest is left untouched.
func ArchiveScene(dataDir string, v1 snapshot.SceneV1, cls doors.Classifier) (digest, path string, created bool, err error) {
	st, err := v1.Static()
	if err != nil {
		return "", "", false, err
	}
	snap := scene.Capture(st, cls)
	digest = snap.Digest()

	dir := sceneDir(dataDir, digest)
	path = filepath.Join(dir, sceneFile)
	if _, err := os.Stat(path); err == nil {
		return digest, path, false, nil
	}
	if err := snapshot.WriteSnapshot(path, v1); err != nil {
		return "", "", false, err
	}

	meta := SceneArchiveMeta{
		Digest:    digest,
		SceneID:   v1.Header.SceneID,
		Layer:     snap.Layer(),
		Origin:    snap.Origin,
		Snapshot:  sceneFile,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644)
	}
	return digest, path, true, nil
}

// FindScene returns the archived snapshot path for digest.
func FindScene(dataDir, digest string) (string, error) {
	if len(digest) < 16 {
		return "", fmt.Errorf("short digest %q", digest)
	}
	path := filepath.Join(sceneDir(dataDir, digest), sceneFile)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

func sceneDir(dataDir, digest string) string {
	if len(digest) > 16 {
		digest = digest[:16]
	}
	return filepath.Join(dataDir, "scenes", digest)
}
