package archive

import (
	"path/filepath"
	"testing"

	"tilebridge.ai/internal/persistence/snapshot"
	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/scene/collision"
	"tilebridge.ai/internal/scene/coords"
	"tilebridge.ai/internal/scene/doors"
)

func TestArchiveSceneByDigest(t *testing.T) {
	dir := t.TempDir()
	cls := doors.NewNameClassifier("door")

	st := scene.NewStatic(0, 3200, 3200)
	st.Mask().Set(coords.LocalCell{X: 10, Y: 10}, collision.BlockSolid)
	st.PlaceWall(coords.LocalCell{X: 12, Y: 10}, 77, "Door")
	v1 := snapshot.FromStatic("s1", st)

	digest, path, created, err := ArchiveScene(dir, v1, cls)
	if err != nil || !created {
		t.Fatalf("ArchiveScene: created=%v err=%v", created, err)
	}
	snap := scene.Capture(st, cls)
	if digest != snap.Digest() {
		t.Fatalf("digest=%s want %s", digest, snap.Digest())
	}

	_, path2, created, err := ArchiveScene(dir, v1, cls)
	if err != nil || created || path2 != path {
		t.Fatalf("second archive: created=%v path=%s err=%v", created, path2, err)
	}

	found, err := FindScene(dir, digest)
	if err != nil || found != path {
		t.Fatalf("FindScene=%s err=%v", found, err)
	}
	back, err := snapshot.LoadFile(found)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	again := scene.Capture(back, cls)
	if again.Digest() != digest {
		t.Fatalf("reloaded digest differs")
	}

	if _, err := FindScene(dir, "0123456789abcdef0000"); err == nil {
		t.Fatalf("expected miss")
	}
	if filepath.Base(filepath.Dir(path)) != digest[:16] {
		t.Fatalf("path=%s", path)
	}
}
