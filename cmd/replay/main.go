package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"tilebridge.ai/internal/bridge"
	"tilebridge.ai/internal/persistence/archive"
	persistlog "tilebridge.ai/internal/persistence/log"
	"tilebridge.ai/internal/persistence/snapshot"
	"tilebridge.ai/internal/pathing"
	"tilebridge.ai/internal/protocol"
	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/scene/doors"
	"tilebridge.ai/internal/tuning"
)

// replay re-plans logged requests against a scene file and checks that each
// run reproduces the recorded path fingerprint.
func main() {
	var (
		scenePath  = flag.String("scene", "", "scene file to check every record against (default: archived scenes under -data)")
		dataDir    = flag.String("data", "./data", "runtime data directory containing plans/")
		planFile   = flag.String("plans", "", "single plans-*.jsonl.zst file (overrides -data)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		session    = flag.String("session", "", "only replay this session id")
		verbose    = flag.Bool("v", false, "print every mismatch")
		allowMiss  = flag.Bool("allow-missing", false, "do not fail when a record's scene is not archived")
	)
	flag.Parse()

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}
	scenes := &sceneSet{dataDir: *dataDir, cls: doors.NewNameClassifier(tune.DoorKeywords...), byDigest: map[string]*scene.Snapshot{}}

	// With -scene every record is checked against that file; otherwise each
	// record's scene is looked up in the archive by digest.
	if *scenePath != "" {
		st, err := snapshot.LoadFile(*scenePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load scene:", err)
			os.Exit(1)
		}
		snap := scene.Capture(st, scenes.cls)
		scenes.pinned = snap.Digest()
		scenes.byDigest[scenes.pinned] = &snap
		sum := snap.Summarize()
		fmt.Printf("scene %s layer=%d origin=(%d,%d) walkable=%s doors=%d digest=%s\n",
			filepath.Base(*scenePath), sum.Layer, sum.Origin.BaseX, sum.Origin.BaseY,
			humanize.Comma(int64(sum.WalkableCells)), sum.DoorCells, scenes.pinned[:12])
	}

	files := []string{*planFile}
	if *planFile == "" {
		files, err = persistlog.PlanFiles(*dataDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list plans:", err)
			os.Exit(1)
		}
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no plan files found under", *dataDir)
		os.Exit(1)
	}

	planner := pathing.NewPlanner(tune.PlannerOptions())
	var tally counts
	missing := map[string]int64{}
	for _, path := range files {
		recs, err := persistlog.ReadPlans(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read plans:", err)
			os.Exit(1)
		}
		for _, rec := range recs {
			if *session != "" && rec.SessionID != *session {
				continue
			}
			tally.total++
			snap := scenes.lookup(rec.SceneDigest)
			if snap == nil {
				tally.otherScene++
				if scenes.pinned == "" {
					missing[rec.SceneDigest]++
				}
				continue
			}
			if msg := check(planner, snap, rec); msg != "" {
				tally.mismatched++
				if *verbose || tally.mismatched <= 10 {
					fmt.Printf("MISMATCH %s session=%s id=%s: %s\n", filepath.Base(path), rec.SessionID, rec.RequestID, msg)
				}
				continue
			}
			tally.matched++
		}
	}

	fmt.Printf("files=%d records=%s matched=%s mismatched=%s other_scene=%s\n",
		len(files), humanize.Comma(tally.total), humanize.Comma(tally.matched),
		humanize.Comma(tally.mismatched), humanize.Comma(tally.otherScene))
	digests := make([]string, 0, len(missing))
	for d := range missing {
		digests = append(digests, d)
	}
	sort.Strings(digests)
	for _, d := range digests {
		fmt.Fprintf(os.Stderr, "WARN scene %s not archived under %s; skipped %s records\n",
			short(d), *dataDir, humanize.Comma(missing[d]))
	}
	if tally.mismatched > 0 || (len(missing) > 0 && !*allowMiss) {
		os.Exit(1)
	}
}

type sceneSet struct {
	dataDir  string
	cls      doors.Classifier
	pinned   string
	byDigest map[string]*scene.Snapshot
}

// lookup returns the snapshot for digest, or nil when it is not available.
func (s *sceneSet) lookup(digest string) *scene.Snapshot {
	if snap, ok := s.byDigest[digest]; ok || s.pinned != "" {
		return snap
	}
	var snap *scene.Snapshot
	if path, err := archive.FindScene(s.dataDir, digest); err == nil {
		if st, err := snapshot.LoadFile(path); err == nil {
			c := scene.Capture(st, s.cls)
			if c.Digest() == digest {
				snap = &c
			}
		}
	}
	s.byDigest[digest] = snap
	return snap
}

type counts struct {
	total, matched, mismatched, otherScene int64
}

// check re-runs one record and returns a description of the first
// difference, or "" when the run reproduces.
func check(planner *pathing.Planner, snap *scene.Snapshot, rec bridge.PlanRecord) string {
	start := rec.Start.World()
	goal := rec.Goal.World()
	if rec.Kind == protocol.TypePathRect && rec.Rect != nil {
		picked := planner.PickGoalInRect(snap, start, *rec.Rect)
		if picked != goal {
			return fmt.Sprintf("rect goal %v, recorded %v", picked, goal)
		}
	}
	res := planner.Plan(snap, start, goal, rec.ExpansionCap)
	if fp := res.Diagnostics.Fingerprint(res.Path); fp != rec.Fingerprint {
		var b strings.Builder
		fmt.Fprintf(&b, "fingerprint %s, recorded %s", short(fp), short(rec.Fingerprint))
		if len(res.Path) != len(rec.Path) {
			fmt.Fprintf(&b, " (path %d vs %d)", len(res.Path), len(rec.Path))
		}
		if res.Diagnostics.FailureReason != rec.Diagnostics.FailureReason {
			fmt.Fprintf(&b, " (reason %q vs %q)", res.Diagnostics.FailureReason, rec.Diagnostics.FailureReason)
		}
		return b.String()
	}
	return ""
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
