package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	session := fs.String("session", "", "session_id filter (plans)")
	reason := fs.String("reason", "", "failure reason filter (plans)")
	_ = fs.Parse(args)

	q := "reasons"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "plans.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()
	if *limit <= 0 {
		*limit = 20
	}

	switch q {
	case "reasons":
		rows, err := db.Query(`SELECT reason, COUNT(*), AVG(expansions) FROM plans GROUP BY reason ORDER BY COUNT(*) DESC`)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Reason        string  `json:"reason"`
				Count         int64   `json:"count"`
				AvgExpansions float64 `json:"avg_expansions"`
			}
			if err := rows.Scan(&r.Reason, &r.Count, &r.AvgExpansions); err != nil {
				fail("scan", err)
			}
			if r.Reason == "" {
				r.Reason = "ok"
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "plans":
		where := []string{"1=1"}
		var argv []any
		if s := strings.TrimSpace(*session); s != "" {
			where = append(where, "session_id=?")
			argv = append(argv, s)
		}
		if r := strings.TrimSpace(*reason); r != "" {
			where = append(where, "reason=?")
			argv = append(argv, r)
		}
		argv = append(argv, *limit)
		rows, err := db.Query(`SELECT seq,time,session_id,request_id,kind,layer,found_goal,returned_best,reason,expansions,path_len,elapsed_ns,scene_digest
			FROM plans WHERE `+strings.Join(where, " AND ")+` ORDER BY seq DESC LIMIT ?`, argv...)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq          int64  `json:"seq"`
				Time         string `json:"time"`
				SessionID    string `json:"session_id"`
				RequestID    string `json:"request_id"`
				Kind         string `json:"kind"`
				Layer        int    `json:"layer"`
				FoundGoal    bool   `json:"found_goal"`
				ReturnedBest bool   `json:"returned_best"`
				Reason       string `json:"reason,omitempty"`
				Expansions   int    `json:"expansions"`
				PathLen      int    `json:"path_len"`
				ElapsedNs    int64  `json:"elapsed_ns"`
				SceneDigest  string `json:"scene_digest"`
			}
			if err := rows.Scan(&r.Seq, &r.Time, &r.SessionID, &r.RequestID, &r.Kind, &r.Layer, &r.FoundGoal, &r.ReturnedBest, &r.Reason, &r.Expansions, &r.PathLen, &r.ElapsedNs, &r.SceneDigest); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "meta":
		rows, err := db.Query(`SELECT key, value FROM meta ORDER BY key`)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				fail("scan", err)
			}
			fmt.Printf("%s\t%s\n", k, v)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want reasons|plans|meta)")
		os.Exit(2)
	}
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
