package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"tilebridge.ai/internal/client"
	"tilebridge.ai/internal/protocol"
	"tilebridge.ai/internal/scene/coords"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "pathbot", "client name")
		start    = flag.String("start", "", "start tile x,y,layer (default: player position)")
		goal     = flag.String("goal", "", "goal tile x,y,layer")
		rect     = flag.String("rect", "", "goal rect min_x,min_y,max_x,max_y (instead of -goal)")
		expCap   = flag.Int("cap", 0, "expansion cap (0 = server default)")
		excerpts = flag.Bool("excerpts", false, "print collision excerpts")
		asJSON   = flag.Bool("json", false, "print the raw PATH_RESULT")
		repeat   = flag.Duration("every", 0, "re-plan on this interval until interrupted")
		timeout  = flag.Duration("timeout", 10*time.Second, "per-request timeout")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[pathbot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dctx, cancel := context.WithTimeout(ctx, *timeout)
	sess, err := client.Dial(dctx, client.Config{URL: *url, ClientName: *name, MaxQueue: 8})
	cancel()
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer sess.Close()
	w := sess.Welcome()
	logger.Printf("WELCOME session_id=%s grid=%d tuning=%s", w.SessionID, w.GridSize, short(w.TuningDigest))

	var startPt *protocol.Point
	if strings.TrimSpace(*start) != "" {
		p, err := parsePoint(*start)
		if err != nil {
			logger.Fatalf("-start: %v", err)
		}
		startPt = &p
	}

	plan := func() error {
		rctx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()
		var res protocol.PathResultMsg
		switch {
		case strings.TrimSpace(*rect) != "":
			r, err := parseRect(*rect)
			if err != nil {
				return fmt.Errorf("-rect: %w", err)
			}
			res, err = sess.PathRect(rctx, protocol.PathRectMsg{Start: startPt, Rect: r, ExpansionCap: *expCap, IncludeExcerpts: *excerpts})
			if err != nil {
				return err
			}
		case strings.TrimSpace(*goal) != "":
			g, err := parsePoint(*goal)
			if err != nil {
				return fmt.Errorf("-goal: %w", err)
			}
			res, err = sess.Path(rctx, protocol.PathMsg{Start: startPt, Goal: g, ExpansionCap: *expCap, IncludeExcerpts: *excerpts})
			if err != nil {
				return err
			}
		default:
			info, err := sess.Scene(rctx)
			if err != nil {
				return err
			}
			b, _ := json.MarshalIndent(info.Scene, "", "  ")
			fmt.Println(string(b))
			return nil
		}
		report(logger, res, *asJSON)
		return nil
	}

	if err := plan(); err != nil {
		logger.Fatalf("%v", err)
	}
	if *repeat <= 0 {
		return
	}
	t := time.NewTicker(*repeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := plan(); err != nil {
				logger.Printf("%v", err)
			}
		}
	}
}

func report(logger *log.Logger, res protocol.PathResultMsg, raw bool) {
	if raw {
		b, _ := json.Marshal(res)
		fmt.Println(string(b))
		return
	}
	d := res.Diagnostics
	switch {
	case d.FoundGoal:
		logger.Printf("%s: reached %v in %d steps (%d expansions)", res.ID, res.Goal, len(res.Path), d.Expansions)
	case d.ReturnedBest:
		logger.Printf("%s: best effort to %v, %d from goal, %d steps (%s)", res.ID, d.Best, d.BestDistance, len(res.Path), d.FailureReason)
	default:
		logger.Printf("%s: no path (%s)", res.ID, d.FailureReason)
	}
	if ex := d.Excerpts; ex != nil {
		for _, part := range []struct{ name, body string }{{"start", ex.Start}, {"goal", ex.Goal}, {"best", ex.Best}} {
			if part.body != "" {
				fmt.Printf("-- %s --\n%s\n", part.name, part.body)
			}
		}
	}
}

func parsePoint(s string) (protocol.Point, error) {
	v, err := parseInts(s, 2, 3)
	if err != nil {
		return protocol.Point{}, err
	}
	p := protocol.Point{v[0], v[1], 0}
	if len(v) == 3 {
		p[2] = v[2]
	}
	return p, nil
}

func parseRect(s string) (coords.Rect, error) {
	v, err := parseInts(s, 4, 4)
	if err != nil {
		return coords.Rect{}, err
	}
	return coords.Rect{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}, nil
}

func parseInts(s string, lo, hi int) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) < lo || len(parts) > hi {
		return nil, fmt.Errorf("want %d..%d comma-separated ints, got %q", lo, hi, s)
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad int %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
