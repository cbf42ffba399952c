package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	do(http.MethodGet, adminURL(*baseURL, "/admin/v1/state"), nil)
}

func cellCmd(args []string) {
	fs := flag.NewFlagSet("cell", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	layer := fs.Int("layer", 0, "layer")
	x := fs.Int("x", 0, "local x")
	y := fs.Int("y", 0, "local y")
	flags := fs.Uint("flags", 0, "collision flags to store")
	_ = fs.Parse(args)

	do(http.MethodPost, adminURL(*baseURL, "/admin/v1/scene/cell"), map[string]any{
		"layer": *layer, "x": *x, "y": *y, "flags": *flags,
	})
}

func playerCmd(args []string) {
	fs := flag.NewFlagSet("player", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	x := fs.Int("x", 0, "world x")
	y := fs.Int("y", 0, "world y")
	layer := fs.Int("layer", 0, "layer")
	_ = fs.Parse(args)

	do(http.MethodPost, adminURL(*baseURL, "/admin/v1/scene/player"), map[string]any{
		"x": *x, "y": *y, "layer": *layer,
	})
}

func adminURL(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + path
}

func do(method, u string, body any) {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, u, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
