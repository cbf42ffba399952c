package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	persistlog "tilebridge.ai/internal/persistence/log"
	"tilebridge.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "cell":
			cellCmd(os.Args[2:])
			return
		case "player":
			playerCmd(os.Args[2:])
			return
		case "compile":
			compileCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	files, err := persistlog.PlanFiles(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, f := range files {
		st, err := os.Stat(f)
		if err != nil {
			continue
		}
		fmt.Printf("%s\t%s\n", filepath.Base(f), humanize.Bytes(uint64(st.Size())))
	}
}

// compileCmd turns a YAML scene fixture into a .scene.zst snapshot.
func compileCmd(args []string) {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	in := fs.String("in", "", "scene fixture (.yaml)")
	out := fs.String("out", "", "output path (default: <in>.scene.zst)")
	id := fs.String("id", "", "scene id (default: file name)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*in) == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}
	st, err := snapshot.LoadYAML(*in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}
	base := strings.TrimSuffix(filepath.Base(*in), filepath.Ext(*in))
	if *id == "" {
		*id = base
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(*in), base+".scene.zst")
	}
	if err := snapshot.WriteSnapshot(*out, snapshot.FromStatic(*id, st)); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}
	fmt.Println(*out)
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
