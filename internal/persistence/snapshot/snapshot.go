package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/scene/collision"
	"tilebridge.ai/internal/scene/coords"
	"tilebridge.ai/internal/scene/doors"
)

const Version = 1

type Header struct {
	Version  int    `json:"version"`
	SceneID  string `json:"scene_id"`
	GridSize int    `json:"grid_size"`
}

// SceneV1 is a persisted copy of a game-client scene.
type SceneV1 struct {
	Header Header `json:"header"`

	Layer   int        `json:"layer"`
	Player  [3]int     `json:"player"`
	Layers  []LayerV1  `json:"layers"`
	Objects []ObjectV1 `json:"objects,omitempty"`
}

type LayerV1 struct {
	Layer int `json:"layer"`
	BaseX int `json:"base_x"`
	BaseY int `json:"base_y"`
	// Flags is x-major, GridSize*GridSize long. Empty means the client had
	// no collision data for this layer.
	Flags []uint32 `json:"flags,omitempty"`
	Walls []WallV1 `json:"walls,omitempty"`
}

type WallV1 struct {
	X  int `json:"x"`
	Y  int `json:"y"`
	ID int `json:"id"`
}

type ObjectV1 struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// FromStatic captures every layer of s.
func FromStatic(id string, s *scene.Static) SceneV1 {
	out := SceneV1{
		Header: Header{Version: Version, SceneID: id, GridSize: coords.GridSize},
		Layer:  s.Layer,
		Player: [3]int{s.Player.X, s.Player.Y, s.Player.Layer},
	}
	layers := make([]int, 0, len(s.Origins))
	for l := range s.Origins {
		layers = append(layers, l)
	}
	sort.Ints(layers)
	for _, l := range layers {
		o := s.Origins[l]
		lv := LayerV1{Layer: l, BaseX: o.BaseX, BaseY: o.BaseY}
		if m, ok := s.Masks[l]; ok && m != nil {
			raw := m.Raw()
			lv.Flags = make([]uint32, len(raw))
			for i, f := range raw {
				lv.Flags[i] = uint32(f)
			}
		}
		for c, wid := range s.Walls[l] {
			lv.Walls = append(lv.Walls, WallV1{X: c.X, Y: c.Y, ID: int(wid)})
		}
		sort.Slice(lv.Walls, func(i, j int) bool {
			if lv.Walls[i].X != lv.Walls[j].X {
				return lv.Walls[i].X < lv.Walls[j].X
			}
			return lv.Walls[i].Y < lv.Walls[j].Y
		})
		out.Layers = append(out.Layers, lv)
	}
	for oid, name := range s.Names {
		out.Objects = append(out.Objects, ObjectV1{ID: int(oid), Name: name})
	}
	sort.Slice(out.Objects, func(i, j int) bool { return out.Objects[i].ID < out.Objects[j].ID })
	return out
}

// Static rebuilds an in-memory scene source.
func (s SceneV1) Static() (*scene.Static, error) {
	if s.Header.GridSize != 0 && s.Header.GridSize != coords.GridSize {
		return nil, fmt.Errorf("grid size mismatch: file=%d build=%d", s.Header.GridSize, coords.GridSize)
	}
	st := &scene.Static{
		Layer:   s.Layer,
		Origins: map[int]coords.Origin{},
		Masks:   map[int]*collision.Mask{},
		Walls:   map[int]map[coords.LocalCell]doors.ObjectID{},
		Names:   map[doors.ObjectID]string{},
		Player:  coords.WorldPoint{X: s.Player[0], Y: s.Player[1], Layer: s.Player[2]},
	}
	for _, l := range s.Layers {
		st.Origins[l.Layer] = coords.Origin{BaseX: l.BaseX, BaseY: l.BaseY, Layer: l.Layer}
		if len(l.Flags) > 0 {
			raw := make([]collision.Flags, len(l.Flags))
			for i, f := range l.Flags {
				raw[i] = collision.Flags(f)
			}
			st.Masks[l.Layer] = collision.FromRaw(raw)
		}
		if len(l.Walls) > 0 {
			walls := make(map[coords.LocalCell]doors.ObjectID, len(l.Walls))
			for _, w := range l.Walls {
				walls[coords.LocalCell{X: w.X, Y: w.Y}] = doors.ObjectID(w.ID)
			}
			st.Walls[l.Layer] = walls
		}
	}
	for _, o := range s.Objects {
		st.Names[doors.ObjectID(o.ID)] = o.Name
	}
	return st, nil
}

func WriteSnapshot(path string, snap SceneV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SceneV1, error) {
	var snap SceneV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	hb, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(hb, &h); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// LoadFile reads either a compressed snapshot or a YAML scene fixture,
// chosen by extension.
func LoadFile(path string) (*scene.Static, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path)
	default:
		snap, err := ReadSnapshot(path)
		if err != nil {
			return nil, err
		}
		return snap.Static()
	}
}
