package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tilebridge.ai/internal/pathing"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	ExpansionCap   int      `yaml:"expansion_cap" json:"expansion_cap"`
	SnapRadius     int      `yaml:"snap_radius" json:"snap_radius"`
	RectSnapRadius int      `yaml:"rect_snap_radius" json:"rect_snap_radius"`
	ExcerptRadius  int      `yaml:"excerpt_radius" json:"excerpt_radius"`
	DoorKeywords   []string `yaml:"door_keywords" json:"door_keywords"`

	Transport Transport `yaml:"transport" json:"transport"`
}

type Transport struct {
	MaxQueue      int `yaml:"max_queue" json:"max_queue"`
	ReadTimeoutMs int `yaml:"read_timeout_ms" json:"read_timeout_ms"`
	MaxLineBytes  int `yaml:"max_line_bytes" json:"max_line_bytes"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		ExpansionCap:    104 * 104,
		SnapRadius:      20,
		RectSnapRadius:  20,
		ExcerptRadius:   5,
		DoorKeywords:    []string{"door", "gate"},
		Transport: Transport{
			MaxQueue:      8,
			ReadTimeoutMs: 60_000,
			MaxLineBytes:  1 << 20,
		},
	}
}

// Load reads a tuning file over Defaults. Fields absent from the file keep
// their default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.ExpansionCap <= 0 {
		return fmt.Errorf("expansion_cap must be > 0")
	}
	if t.SnapRadius < 0 || t.RectSnapRadius < 0 {
		return fmt.Errorf("snap radii must be >= 0")
	}
	if t.ExcerptRadius < 0 || t.ExcerptRadius > 32 {
		return fmt.Errorf("excerpt_radius must be in [0,32]")
	}
	kw := 0
	for _, k := range t.DoorKeywords {
		if strings.TrimSpace(k) != "" {
			kw++
		}
	}
	if kw == 0 {
		return fmt.Errorf("door_keywords must not be empty")
	}
	if t.Transport.MaxQueue <= 0 || t.Transport.MaxQueue > 64 {
		return fmt.Errorf("transport.max_queue must be in [1,64]")
	}
	if t.Transport.ReadTimeoutMs <= 0 {
		return fmt.Errorf("transport.read_timeout_ms must be > 0")
	}
	if t.Transport.MaxLineBytes < 256 {
		return fmt.Errorf("transport.max_line_bytes must be >= 256")
	}
	return nil
}

func (t Tuning) PlannerOptions() pathing.Options {
	return pathing.Options{
		SnapRadius:     t.SnapRadius,
		RectSnapRadius: t.RectSnapRadius,
		ExpansionCap:   t.ExpansionCap,
		ExcerptRadius:  t.ExcerptRadius,
	}
}
