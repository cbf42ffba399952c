package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tilebridge.ai/internal/pathing"
	"tilebridge.ai/internal/protocol"
	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/scene/coords"
	"tilebridge.ai/internal/tuning"
)

// Error is a request failure with a wire error code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func errf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the wire code of err, defaulting to E_INTERNAL.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return protocol.ErrInternal
}

type Config struct {
	Tuning tuning.Tuning
	Loop   *scene.Loop
	Sinks  []PlanSink
	Logger *log.Logger
}

// Stats are process-lifetime counters.
type Stats struct {
	Plans        uint64 `json:"plans"`
	FoundGoal    uint64 `json:"found_goal"`
	ReturnedBest uint64 `json:"returned_best"`
	Refused      uint64 `json:"refused"`
	SinkErrors   uint64 `json:"sink_errors"`
}

// Service answers path and scene requests. Snapshots are taken on the
// scene loop; planning runs on the caller's goroutine.
type Service struct {
	tune      tuning.Tuning
	digest    string
	loop      *scene.Loop
	planner   *pathing.Planner
	validator *protocol.Validator
	sinks     []PlanSink
	log       *log.Logger
	now       func() time.Time

	plans, found, best, refused, sinkErrs atomic.Uint64
}

func New(cfg Config) (*Service, error) {
	if cfg.Loop == nil {
		return nil, fmt.Errorf("nil scene loop")
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("schemas: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[bridge] ", log.LstdFlags|log.Lmicroseconds)
	}
	b, _ := json.Marshal(cfg.Tuning)
	sum := sha256.Sum256(b)
	return &Service{
		tune:      cfg.Tuning,
		digest:    hex.EncodeToString(sum[:]),
		loop:      cfg.Loop,
		planner:   pathing.NewPlanner(cfg.Tuning.PlannerOptions()),
		validator: v,
		sinks:     cfg.Sinks,
		log:       logger,
		now:       time.Now,
	}, nil
}

func (s *Service) Tuning() tuning.Tuning { return s.tune }
func (s *Service) TuningDigest() string  { return s.digest }

func (s *Service) Stats() Stats {
	return Stats{
		Plans:        s.plans.Load(),
		FoundGoal:    s.found.Load(),
		ReturnedBest: s.best.Load(),
		Refused:      s.refused.Load(),
		SinkErrors:   s.sinkErrs.Load(),
	}
}

func (s *Service) capture(ctx context.Context) (scene.Snapshot, error) {
	snap, err := s.loop.Capture(ctx)
	if err != nil {
		if errors.Is(err, scene.ErrStopped) {
			return snap, errf(protocol.ErrNoScene, "scene loop is not running")
		}
		return snap, errf(protocol.ErrBusy, "capture: %v", err)
	}
	return snap, nil
}

func requestID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func startOf(p *protocol.Point, snap *scene.Snapshot) coords.WorldPoint {
	if p == nil {
		return snap.Player
	}
	return p.World()
}

// Welcome answers a HELLO.
func (s *Service) Welcome(sessionID string) protocol.WelcomeMsg {
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		GridSize:        coords.GridSize,
		TuningDigest:    s.digest,
	}
}

// Path plans to a single goal point.
func (s *Service) Path(ctx context.Context, sessionID string, msg protocol.PathMsg) (protocol.PathResultMsg, error) {
	snap, err := s.capture(ctx)
	if err != nil {
		return protocol.PathResultMsg{}, err
	}
	start := startOf(msg.Start, &snap)
	goal := msg.Goal.World()
	res := s.planner.Plan(&snap, start, goal, msg.ExpansionCap)
	rec := PlanRecord{
		SessionID:    sessionID,
		RequestID:    requestID(msg.ID),
		Kind:         protocol.TypePath,
		Start:        protocol.PointOf(start),
		Goal:         msg.Goal,
		ExpansionCap: msg.ExpansionCap,
	}
	return s.finish(&snap, rec, res, msg.IncludeExcerpts), nil
}

// PathRect resolves an area target to a point and plans to it.
func (s *Service) PathRect(ctx context.Context, sessionID string, msg protocol.PathRectMsg) (protocol.PathResultMsg, error) {
	snap, err := s.capture(ctx)
	if err != nil {
		return protocol.PathResultMsg{}, err
	}
	start := startOf(msg.Start, &snap)
	rect := msg.Rect.Normalize()
	goal := s.planner.PickGoalInRect(&snap, start, rect)
	res := s.planner.Plan(&snap, start, goal, msg.ExpansionCap)
	rec := PlanRecord{
		SessionID:    sessionID,
		RequestID:    requestID(msg.ID),
		Kind:         protocol.TypePathRect,
		Start:        protocol.PointOf(start),
		Goal:         protocol.PointOf(goal),
		Rect:         &rect,
		ExpansionCap: msg.ExpansionCap,
	}
	return s.finish(&snap, rec, res, msg.IncludeExcerpts), nil
}

func (s *Service) finish(snap *scene.Snapshot, rec PlanRecord, res pathing.Result, excerpts bool) protocol.PathResultMsg {
	d := res.Diagnostics
	s.plans.Add(1)
	switch {
	case d.FoundGoal:
		s.found.Add(1)
	case d.ReturnedBest:
		s.best.Add(1)
	default:
		s.refused.Add(1)
	}

	path := make([]protocol.Point, len(res.Path))
	for i, p := range res.Path {
		path[i] = protocol.PointOf(p)
	}

	rec.Time = s.now().UTC().Format(time.RFC3339Nano)
	rec.SceneDigest = snap.Digest()
	rec.Path = path
	rec.Diagnostics = d
	rec.Fingerprint = d.Fingerprint(res.Path)
	for _, sink := range s.sinks {
		if err := sink.WritePlan(rec); err != nil {
			s.sinkErrs.Add(1)
			s.log.Printf("plan sink: %v", err)
		}
	}

	if d.FailureReason != pathing.ReasonNone {
		s.log.Printf("plan id=%s start=%v goal=%v reason=%s expansions=%d best=%v", rec.RequestID, d.Start, d.OriginalGoal, d.FailureReason, d.Expansions, d.Best)
	}

	if !excerpts {
		d.Excerpts = nil
	}
	return protocol.PathResultMsg{
		Type:            protocol.TypePathResult,
		ProtocolVersion: protocol.Version,
		ID:              rec.RequestID,
		Path:            path,
		Goal:            protocol.PointOf(d.Goal),
		Diagnostics:     d,
	}
}

// Scene summarizes the current snapshot.
func (s *Service) Scene(ctx context.Context, id string) (protocol.SceneInfoMsg, error) {
	snap, err := s.capture(ctx)
	if err != nil {
		return protocol.SceneInfoMsg{}, err
	}
	return protocol.SceneInfoMsg{
		Type:            protocol.TypeSceneInfo,
		ProtocolVersion: protocol.Version,
		ID:              requestID(id),
		Scene:           snap.Summarize(),
	}, nil
}
