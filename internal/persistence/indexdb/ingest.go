package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tilebridge.ai/internal/bridge"
)

// IngestConfig configures HTTPIngest.
type IngestConfig struct {
	Endpoint      string
	Token         string
	Source        string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        *log.Logger
}

// HTTPIngest forwards plan records in JSON batches to a remote collector.
// A batch that fails to send is retained and retried on the next flush.
type HTTPIngest struct {
	cfg        IngestConfig
	httpClient *http.Client

	mu   sync.RWMutex
	ch   chan ingestEvent
	wg   sync.WaitGroup
	once sync.Once

	closed    atomic.Bool
	dropped   atomic.Uint64
	sent      atomic.Uint64
	flushFail atomic.Uint64
}

type ingestEvent struct {
	Kind    string            `json:"kind"`
	Source  string            `json:"source"`
	Payload bridge.PlanRecord `json:"payload"`
}

type IngestStats struct {
	QueueDroppedTotal uint64 `json:"queue_dropped_total"`
	SentTotal         uint64 `json:"sent_total"`
	FlushFailTotal    uint64 `json:"flush_fail_total"`
}

// maxRetained bounds the retained batch when the collector stays down.
const maxRetained = 8192

func OpenHTTPIngest(cfg IngestConfig) (*HTTPIngest, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Source = strings.TrimSpace(cfg.Source)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.Source == "" {
		cfg.Source = "tilebridge"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	h := &HTTPIngest{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan ingestEvent, 32768),
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.loop()
	}()
	return h, nil
}

func (h *HTTPIngest) Close() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.mu.Lock()
		h.closed.Store(true)
		close(h.ch)
		h.mu.Unlock()
		h.wg.Wait()
	})
	return nil
}

func (h *HTTPIngest) WritePlan(r bridge.PlanRecord) error {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed.Load() {
		return nil
	}
	select {
	case h.ch <- ingestEvent{Kind: "plan", Source: h.cfg.Source, Payload: r}:
	default:
		h.dropped.Add(1)
		h.printf("ingest queue full; drop request=%s", r.RequestID)
	}
	return nil
}

func (h *HTTPIngest) Stats() IngestStats {
	return IngestStats{
		QueueDroppedTotal: h.dropped.Load(),
		SentTotal:         h.sent.Load(),
		FlushFailTotal:    h.flushFail.Load(),
	}
}

func (h *HTTPIngest) loop() {
	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]ingestEvent, 0, h.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := h.sendBatch(batch); err != nil {
			h.flushFail.Add(1)
			h.printf("ingest flush failed batch=%d err=%v", len(batch), err)
			if len(batch) > maxRetained {
				n := len(batch) - maxRetained
				h.dropped.Add(uint64(n))
				batch = append(batch[:0], batch[n:]...)
			}
			return
		}
		h.sent.Add(uint64(len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-h.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= h.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (h *HTTPIngest) sendBatch(events []ingestEvent) error {
	body := struct {
		Events []ingestEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, h.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if h.cfg.Token != "" {
			req.Header.Set("x-tb-ingest-token", h.cfg.Token)
		}

		resp, err := h.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(50*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (h *HTTPIngest) printf(format string, args ...any) {
	if h.cfg.Logger != nil {
		h.cfg.Logger.Printf(format, args...)
	}
}
