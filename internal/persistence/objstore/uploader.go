package objstore

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Putter interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type UploaderStats struct {
	QueueDepth   int    `json:"queue_depth"`
	DroppedTotal uint64 `json:"dropped_total"`
	UploadTotal  uint64 `json:"upload_total"`
	FailTotal    uint64 `json:"fail_total"`
}

// Uploader copies finished log segments under dataDir to a bucket. Keys
// mirror the path relative to dataDir, under prefix.
type Uploader struct {
	store   Putter
	dataDir string
	prefix  string
	log     *log.Logger
	backoff time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan string
	wg     sync.WaitGroup

	dropped, uploaded, failed atomic.Uint64
}

func NewUploader(store Putter, dataDir, prefix string, workers int, logger *log.Logger) *Uploader {
	if workers <= 0 {
		workers = 1
	}
	u := &Uploader{
		store:   store,
		dataDir: dataDir,
		prefix:  strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		log:     logger,
		backoff: 200 * time.Millisecond,
		jobs:    make(chan string, 256),
	}
	for i := 0; i < workers; i++ {
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			for p := range u.jobs {
				u.upload(p)
			}
		}()
	}
	return u
}

// Enqueue schedules localPath for upload. It never blocks; a full queue
// drops the segment. Calls after Close are ignored.
func (u *Uploader) Enqueue(localPath string) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.closed {
		return
	}
	select {
	case u.jobs <- localPath:
	default:
		n := u.dropped.Add(1)
		u.printf("upload queue full; dropped %s (dropped_total=%d)", filepath.Base(localPath), n)
	}
}

// Close waits for queued uploads to finish.
func (u *Uploader) Close() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	close(u.jobs)
	u.mu.Unlock()
	u.wg.Wait()
}

func (u *Uploader) Stats() UploaderStats {
	return UploaderStats{
		QueueDepth:   len(u.jobs),
		DroppedTotal: u.dropped.Load(),
		UploadTotal:  u.uploaded.Load(),
		FailTotal:    u.failed.Load(),
	}
}

func (u *Uploader) upload(localPath string) {
	key, err := u.keyFor(localPath)
	if err != nil {
		u.failed.Add(1)
		u.printf("skip %s: %v", localPath, err)
		return
	}
	const attempts = 4
	for i := 1; ; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = u.store.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			u.uploaded.Add(1)
			return
		}
		if i == attempts {
			break
		}
		time.Sleep(time.Duration(i*i) * u.backoff)
	}
	u.failed.Add(1)
	u.printf("upload %s failed: %v", key, err)
}

func (u *Uploader) keyFor(localPath string) (string, error) {
	base, err := filepath.Abs(u.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("outside data dir %s", base)
	}
	if u.prefix != "" {
		rel = path.Join(u.prefix, rel)
	}
	return rel, nil
}

func (u *Uploader) printf(format string, args ...any) {
	if u.log != nil {
		u.log.Printf(format, args...)
	}
}
