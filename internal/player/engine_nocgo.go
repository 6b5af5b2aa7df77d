//go:build !((linux && cgo) || windows || darwin)

package player

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

// 没有 cgo 时无法使用声卡
const AudioAvailable = false

var (
	errNoSource     = errors.New("no source loaded")
	errForeignMedia = errors.New("media was not opened by this engine")
)

// silentEngine 只解码时长，位置按墙钟推进，不出声
type silentEngine struct {
	mu        sync.Mutex
	client    *http.Client
	total     float64
	loaded    bool
	base      float64
	startedAt time.Time
	running   bool
}

func NewEngine(client *http.Client) Engine {
	return &silentEngine{client: client}
}

func (e *silentEngine) Open(ctx context.Context, url string) (Media, error) {
	src, err := fetchSource(ctx, e.client, url)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (e *silentEngine) Load(media Media) error {
	src, ok := media.(*source)
	if !ok {
		return errForeignMedia
	}
	total := src.duration()
	src.Close()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.total = total
	e.loaded = true
	e.base = 0
	e.running = false
	return nil
}

func (e *silentEngine) positionLocked() float64 {
	pos := e.base
	if e.running {
		pos += time.Since(e.startedAt).Seconds()
	}
	if e.total > 0 {
		pos = min(pos, e.total)
	}
	return pos
}

func (e *silentEngine) SetPaused(paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return errNoSource
	}
	if paused == !e.running {
		return nil
	}
	if paused {
		e.base = e.positionLocked()
		e.running = false
		return nil
	}
	e.startedAt = time.Now()
	e.running = true
	return nil
}

func (e *silentEngine) Seek(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return errNoSource
	}
	e.base = seconds
	e.startedAt = time.Now()
	return nil
}

func (e *silentEngine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

func (e *silentEngine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

func (e *silentEngine) Finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running && e.total > 0 && e.positionLocked() >= e.total
}

func (e *silentEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.loaded = false
	e.running = false
	e.total = 0
	e.base = 0
	return nil
}
