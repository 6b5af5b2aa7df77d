// Package playertest 测试用的内存 Engine
package playertest

import (
	"context"
	"errors"
	"sync"

	"lyrics-player/internal/player"
)

var ErrRejected = errors.New("source rejected")

var _ player.Engine = (*Engine)(nil)

// Engine 位置只随 Advance 或 Seek 变化，由测试控制时间
type Engine struct {
	mu sync.Mutex

	// 未列出的 url 使用 DefaultTotal
	Durations    map[string]float64
	DefaultTotal float64
	// 列出的 url 在 Open 时失败
	Reject map[string]bool

	url      string
	loaded   bool
	paused   bool
	pos      float64
	total    float64
	finished bool
	closed   bool
	loads    []string
}

func NewEngine(defaultTotal float64) *Engine {
	return &Engine{
		Durations:    map[string]float64{},
		DefaultTotal: defaultTotal,
		Reject:       map[string]bool{},
	}
}

type media struct {
	url string
}

func (m media) URL() string  { return m.url }
func (m media) Close() error { return nil }

func (e *Engine) Open(ctx context.Context, url string) (player.Media, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Reject[url] {
		return nil, ErrRejected
	}
	return media{url: url}, nil
}

func (e *Engine) Load(m player.Media) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	url := m.URL()
	total, ok := e.Durations[url]
	if !ok {
		total = e.DefaultTotal
	}
	e.url = url
	e.loaded = true
	e.paused = true
	e.pos = 0
	e.total = total
	e.finished = false
	e.closed = false
	e.loads = append(e.loads, url)
	return nil
}

func (e *Engine) SetPaused(paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return errors.New("nothing loaded")
	}
	if !paused {
		e.finished = false
	}
	e.paused = paused
	return nil
}

func (e *Engine) Seek(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return errors.New("nothing loaded")
	}
	e.pos = seconds
	return nil
}

func (e *Engine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

func (e *Engine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

func (e *Engine) Finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.loaded = false
	e.closed = true
	return nil
}

// Advance 未暂停时前进，越过已知总时长即结束
func (e *Engine) Advance(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded || e.paused || e.finished {
		return
	}
	e.pos += seconds
	if e.total > 0 && e.pos >= e.total {
		e.pos = e.total
		e.finished = true
		e.paused = true
	}
}

// Finish 立即结束当前音源
func (e *Engine) Finish() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return
	}
	e.pos = e.total
	e.finished = true
	e.paused = true
}

// SetTotal 模拟元数据晚到
func (e *Engine) SetTotal(total float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.total = total
}

// SetPosition 直接改写位置，不做任何校验
func (e *Engine) SetPosition(pos float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos = pos
}

func (e *Engine) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.url
}

func (e *Engine) Loads() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.loads...)
}

func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
