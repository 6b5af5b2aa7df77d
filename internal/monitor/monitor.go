package monitor

import (
	"context"
	"math"
	"sync"
	"time"

	"lyrics-player/internal/lyrics"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const DefaultInterval = time.Second

// Transport 监视器只读取播放状态
type Transport interface {
	IsPlaying() bool
	ElapsedSeconds() float64
	TotalSeconds() float64
}

// Position 一次采样的播放位置，Known 为 false 表示总时长未知
type Position struct {
	Elapsed  float64
	Total    float64
	Progress float64
	Known    bool
}

// Handler 接收采样结果，调用发生在 Exec 提供的临界区内
type Handler interface {
	PositionChanged(pos Position)
	ActiveLyricChanged(index int, text string)
}

// Exec 在与会话命令互斥的临界区内执行 fn，ctx 取消时放弃提交
type Exec func(ctx context.Context, fn func()) error

type Option func(*Monitor)

// WithInterval 采样周期
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLookahead 提前显示歌词的时间（秒）
func WithLookahead(seconds float64) Option {
	return func(m *Monitor) {
		m.lookahead = seconds
	}
}

var logger = log.With().Str("component", "monitor").Logger()

// Monitor 周期性采样 transport，计算进度和当前歌词行。
// index 与 lastLine 只在 Exec 临界区内读写。
type Monitor struct {
	transport Transport
	handler   Handler
	interval  time.Duration
	lookahead float64

	index    lyrics.Index
	lastLine int

	runMutex sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(transport Transport, index lyrics.Index, handler Handler, opts ...Option) *Monitor {
	m := &Monitor{
		transport: transport,
		handler:   handler,
		interval:  DefaultInterval,
		index:     index,
		lastLine:  -1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// SetIndex 替换歌词，下一次采样会重新发布当前行
func (m *Monitor) SetIndex(index lyrics.Index) {
	m.index = index
	m.lastLine = -2
}

func (m *Monitor) Index() lyrics.Index {
	return m.index
}

// ActiveLine 最近一次发布的歌词行
func (m *Monitor) ActiveLine() int {
	return max(m.lastLine, -1)
}

// Tick 一次采样；未在播放时什么也不做并返回 false
func (m *Monitor) Tick() (Position, bool) {
	if !m.transport.IsPlaying() {
		return Position{}, false
	}
	return m.Sample(), true
}

// Sample 不论是否在播放都采样一次
func (m *Monitor) Sample() Position {
	elapsed := m.transport.ElapsedSeconds()
	total := m.transport.TotalSeconds()
	pos := Measure(elapsed, total)

	line := m.index.ActiveLine(pos.Elapsed + m.lookahead)
	if line != m.lastLine {
		m.lastLine = line
		m.handler.ActiveLyricChanged(line, m.index.Text(line))
	}
	m.handler.PositionChanged(pos)
	return pos
}

// Measure 计算归一化进度，total <= 0 或非有限值时进度未知
func Measure(elapsed, total float64) Position {
	if !finite(elapsed) {
		elapsed = 0
	}
	elapsed = max(elapsed, 0)
	if total <= 0 || !finite(total) {
		return Position{Elapsed: elapsed}
	}
	return Position{
		Elapsed:  min(elapsed, total),
		Total:    total,
		Progress: lo.Clamp(elapsed/total, 0, 1),
		Known:    true,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Start 启动采样循环，重复调用无效
func (m *Monitor) Start(exec Exec) {
	m.runMutex.Lock()
	defer m.runMutex.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, exec, m.done)
}

func (m *Monitor) loop(ctx context.Context, exec Exec, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logger.Debug().Dur("interval", m.interval).Msg("Playback monitor started")
	for {
		select {
		case <-ticker.C:
			if err := exec(ctx, func() { m.Tick() }); err != nil {
				logger.Debug().Err(err).Msg("Playback monitor stopped")
				return
			}
		case <-ctx.Done():
			logger.Debug().Msg("Playback monitor cancelled")
			return
		}
	}
}

// Stop 取消循环并等待其退出，最多一个周期
func (m *Monitor) Stop() {
	m.runMutex.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.runMutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running 循环是否仍在运行
func (m *Monitor) Running() bool {
	m.runMutex.Lock()
	defer m.runMutex.Unlock()
	return m.cancel != nil
}
