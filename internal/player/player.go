package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var (
	ErrMediaLoad     = errors.New("media load failed")
	ErrNoMediaLoaded = errors.New("no media loaded")
	ErrInvalidSeek   = errors.New("invalid seek target")
)

// State transport 状态
type State int

const (
	Idle State = iota
	Loaded
	Playing
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loaded:
		return "loaded"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Media 已下载并解码、尚未交给引擎的音源
type Media interface {
	URL() string
	Close() error
}

// Engine 外部媒体引擎句柄，只由 Transport 调用
type Engine interface {
	// Open 获取并解码音源，不触碰当前播放
	Open(ctx context.Context, url string) (Media, error)
	// Load 替换当前音源，加载后处于暂停状态
	Load(media Media) error
	SetPaused(paused bool) error
	Seek(seconds float64) error
	Position() float64
	// Duration 元数据未就绪时返回 0
	Duration() float64
	// Finished 音源自然播放结束
	Finished() bool
	Close() error
}

var logger = log.With().Str("component", "transport").Logger()

// Transport 独占一个 Engine，维护 Idle → Loaded → Playing ⇄ Paused → Stopped 状态机
type Transport struct {
	mu     sync.Mutex
	engine Engine
	state  State
	// 当前音源是否自然播放结束过，换音源时清除
	ended bool
}

func NewTransport(engine Engine) *Transport {
	return &Transport{engine: engine, state: Idle}
}

// syncLocked 引擎报告播放结束时转入 Stopped
func (t *Transport) syncLocked() {
	if t.state == Playing && t.engine.Finished() {
		logger.Debug().Msg("Media reached end")
		t.state = Stopped
		t.ended = true
	}
}

func (t *Transport) requireMediaLocked() error {
	if t.state == Idle || t.state == Stopped {
		return ErrNoMediaLoaded
	}
	return nil
}

// Open 准备音源，耗时的网络读取不持有锁
func (t *Transport) Open(ctx context.Context, url string) (Media, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: empty url", ErrMediaLoad)
	}
	media, err := t.engine.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMediaLoad, err)
	}
	return media, nil
}

// LoadMedia 换上 Open 得到的音源，不开始播放
func (t *Transport) LoadMedia(media Media) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ended = false
	if err := t.engine.Load(media); err != nil {
		media.Close()
		t.state = Idle
		return fmt.Errorf("%w: %w", ErrMediaLoad, err)
	}
	t.state = Loaded
	logger.Info().Str("url", media.URL()).Float64("total", t.engine.Duration()).Msg("Media loaded")
	return nil
}

// Load 加载音源但不开始播放
func (t *Transport) Load(ctx context.Context, url string) error {
	media, err := t.Open(ctx, url)
	if err != nil {
		return err
	}
	return t.LoadMedia(media)
}

// Play 从 Loaded/Paused 开始或继续播放，Stopped 时从头播放
func (t *Transport) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.syncLocked()
	switch t.state {
	case Idle:
		return ErrNoMediaLoaded
	case Playing:
		return nil
	case Stopped:
		if err := t.engine.Seek(0); err != nil {
			return fmt.Errorf("failed to rewind: %w", err)
		}
	}

	if err := t.engine.SetPaused(false); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	t.state = Playing
	return nil
}

// Pause 幂等
func (t *Transport) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.syncLocked()
	if err := t.requireMediaLocked(); err != nil {
		return err
	}
	if t.state != Playing {
		return nil
	}
	if err := t.engine.SetPaused(true); err != nil {
		return fmt.Errorf("failed to pause: %w", err)
	}
	t.state = Paused
	return nil
}

// Resume 幂等
func (t *Transport) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.syncLocked()
	if err := t.requireMediaLocked(); err != nil {
		return err
	}
	if t.state == Playing {
		return nil
	}
	if err := t.engine.SetPaused(false); err != nil {
		return fmt.Errorf("failed to resume: %w", err)
	}
	t.state = Playing
	return nil
}

// Seek 目标时间被限制在 [0, total]，总时长未知时只限制下界
func (t *Transport) Seek(target float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.syncLocked()
	if err := t.requireMediaLocked(); err != nil {
		return err
	}

	if math.IsNaN(target) || math.IsInf(target, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSeek, target)
	}
	target = max(target, 0)
	if total := t.engine.Duration(); total > 0 {
		target = lo.Clamp(target, 0, total)
	}
	if err := t.engine.Seek(target); err != nil {
		return fmt.Errorf("failed to seek to %.2fs: %w", target, err)
	}
	return nil
}

// Stop 暂停并回到开头
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Idle || t.state == Stopped {
		return nil
	}
	if err := t.engine.SetPaused(true); err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	if err := t.engine.Seek(0); err != nil {
		return fmt.Errorf("failed to rewind: %w", err)
	}
	t.state = Stopped
	return nil
}

func (t *Transport) ElapsedSeconds() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Idle {
		return 0
	}
	return t.engine.Position()
}

// TotalSeconds 返回 0 表示未知，而不是零长度
func (t *Transport) TotalSeconds() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Idle {
		return 0
	}
	return t.engine.Duration()
}

func (t *Transport) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.syncLocked()
	return t.state == Playing
}

// Ended 当前音源播放到过结尾，之后从头重播也保持为 true
func (t *Transport) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.syncLocked()
	return t.ended
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.syncLocked()
	return t.state
}

// Close 释放引擎句柄
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = Idle
	t.ended = false
	return t.engine.Close()
}

// FormatTime 格式化为 mm:ss
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
