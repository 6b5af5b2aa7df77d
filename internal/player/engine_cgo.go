//go:build (linux && cgo) || windows || darwin

package player

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

const AudioAvailable = true

var (
	errNoSource     = errors.New("no source loaded")
	errForeignMedia = errors.New("media was not opened by this engine")
)

var (
	speakerOnce sync.Once
	speakerErr  error
	speakerRate = beep.SampleRate(44100)
)

func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(speakerRate, speakerRate.N(time.Second/10))
	})
	return speakerErr
}

// beepEngine 通过 speaker 播放下载好的音源
type beepEngine struct {
	mu     sync.Mutex
	client *http.Client
	src    *source
	ctrl   *beep.Ctrl
	queued bool

	// 由 speaker 的回调 goroutine 写入，不能持有 mu
	generation atomic.Uint64
	finished   atomic.Bool
}

func NewEngine(client *http.Client) Engine {
	return &beepEngine{client: client}
}

func (e *beepEngine) Open(ctx context.Context, url string) (Media, error) {
	src, err := fetchSource(ctx, e.client, url)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (e *beepEngine) Load(media Media) error {
	src, ok := media.(*source)
	if !ok {
		return errForeignMedia
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.releaseLocked()
	e.src = src
	e.ctrl = &beep.Ctrl{
		Streamer: beep.Resample(4, src.format.SampleRate, speakerRate, src.streamer),
		Paused:   true,
	}
	e.queued = false
	e.finished.Store(false)
	return nil
}

func (e *beepEngine) SetPaused(paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl == nil {
		return errNoSource
	}

	if !paused && (!e.queued || e.finished.Load()) {
		if err := initSpeaker(); err != nil {
			return err
		}
		gen := e.generation.Add(1)
		e.finished.Store(false)
		speaker.Play(beep.Seq(e.ctrl, beep.Callback(func() {
			if e.generation.Load() == gen {
				e.finished.Store(true)
			}
		})))
		e.queued = true
	}

	speaker.Lock()
	e.ctrl.Paused = paused
	speaker.Unlock()
	return nil
}

func (e *beepEngine) Seek(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.src == nil {
		return errNoSource
	}

	speaker.Lock()
	defer speaker.Unlock()
	return e.src.seek(seconds)
}

func (e *beepEngine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.src == nil {
		return 0
	}

	speaker.Lock()
	defer speaker.Unlock()
	return e.src.position()
}

func (e *beepEngine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.src == nil {
		return 0
	}
	return e.src.duration()
}

func (e *beepEngine) Finished() bool {
	return e.finished.Load()
}

func (e *beepEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.releaseLocked()
	return nil
}

// releaseLocked 把当前音源从 speaker 上摘下，调用方持有 mu
func (e *beepEngine) releaseLocked() {
	// 作废旧音源的结束回调
	e.generation.Add(1)

	if e.ctrl != nil && e.queued {
		speaker.Lock()
		e.ctrl.Streamer = nil
		e.ctrl.Paused = false
		speaker.Unlock()
	}
	if e.src != nil {
		e.src.streamer.Close()
	}
	e.src = nil
	e.ctrl = nil
	e.queued = false
	e.finished.Store(false)
}
