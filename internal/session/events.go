package session

import (
	"sync"

	"lyrics-player/internal/lyrics"
	"lyrics-player/internal/monitor"
)

// Listener 接收会话事件，回调在独立的分发 goroutine 中按顺序执行。
// 回调里可以调用会话命令，但不能调用 Close。
type Listener interface {
	OnTrackStarted(trackID string)
	OnPositionChanged(pos monitor.Position)
	OnActiveLyricChanged(index int, text string)
	OnLyricsLoaded(trackID string, lines []lyrics.Line)
	OnPlaybackError(trackID string, err error)
}

// NopListener 可嵌入以只实现关心的回调
type NopListener struct{}

func (NopListener) OnTrackStarted(string) {}
func (NopListener) OnPositionChanged(monitor.Position) {}
func (NopListener) OnActiveLyricChanged(int, string) {}
func (NopListener) OnLyricsLoaded(string, []lyrics.Line) {}
func (NopListener) OnPlaybackError(string, error) {}

// Multi 把事件依次转发给多个 Listener
type Multi []Listener

func (m Multi) OnTrackStarted(trackID string) {
	for _, l := range m {
		l.OnTrackStarted(trackID)
	}
}

func (m Multi) OnPositionChanged(pos monitor.Position) {
	for _, l := range m {
		l.OnPositionChanged(pos)
	}
}

func (m Multi) OnActiveLyricChanged(index int, text string) {
	for _, l := range m {
		l.OnActiveLyricChanged(index, text)
	}
}

func (m Multi) OnLyricsLoaded(trackID string, lines []lyrics.Line) {
	for _, l := range m {
		l.OnLyricsLoaded(trackID, lines)
	}
}

func (m Multi) OnPlaybackError(trackID string, err error) {
	for _, l := range m {
		l.OnPlaybackError(trackID, err)
	}
}

// monitorHandler 把采样写回会话状态，只在 actor 中被调用
type monitorHandler struct {
	s *Session
}

func (h monitorHandler) PositionChanged(pos monitor.Position) {
	h.s.state.Elapsed = pos.Elapsed
	h.s.state.Total = pos.Total
	h.s.events.push(queuedEvent{fn: func(l Listener) { l.OnPositionChanged(pos) }, position: true})
}

func (h monitorHandler) ActiveLyricChanged(index int, text string) {
	h.s.state.ActiveLine = index
	h.s.emit(func(l Listener) { l.OnActiveLyricChanged(index, text) })
}

// emit 从不阻塞，actor 可以随时调用
func (s *Session) emit(ev func(Listener)) {
	s.events.push(queuedEvent{fn: ev})
}

func (s *Session) dispatch() {
	defer close(s.eventsDone)
	for {
		batch, ok := s.events.take()
		if !ok {
			return
		}
		for _, ev := range batch {
			ev.fn(s.listener)
		}
	}
}

type queuedEvent struct {
	fn       func(Listener)
	position bool
}

// eventQueue 不限长度的事件队列，相邻的位置事件只保留最新一条
type eventQueue struct {
	mu      sync.Mutex
	pending []queuedEvent
	closed  bool
	wake    chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev queuedEvent) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if n := len(q.pending); ev.position && n > 0 && q.pending[n-1].position {
		q.pending[n-1] = ev
	} else {
		q.pending = append(q.pending, ev)
	}
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// take 取走所有待分发事件；关闭且已排空时返回 false
func (q *eventQueue) take() ([]queuedEvent, bool) {
	for {
		q.mu.Lock()
		batch, closed := q.pending, q.closed
		q.pending = nil
		q.mu.Unlock()

		if len(batch) > 0 {
			return batch, true
		}
		if closed {
			return nil, false
		}
		<-q.wake
	}
}

// close 之后的事件被丢弃，已排队的仍会分发
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}
