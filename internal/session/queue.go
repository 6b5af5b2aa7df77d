package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lyrics-player/internal/player"

	"github.com/google/uuid"
)

var errSuperseded = errors.New("playback superseded")

// Queue 后台顺序播放的句柄
type Queue struct {
	id     string
	tracks []string
	done   chan struct{}

	mu     sync.Mutex
	played []string
	failed map[string]error
	err    error
}

func newQueue(tracks []string) *Queue {
	return &Queue{
		id:     uuid.NewString(),
		tracks: append([]string(nil), tracks...),
		done:   make(chan struct{}),
		failed: make(map[string]error),
	}
}

func (q *Queue) ID() string {
	return q.id
}

func (q *Queue) Tracks() []string {
	return append([]string(nil), q.tracks...)
}

// Done 队列结束（播完或被中止）时关闭
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Wait 等待队列结束；正常播完返回 nil，被中止返回原因
func (q *Queue) Wait(ctx context.Context) error {
	select {
	case <-q.done:
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Played 已开始播放的曲目
func (q *Queue) Played() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.played...)
}

// Failed 被跳过的曲目及原因
func (q *Queue) Failed() map[string]error {
	q.mu.Lock()
	defer q.mu.Unlock()
	failed := make(map[string]error, len(q.failed))
	for id, err := range q.failed {
		failed[id] = err
	}
	return failed
}

func (q *Queue) markPlayed(trackID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.played = append(q.played, trackID)
}

func (q *Queue) markFailed(trackID string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[trackID] = err
}

func (q *Queue) finish(err error) {
	q.mu.Lock()
	q.err = err
	q.mu.Unlock()
	close(q.done)
}

// PlayQueue 在后台依次播放曲目，无法播放的曲目会被跳过。
// 新的 PlayTrack/PlayQueue、Stop、Close 或 ctx 取消都会中止队列。
func (s *Session) PlayQueue(ctx context.Context, trackIDs []string) (*Queue, error) {
	if len(trackIDs) == 0 {
		return nil, ErrEmptyQueue
	}

	q := newQueue(trackIDs)
	var (
		qctx   context.Context
		cancel context.CancelFunc
	)
	err := s.exec(ctx, func() {
		s.cancelQueueLocked()
		qctx, cancel = context.WithCancel(ctx)
		s.queueCancel = cancel
		s.wg.Add(1)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("queue_id", q.id).Int("tracks", len(trackIDs)).Msg("Queue started")
	go s.runQueue(qctx, cancel, q)
	return q, nil
}

// PlayPlaylist 读取歌单后按顺序播放
func (s *Session) PlayPlaylist(ctx context.Context, name string) (*Queue, error) {
	if s.playlists == nil {
		return nil, fmt.Errorf("no playlist source configured")
	}
	trackIDs, err := s.playlists.Get(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist %q: %w", name, err)
	}
	if len(trackIDs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyPlaylist, name)
	}
	return s.PlayQueue(ctx, trackIDs)
}

func (s *Session) runQueue(ctx context.Context, cancel context.CancelFunc, q *Queue) {
	defer s.wg.Done()
	defer cancel()

	err := s.playSequence(ctx, q)
	if err != nil {
		s.logger.Info().Err(err).Str("queue_id", q.id).Msg("Queue aborted")
	} else {
		s.logger.Info().Str("queue_id", q.id).Int("failed", len(q.Failed())).Msg("Queue finished")
	}
	q.finish(err)
}

func (s *Session) playSequence(ctx context.Context, q *Queue) error {
	for _, trackID := range q.tracks {
		if err := ctx.Err(); err != nil {
			return err
		}

		gen, err := s.playTrack(ctx, trackID, ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrSessionClosed) {
				return err
			}
			q.markFailed(trackID, err)
			continue
		}
		q.markPlayed(trackID)

		if err := s.awaitEnd(ctx, gen); err != nil {
			return err
		}
	}
	return nil
}

// awaitEnd 按采样周期检查，直到本次播放自然结束
func (s *Session) awaitEnd(ctx context.Context, gen uint64) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var ended, superseded bool
		err := s.exec(ctx, func() {
			if s.generation != gen {
				superseded = true
				return
			}
			// 结束可能已被 TogglePause 从头重播覆盖，以 Ended 为准
			switch {
			case s.transport.State() == player.Idle:
				superseded = true
			case s.transport.Ended(), s.transport.State() == player.Stopped:
				ended = true
				s.refreshStatusLocked()
			}
		})
		if err != nil {
			return err
		}
		if superseded {
			return errSuperseded
		}
		if ended {
			return nil
		}
	}
}
