package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"lyrics-player/internal/lyrics"
	"lyrics-player/internal/monitor"
	"lyrics-player/internal/player"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var (
	ErrPlayback      = errors.New("playback failed")
	ErrResolution    = errors.New("resolution failed")
	ErrSessionClosed = errors.New("session closed")
	ErrEmptyQueue    = errors.New("queue is empty")
	ErrEmptyPlaylist = errors.New("playlist is empty")
)

const (
	DefaultResolveTimeout = 15 * time.Second
	DefaultLoadTimeout    = 60 * time.Second
)

// StreamResolver 把曲目 id 解析为可播放的 url
type StreamResolver interface {
	StreamURL(ctx context.Context, trackID string) (string, error)
}

// LyricsResolver 获取曲目的原始歌词
type LyricsResolver interface {
	Lyrics(ctx context.Context, trackID string) (string, error)
}

// PlaylistSource 按名称读取歌单
type PlaylistSource interface {
	Get(name string) ([]string, error)
}

type Config struct {
	PollInterval   time.Duration
	ResolveTimeout time.Duration
	LoadTimeout    time.Duration
	// Lookahead 歌词提前量（秒）
	Lookahead float64
}

// State 会话拥有的播放状态快照
type State struct {
	TrackID      string
	Loaded       bool
	Paused       bool
	Elapsed      float64
	Total        float64
	ActiveLine   int
	Status       player.State
	LyricsLoaded bool
}

// Session 串联 transport、monitor 和歌词，所有状态只在 actor goroutine 中读写
type Session struct {
	id        string
	cfg       Config
	transport *player.Transport
	streams   StreamResolver
	lyrics    LyricsResolver
	playlists PlaylistSource
	listener  Listener
	logger    zerolog.Logger

	cmds      chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	events     *eventQueue
	eventsDone chan struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	// 以下字段只由 actor 访问
	state       State
	monitor     *monitor.Monitor
	generation  uint64
	queueCancel context.CancelFunc
	closed      bool
}

func New(cfg Config, transport *player.Transport, streams StreamResolver, lyricsResolver LyricsResolver, playlists PlaylistSource, listener Listener) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = monitor.DefaultInterval
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if listener == nil {
		listener = NopListener{}
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		cfg:        cfg,
		transport:  transport,
		streams:    streams,
		lyrics:     lyricsResolver,
		playlists:  playlists,
		listener:   listener,
		logger:     log.With().Str("component", "session").Str("session_id", id).Logger(),
		cmds:       make(chan func()),
		quit:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		events:     newEventQueue(),
		eventsDone: make(chan struct{}),
		baseCtx:    ctx,
		baseCancel: cancel,
		state:      State{ActiveLine: -1, Status: player.Idle},
	}

	go s.run()
	go s.dispatch()
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) run() {
	defer close(s.loopDone)
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.quit:
			return
		}
	}
}

// exec 把 fn 交给 actor 执行并等待完成；提交前 ctx 取消或会话关闭则放弃
func (s *Session) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	rejected := false
	wrapped := func() {
		defer close(done)
		if s.closed {
			rejected = true
			return
		}
		fn()
	}

	select {
	case s.cmds <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrSessionClosed
	}
	<-done
	if rejected {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) do(fn func()) error {
	return s.exec(context.Background(), fn)
}

// bound 派生一个带超时、并随会话关闭而取消的 context
func (s *Session) bound(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	stop := context.AfterFunc(s.baseCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// PlayTrack 播放单曲，会打断正在进行的队列
func (s *Session) PlayTrack(ctx context.Context, trackID string) error {
	if err := s.do(s.cancelQueueLocked); err != nil {
		return err
	}
	_, err := s.playTrack(ctx, trackID, nil)
	return err
}

// playTrack 在 actor 之外解析 url 并下载音源，然后原子地切换曲目。
// guard 非空且已取消时放弃切换，返回新播放的代号。
func (s *Session) playTrack(ctx context.Context, trackID string, guard context.Context) (uint64, error) {
	s.logger.Info().Str("track_id", trackID).Msg("Play track requested")

	resolveCtx, cancelResolve := s.bound(ctx, s.cfg.ResolveTimeout)
	url, err := s.streams.StreamURL(resolveCtx, trackID)
	cancelResolve()
	if err == nil && url == "" {
		err = errors.New("empty stream url")
	}
	if err != nil {
		return 0, s.fail(ctx, trackID, fmt.Errorf("%w: track %s: %w: %w", ErrPlayback, trackID, ErrResolution, err))
	}

	loadCtx, cancelLoad := s.bound(ctx, s.cfg.LoadTimeout)
	media, err := s.transport.Open(loadCtx, url)
	cancelLoad()
	if err != nil {
		return 0, s.fail(ctx, trackID, fmt.Errorf("%w: track %s: %w", ErrPlayback, trackID, err))
	}

	var (
		gen     uint64
		loadErr error
	)
	err = s.exec(ctx, func() {
		if guard != nil && guard.Err() != nil {
			media.Close()
			loadErr = guard.Err()
			return
		}
		gen, loadErr = s.startLocked(trackID, media)
		if loadErr == nil {
			s.wg.Add(1)
		}
	})
	if err != nil {
		media.Close()
		return 0, err
	}
	if loadErr != nil {
		if guard != nil && guard.Err() != nil {
			return 0, loadErr
		}
		return 0, s.fail(ctx, trackID, fmt.Errorf("%w: track %s: %w", ErrPlayback, trackID, loadErr))
	}

	go s.loadLyrics(trackID, gen)
	return gen, nil
}

// startLocked 停掉旧的监视器，换上新音源并开始播放
func (s *Session) startLocked(trackID string, media player.Media) (uint64, error) {
	s.stopMonitorLocked()
	s.generation++

	if err := s.transport.LoadMedia(media); err != nil {
		s.state = State{ActiveLine: -1, Status: s.transport.State()}
		return 0, err
	}
	if err := s.transport.Play(); err != nil {
		s.state = State{TrackID: trackID, Loaded: true, ActiveLine: -1, Status: s.transport.State()}
		return 0, err
	}

	s.state = State{
		TrackID:    trackID,
		Loaded:     true,
		ActiveLine: -1,
		Status:     player.Playing,
	}
	s.monitor = monitor.New(s.transport, lyrics.Index{}, monitorHandler{s},
		monitor.WithInterval(s.cfg.PollInterval),
		monitor.WithLookahead(s.cfg.Lookahead),
	)
	s.monitor.Start(s.exec)

	s.logger.Info().Str("track_id", trackID).Uint64("generation", s.generation).Msg("Track started")
	s.emit(func(l Listener) { l.OnTrackStarted(trackID) })
	return s.generation, nil
}

// loadLyrics 异步获取歌词，只在曲目未切换时装入监视器
func (s *Session) loadLyrics(trackID string, gen uint64) {
	defer s.wg.Done()

	ctx, cancel := s.bound(context.Background(), s.cfg.ResolveTimeout)
	defer cancel()

	var index lyrics.Index
	if s.lyrics != nil {
		raw, err := s.lyrics.Lyrics(ctx, trackID)
		if err != nil {
			s.logger.Warn().Err(err).Str("track_id", trackID).Msg("No lyrics available")
		}
		index = lyrics.Parse(raw)
	}

	s.do(func() {
		if s.generation != gen || s.monitor == nil {
			return
		}
		s.monitor.SetIndex(index)
		s.state.LyricsLoaded = !index.Empty()
		lines := index.Lines()
		s.emit(func(l Listener) { l.OnLyricsLoaded(trackID, lines) })
		s.monitor.Sample()
		s.logger.Info().Str("track_id", trackID).Int("lines_count", index.Len()).Msg("Lyrics installed")
	})
}

// fail 记录并发布错误，返回原错误
func (s *Session) fail(ctx context.Context, trackID string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	s.logger.Error().Err(err).Str("track_id", trackID).Msg("Playback error")
	s.do(func() {
		s.emit(func(l Listener) { l.OnPlaybackError(trackID, err) })
	})
	return err
}

func (s *Session) stopMonitorLocked() {
	if s.monitor != nil {
		s.monitor.Stop()
		s.monitor = nil
	}
}

func (s *Session) cancelQueueLocked() {
	if s.queueCancel != nil {
		s.queueCancel()
		s.queueCancel = nil
	}
}

func (s *Session) refreshStatusLocked() {
	s.state.Status = s.transport.State()
	s.state.Paused = s.state.Status == player.Paused
}

// TogglePause 播放中则暂停，否则继续或重新播放
func (s *Session) TogglePause() error {
	var err error
	if doErr := s.do(func() {
		switch s.transport.State() {
		case player.Idle:
			err = player.ErrNoMediaLoaded
		case player.Playing:
			err = s.transport.Pause()
		case player.Paused:
			err = s.transport.Resume()
		default:
			err = s.transport.Play()
		}
		s.refreshStatusLocked()
		// Stop 之后重新播放需要重启监视器
		if err == nil && s.monitor != nil && !s.monitor.Running() {
			s.monitor.Start(s.exec)
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// Seek 跳转到指定秒数，随后立即采样一次
func (s *Session) Seek(seconds float64) error {
	var err error
	if doErr := s.do(func() {
		if err = s.transport.Seek(seconds); err != nil {
			return
		}
		if s.monitor != nil {
			s.monitor.Sample()
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// SeekFraction 按总时长比例跳转，总时长未知时忽略
func (s *Session) SeekFraction(fraction float64) error {
	var err error
	if math.IsNaN(fraction) {
		return fmt.Errorf("%w: fraction %v", player.ErrInvalidSeek, fraction)
	}
	if doErr := s.do(func() {
		total := s.transport.TotalSeconds()
		if total <= 0 {
			if s.transport.State() == player.Idle {
				err = player.ErrNoMediaLoaded
			}
			return
		}
		if err = s.transport.Seek(lo.Clamp(fraction, 0, 1) * total); err != nil {
			return
		}
		if s.monitor != nil {
			s.monitor.Sample()
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// Stop 中止队列，停止监视器并让 transport 回到开头
func (s *Session) Stop() error {
	var err error
	if doErr := s.do(func() {
		s.cancelQueueLocked()
		err = s.transport.Stop()
		s.refreshStatusLocked()
		if s.monitor != nil {
			s.monitor.Sample()
			s.monitor.Stop()
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// Snapshot 返回一致的状态副本
func (s *Session) Snapshot() State {
	var st State
	if err := s.do(func() {
		s.refreshStatusLocked()
		st = s.state
	}); err != nil {
		<-s.loopDone
		return s.state
	}
	return st
}

// Close 停止队列和监视器，释放引擎，然后关闭 actor 与事件分发
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.baseCancel()
		s.do(func() {
			s.cancelQueueLocked()
			s.stopMonitorLocked()
			s.generation++
			err = s.transport.Close()
			s.state = State{ActiveLine: -1, Status: player.Idle}
			s.closed = true
		})
		close(s.quit)
		<-s.loopDone

		s.wg.Wait()
		s.events.close()
		<-s.eventsDone
		s.logger.Info().Msg("Session closed")
	})
	return err
}
