package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lyrics-player/internal/lyrics"
	"lyrics-player/internal/monitor"
	"lyrics-player/internal/player"
	"lyrics-player/internal/player/playertest"

	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type fakeStreams struct {
	mu   sync.Mutex
	fail map[string]error
}

func (f *fakeStreams) StreamURL(ctx context.Context, trackID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[trackID]; ok {
		return "", err
	}
	return "mem://" + trackID, nil
}

type fakeLyrics struct {
	raw   map[string]string
	block map[string]chan struct{}
}

func (f *fakeLyrics) Lyrics(ctx context.Context, trackID string) (string, error) {
	if ch, ok := f.block[trackID]; ok {
		select {
		case <-ch:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	raw, ok := f.raw[trackID]
	if !ok {
		return "", lyrics.ErrNoLyrics
	}
	return raw, nil
}

type fakePlaylists map[string][]string

func (f fakePlaylists) Get(name string) ([]string, error) {
	ids, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("playlist %q not found", name)
	}
	return ids, nil
}

type recorder struct {
	mu        sync.Mutex
	tracks    []string
	positions []monitor.Position
	lines     []int
	texts     []string
	loaded    []string
	errs      map[string]error

	onTrack    func(string)
	onPosition func(monitor.Position)
}

func newRecorder() *recorder {
	return &recorder{errs: make(map[string]error)}
}

func (r *recorder) OnTrackStarted(trackID string) {
	r.mu.Lock()
	r.tracks = append(r.tracks, trackID)
	cb := r.onTrack
	r.mu.Unlock()
	if cb != nil {
		cb(trackID)
	}
}

func (r *recorder) OnPositionChanged(pos monitor.Position) {
	r.mu.Lock()
	r.positions = append(r.positions, pos)
	cb := r.onPosition
	r.mu.Unlock()
	if cb != nil {
		cb(pos)
	}
}

func (r *recorder) OnActiveLyricChanged(index int, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, index)
	r.texts = append(r.texts, text)
}

func (r *recorder) OnLyricsLoaded(trackID string, lines []lyrics.Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = append(r.loaded, trackID)
}

func (r *recorder) OnPlaybackError(trackID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[trackID] = err
}

func (r *recorder) Tracks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tracks...)
}

func (r *recorder) LastPosition() (monitor.Position, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.positions) == 0 {
		return monitor.Position{}, false
	}
	return r.positions[len(r.positions)-1], true
}

func (r *recorder) LastLine() (int, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) == 0 {
		return 0, "", false
	}
	return r.lines[len(r.lines)-1], r.texts[len(r.texts)-1], true
}

func (r *recorder) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.loaded...)
}

func (r *recorder) Err(trackID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[trackID]
}

type fixture struct {
	engine  *playertest.Engine
	streams *fakeStreams
	lyrics  *fakeLyrics
	rec     *recorder
	s       *Session
}

func newFixture(t *testing.T, total float64, playlists PlaylistSource) *fixture {
	t.Helper()

	f := &fixture{
		engine:  playertest.NewEngine(total),
		streams: &fakeStreams{fail: map[string]error{}},
		lyrics:  &fakeLyrics{raw: map[string]string{}, block: map[string]chan struct{}{}},
		rec:     newRecorder(),
	}
	f.s = New(Config{
		PollInterval:   tick,
		ResolveTimeout: time.Second,
		LoadTimeout:    time.Second,
	}, player.NewTransport(f.engine), f.streams, f.lyrics, playlists, f.rec)
	t.Cleanup(func() { f.s.Close() })
	return f
}

func TestPlayTrack(t *testing.T) {
	f := newFixture(t, 100, nil)
	f.lyrics.raw["t1"] = "[00:00.00]a\n[00:05.00]b\n[00:10.00]c"

	require.NoError(t, f.s.PlayTrack(context.Background(), "t1"))

	st := f.s.Snapshot()
	require.Equal(t, "t1", st.TrackID)
	require.True(t, st.Loaded)
	require.False(t, st.Paused)
	require.Equal(t, player.Playing, st.Status)
	require.Equal(t, "mem://t1", f.engine.URL())

	require.Eventually(t, func() bool {
		return len(f.rec.Tracks()) == 1 && len(f.rec.Loaded()) == 1
	}, waitFor, tick)
	require.Eventually(t, func() bool { return f.s.Snapshot().LyricsLoaded }, waitFor, tick)
}

func TestMonitorFollowsLyrics(t *testing.T) {
	f := newFixture(t, 100, nil)
	f.lyrics.raw["t1"] = "[00:00.00]a\n[00:05.00]b\n[00:10.00]c"

	require.NoError(t, f.s.PlayTrack(context.Background(), "t1"))
	require.Eventually(t, func() bool {
		line, text, ok := f.rec.LastLine()
		return ok && line == 0 && text == "a"
	}, waitFor, tick)

	f.engine.SetPosition(5)
	require.Eventually(t, func() bool {
		line, text, _ := f.rec.LastLine()
		return line == 1 && text == "b"
	}, waitFor, tick)

	f.engine.SetPosition(100)
	require.Eventually(t, func() bool {
		line, text, _ := f.rec.LastLine()
		return line == 2 && text == "c"
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		pos, ok := f.rec.LastPosition()
		return ok && pos.Known && pos.Progress == 1
	}, waitFor, tick)
	require.Equal(t, 2, f.s.Snapshot().ActiveLine)
}

func TestUnknownTotalReportsUnknownProgress(t *testing.T) {
	f := newFixture(t, 0, nil)

	require.NoError(t, f.s.PlayTrack(context.Background(), "t1"))
	f.engine.SetPosition(3)

	require.Eventually(t, func() bool {
		pos, ok := f.rec.LastPosition()
		return ok && pos.Elapsed == 3
	}, waitFor, tick)
	pos, _ := f.rec.LastPosition()
	require.False(t, pos.Known)
	require.Zero(t, pos.Progress)
	require.Zero(t, pos.Total)
}

func TestResolutionFailureKeepsSessionUsable(t *testing.T) {
	f := newFixture(t, 100, nil)
	f.streams.fail["bad"] = errors.New("no such track")

	err := f.s.PlayTrack(context.Background(), "bad")
	require.ErrorIs(t, err, ErrPlayback)
	require.ErrorIs(t, err, ErrResolution)
	require.Eventually(t, func() bool { return f.rec.Err("bad") != nil }, waitFor, tick)
	require.Equal(t, player.Idle, f.s.Snapshot().Status)

	require.NoError(t, f.s.PlayTrack(context.Background(), "good"))
	require.Equal(t, "good", f.s.Snapshot().TrackID)
}

func TestMediaLoadFailure(t *testing.T) {
	f := newFixture(t, 100, nil)
	f.engine.Reject["mem://broken"] = true

	err := f.s.PlayTrack(context.Background(), "broken")
	require.ErrorIs(t, err, ErrPlayback)
	require.ErrorIs(t, err, player.ErrMediaLoad)
	require.Eventually(t, func() bool { return f.rec.Err("broken") != nil }, waitFor, tick)
}

func TestTogglePause(t *testing.T) {
	f := newFixture(t, 100, nil)

	require.ErrorIs(t, f.s.TogglePause(), player.ErrNoMediaLoaded)

	require.NoError(t, f.s.PlayTrack(context.Background(), "t1"))
	require.NoError(t, f.s.TogglePause())
	st := f.s.Snapshot()
	require.True(t, st.Paused)
	require.Equal(t, player.Paused, st.Status)
	require.True(t, f.engine.Paused())

	require.NoError(t, f.s.TogglePause())
	st = f.s.Snapshot()
	require.False(t, st.Paused)
	require.Equal(t, player.Playing, st.Status)
}

func TestSeekWhilePausedSamplesImmediately(t *testing.T) {
	f := newFixture(t, 100, nil)

	require.NoError(t, f.s.PlayTrack(context.Background(), "t1"))
	require.NoError(t, f.s.TogglePause())

	require.NoError(t, f.s.Seek(42))
	require.Equal(t, 42.0, f.s.Snapshot().Elapsed)
	require.Eventually(t, func() bool {
		pos, _ := f.rec.LastPosition()
		return pos.Elapsed == 42
	}, waitFor, tick)

	require.NoError(t, f.s.Seek(500))
	require.Equal(t, 100.0, f.s.Snapshot().Elapsed)

	require.NoError(t, f.s.Seek(-3))
	require.Zero(t, f.s.Snapshot().Elapsed)
	require.True(t, f.s.Snapshot().Paused)
}

func TestSeekFraction(t *testing.T) {
	f := newFixture(t, 200, nil)

	require.ErrorIs(t, f.s.SeekFraction(0.5), player.ErrNoMediaLoaded)

	require.NoError(t, f.s.PlayTrack(context.Background(), "t1"))
	require.NoError(t, f.s.TogglePause())

	require.NoError(t, f.s.SeekFraction(0.25))
	require.Equal(t, 50.0, f.s.Snapshot().Elapsed)

	require.ErrorIs(t, f.s.SeekFraction(math.NaN()), player.ErrInvalidSeek)
	require.ErrorIs(t, f.s.Seek(math.Inf(1)), player.ErrInvalidSeek)
	require.Equal(t, 50.0, f.s.Snapshot().Elapsed)

	require.NoError(t, f.s.SeekFraction(2))
	require.Equal(t, 200.0, f.s.Snapshot().Elapsed)

	f.engine.SetTotal(0)
	f.engine.SetPosition(7)
	require.NoError(t, f.s.SeekFraction(0.5))
	require.Equal(t, 7.0, f.engine.Position())
}

func TestQueueSkipsUnresolvableTrack(t *testing.T) {
	f := newFixture(t, 100, nil)
	f.streams.fail["t1"] = errors.New("unavailable")

	q, err := f.s.PlayQueue(context.Background(), []string{"t1", "t2", "t3"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.engine.URL() == "mem://t2" }, waitFor, tick)
	require.Eventually(t, func() bool { return f.rec.Err("t1") != nil }, waitFor, tick)

	f.engine.Finish()
	require.Eventually(t, func() bool { return f.engine.URL() == "mem://t3" }, waitFor, tick)

	f.engine.Finish()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	require.Equal(t, []string{"t2", "t3"}, q.Played())
	require.Contains(t, q.Failed(), "t1")
	require.Equal(t, []string{"mem://t2", "mem://t3"}, f.engine.Loads())
	require.Eventually(t, func() bool { return len(f.rec.Tracks()) == 2 }, waitFor, tick)
	require.Equal(t, []string{"t2", "t3"}, f.rec.Tracks())
	require.Equal(t, player.Stopped, f.s.Snapshot().Status)
}

func TestQueueAdvancesAfterReplayedEnd(t *testing.T) {
	f := newFixture(t, 100, nil)

	q, err := f.s.PlayQueue(context.Background(), []string{"t1", "t2"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.engine.URL() == "mem://t1" }, waitFor, tick)

	// 结束和从头重播落在同一个 actor 步骤里，轮询看不到 Stopped
	var seen player.State
	var playErr error
	require.NoError(t, f.s.do(func() {
		f.engine.Finish()
		seen = f.s.transport.State()
		playErr = f.s.transport.Play()
		f.s.refreshStatusLocked()
	}))
	require.Equal(t, player.Stopped, seen)
	require.NoError(t, playErr)
	require.Eventually(t, func() bool { return f.engine.URL() == "mem://t2" }, waitFor, tick)

	f.engine.Finish()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
	require.Equal(t, []string{"t1", "t2"}, q.Played())
}

func TestStopAbortsQueue(t *testing.T) {
	f := newFixture(t, 100, nil)

	q, err := f.s.PlayQueue(context.Background(), []string{"t1", "t2"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.engine.URL() == "mem://t1" }, waitFor, tick)

	require.NoError(t, f.s.Stop())
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.ErrorIs(t, q.Wait(ctx), context.Canceled)

	st := f.s.Snapshot()
	require.Equal(t, player.Stopped, st.Status)
	require.Equal(t, []string{"mem://t1"}, f.engine.Loads())

	// 停止后可以从头重新播放
	require.NoError(t, f.s.TogglePause())
	require.Equal(t, player.Playing, f.s.Snapshot().Status)
	require.Zero(t, f.engine.Position())
}

func TestPlayTrackCancelsQueue(t *testing.T) {
	f := newFixture(t, 100, nil)

	q, err := f.s.PlayQueue(context.Background(), []string{"t1", "t2"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.engine.URL() == "mem://t1" }, waitFor, tick)

	require.NoError(t, f.s.PlayTrack(context.Background(), "solo"))
	select {
	case <-q.Done():
	case <-time.After(waitFor):
		t.Fatal("queue was not cancelled")
	}

	f.engine.Finish()
	time.Sleep(10 * tick)
	require.Equal(t, []string{"mem://t1", "mem://solo"}, f.engine.Loads())
}

func TestPlayPlaylist(t *testing.T) {
	f := newFixture(t, 100, fakePlaylists{
		"night": {"a", "b"},
		"empty": {},
	})

	_, err := f.s.PlayPlaylist(context.Background(), "missing")
	require.Error(t, err)

	_, err = f.s.PlayPlaylist(context.Background(), "empty")
	require.ErrorIs(t, err, ErrEmptyPlaylist)

	_, err = f.s.PlayQueue(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyQueue)

	q, err := f.s.PlayPlaylist(context.Background(), "night")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, q.Tracks())
	require.Eventually(t, func() bool { return f.engine.URL() == "mem://a" }, waitFor, tick)
}

func TestStaleLyricsAreIgnored(t *testing.T) {
	f := newFixture(t, 100, nil)
	release := make(chan struct{})
	f.lyrics.block["old"] = release
	f.lyrics.raw["old"] = "[00:00.00]old line"
	f.lyrics.raw["new"] = "[00:00.00]new line"

	require.NoError(t, f.s.PlayTrack(context.Background(), "old"))
	require.NoError(t, f.s.PlayTrack(context.Background(), "new"))
	require.Eventually(t, func() bool { return len(f.rec.Loaded()) == 1 }, waitFor, tick)

	close(release)
	require.NoError(t, f.s.Close())

	require.Equal(t, []string{"new"}, f.rec.Loaded())
	_, text, _ := f.rec.LastLine()
	require.Equal(t, "new line", text)
}

func TestListenerMayCallSession(t *testing.T) {
	f := newFixture(t, 100, nil)
	seen := make(chan State, 1)
	f.rec.onTrack = func(string) {
		seen <- f.s.Snapshot()
	}

	require.NoError(t, f.s.PlayTrack(context.Background(), "t1"))
	select {
	case st := <-seen:
		require.Equal(t, "t1", st.TrackID)
	case <-time.After(waitFor):
		t.Fatal("listener callback did not complete")
	}
}

func TestListenerSeeksOnEveryPosition(t *testing.T) {
	engine := playertest.NewEngine(100)
	rec := newRecorder()
	s := New(Config{PollInterval: time.Millisecond}, player.NewTransport(engine), &fakeStreams{fail: map[string]error{}}, &fakeLyrics{raw: map[string]string{}, block: map[string]chan struct{}{}}, nil, rec)
	defer s.Close()

	var seeks atomic.Int32
	rec.mu.Lock()
	rec.onPosition = func(pos monitor.Position) {
		if err := s.Seek(pos.Elapsed); err == nil {
			seeks.Add(1)
		}
	}
	rec.mu.Unlock()

	require.NoError(t, s.PlayTrack(context.Background(), "t1"))
	require.Eventually(t, func() bool { return seeks.Load() > 100 }, waitFor, tick)

	// 每次 Seek 都会再产生位置事件，actor 仍然要能响应
	snap := make(chan State, 1)
	go func() { snap <- s.Snapshot() }()
	select {
	case st := <-snap:
		require.Equal(t, "t1", st.TrackID)
	case <-time.After(waitFor):
		t.Fatal("session stopped responding")
	}

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("close did not return")
	}
}

func TestCloseReleasesEngine(t *testing.T) {
	f := newFixture(t, 100, nil)

	require.NoError(t, f.s.PlayTrack(context.Background(), "t1"))
	require.NoError(t, f.s.Close())
	require.True(t, f.engine.Closed())

	st := f.s.Snapshot()
	require.Equal(t, player.Idle, st.Status)
	require.Empty(t, st.TrackID)

	require.ErrorIs(t, f.s.PlayTrack(context.Background(), "t2"), ErrSessionClosed)
	require.ErrorIs(t, f.s.TogglePause(), ErrSessionClosed)
	_, err := f.s.PlayQueue(context.Background(), []string{"t2"})
	require.ErrorIs(t, err, ErrSessionClosed)
	require.NoError(t, f.s.Close())
}
