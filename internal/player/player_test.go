package player_test

import (
	"context"
	"math"
	"testing"

	"lyrics-player/internal/player"
	"lyrics-player/internal/player/playertest"

	"github.com/stretchr/testify/require"
)

func newLoaded(t *testing.T, total float64) (*player.Transport, *playertest.Engine) {
	t.Helper()
	engine := playertest.NewEngine(total)
	tr := player.NewTransport(engine)
	require.NoError(t, tr.Load(context.Background(), "http://media/a.mp3"))
	return tr, engine
}

func TestTransportLoad(t *testing.T) {
	engine := playertest.NewEngine(100)
	engine.Reject["http://media/bad.mp3"] = true
	tr := player.NewTransport(engine)

	require.ErrorIs(t, tr.Load(context.Background(), ""), player.ErrMediaLoad)
	require.ErrorIs(t, tr.Load(context.Background(), "   "), player.ErrMediaLoad)

	err := tr.Load(context.Background(), "http://media/bad.mp3")
	require.ErrorIs(t, err, player.ErrMediaLoad)
	require.ErrorIs(t, err, playertest.ErrRejected)
	require.Equal(t, player.Idle, tr.State())

	require.NoError(t, tr.Load(context.Background(), "http://media/a.mp3"))
	require.Equal(t, player.Loaded, tr.State())
	require.False(t, tr.IsPlaying())
	require.True(t, engine.Paused())
}

func TestTransportIdleMisuse(t *testing.T) {
	tr := player.NewTransport(playertest.NewEngine(100))

	require.ErrorIs(t, tr.Play(), player.ErrNoMediaLoaded)
	require.ErrorIs(t, tr.Pause(), player.ErrNoMediaLoaded)
	require.ErrorIs(t, tr.Resume(), player.ErrNoMediaLoaded)
	require.ErrorIs(t, tr.Seek(10), player.ErrNoMediaLoaded)
	require.NoError(t, tr.Stop())
	require.Equal(t, 0.0, tr.ElapsedSeconds())
	require.Equal(t, 0.0, tr.TotalSeconds())
}

func TestTransportPauseResume(t *testing.T) {
	tr, engine := newLoaded(t, 100)

	require.NoError(t, tr.Play())
	require.NoError(t, tr.Play())
	require.True(t, tr.IsPlaying())

	require.NoError(t, tr.Pause())
	require.NoError(t, tr.Pause())
	require.Equal(t, player.Paused, tr.State())
	require.True(t, engine.Paused())

	require.NoError(t, tr.Resume())
	require.NoError(t, tr.Resume())
	require.Equal(t, player.Playing, tr.State())
	require.False(t, engine.Paused())
}

func TestTransportLoadedEdges(t *testing.T) {
	tr, _ := newLoaded(t, 100)

	// 未开始播放时暂停不做任何事
	require.NoError(t, tr.Pause())
	require.Equal(t, player.Loaded, tr.State())

	require.NoError(t, tr.Resume())
	require.Equal(t, player.Playing, tr.State())
}

func TestTransportSeekClamps(t *testing.T) {
	tr, _ := newLoaded(t, 100)
	require.NoError(t, tr.Play())

	require.NoError(t, tr.Seek(250))
	require.Equal(t, tr.TotalSeconds(), tr.ElapsedSeconds())

	require.NoError(t, tr.Seek(-3))
	require.Equal(t, 0.0, tr.ElapsedSeconds())

	require.NoError(t, tr.Seek(42.5))
	require.Equal(t, 42.5, tr.ElapsedSeconds())
}

func TestTransportSeekRejectsNonFinite(t *testing.T) {
	tr, _ := newLoaded(t, 100)
	require.NoError(t, tr.Seek(12))

	for _, target := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		require.ErrorIs(t, tr.Seek(target), player.ErrInvalidSeek)
		require.Equal(t, 12.0, tr.ElapsedSeconds())
	}
}

func TestTransportSeekUnknownTotal(t *testing.T) {
	tr, _ := newLoaded(t, 0)
	require.NoError(t, tr.Seek(30))
	require.Equal(t, 30.0, tr.ElapsedSeconds())
	require.Equal(t, 0.0, tr.TotalSeconds())
}

func TestTransportTrackEnd(t *testing.T) {
	tr, engine := newLoaded(t, 10)
	require.NoError(t, tr.Play())

	engine.Advance(4)
	require.True(t, tr.IsPlaying())
	require.Equal(t, 4.0, tr.ElapsedSeconds())

	engine.Advance(7)
	require.False(t, tr.IsPlaying())
	require.Equal(t, player.Stopped, tr.State())
	require.ErrorIs(t, tr.Pause(), player.ErrNoMediaLoaded)
	require.ErrorIs(t, tr.Seek(1), player.ErrNoMediaLoaded)

	// Stopped 后重新播放从头开始
	require.NoError(t, tr.Play())
	require.True(t, tr.IsPlaying())
	require.Equal(t, 0.0, tr.ElapsedSeconds())
}

func TestTransportEndedSurvivesReplay(t *testing.T) {
	tr, engine := newLoaded(t, 100)
	require.NoError(t, tr.Play())
	require.False(t, tr.Ended())

	engine.Finish()
	require.NoError(t, tr.Play())
	require.Equal(t, player.Playing, tr.State())
	require.Zero(t, tr.ElapsedSeconds())
	require.True(t, tr.Ended())

	require.NoError(t, tr.Load(context.Background(), "http://media/b.mp3"))
	require.False(t, tr.Ended())

	require.NoError(t, tr.Play())
	require.NoError(t, tr.Stop())
	require.False(t, tr.Ended())
}

func TestTransportStopAndClose(t *testing.T) {
	tr, engine := newLoaded(t, 60)
	require.NoError(t, tr.Play())
	engine.Advance(20)

	require.NoError(t, tr.Stop())
	require.Equal(t, player.Stopped, tr.State())
	require.Equal(t, 0.0, tr.ElapsedSeconds())
	require.True(t, engine.Paused())

	require.NoError(t, tr.Load(context.Background(), "http://media/b.mp3"))
	require.Equal(t, player.Loaded, tr.State())

	require.NoError(t, tr.Close())
	require.Equal(t, player.Idle, tr.State())
	require.True(t, engine.Closed())
}

func TestFormatTime(t *testing.T) {
	require.Equal(t, "00:00", player.FormatTime(-1))
	require.Equal(t, "01:02", player.FormatTime(62.9))
	require.Equal(t, "61:40", player.FormatTime(3700))
}
