package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lyrics-player/internal/lyrics"
	"lyrics-player/internal/monitor"
	"lyrics-player/internal/player"
	"lyrics-player/internal/session"

	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeController) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) TogglePause() error { return f.record("pause") }
func (f *fakeController) Seek(seconds float64) error {
	return f.record("seek " + player.FormatTime(seconds))
}
func (f *fakeController) SeekFraction(fraction float64) error {
	return f.record("seekpct")
}
func (f *fakeController) PlayTrack(ctx context.Context, trackID string) error {
	return f.record("play " + trackID)
}
func (f *fakeController) PlayPlaylist(ctx context.Context, name string) (*session.Queue, error) {
	return nil, f.record("playlist " + name)
}
func (f *fakeController) Stop() error { return f.record("stop") }

func startServer(t *testing.T, controller Controller) *Server {
	t.Helper()
	// unix socket 路径长度有限，不用 t.TempDir
	dir, err := os.MkdirTemp("", "ipc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	server := NewServer(filepath.Join(dir, "s.sock"), controller)
	require.NoError(t, server.Start())
	t.Cleanup(server.Close)
	return server
}

type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, server *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("unix", server.SocketPath())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *testClient) send(t *testing.T, line string) {
	t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (c *testClient) read(t *testing.T) Event {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.reader.ReadBytes('\n')
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(line, &ev))
	return ev
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("seek 42.5")
	require.NoError(t, err)
	require.Equal(t, Command{Name: CmdSeek, Arg: "42.5", Value: 42.5}, cmd)

	cmd, err = ParseCommand("  PAUSE ")
	require.NoError(t, err)
	require.Equal(t, CmdPause, cmd.Name)

	cmd, err = ParseCommand("playlist late night")
	require.NoError(t, err)
	require.Equal(t, "late night", cmd.Arg)

	for _, bad := range []string{"", "seek", "seek soon", "seek nan", "seek inf", "seekpct NaN", "seek -Inf", "play", "rewind 3"} {
		_, err := ParseCommand(bad)
		require.Error(t, err, bad)
	}
}

func TestCommandsAreDispatched(t *testing.T) {
	controller := &fakeController{}
	server := startServer(t, controller)
	c := dial(t, server)

	for _, line := range []string{"pause", "seek 65", "seekpct 0.5", "play 186016", "playlist night", "stop"} {
		c.send(t, line)
		ev := c.read(t)
		require.Equal(t, EventAck, ev.Type, line)
	}
	require.Equal(t, []string{"pause", "seek 01:05", "seekpct", "play 186016", "playlist night", "stop"}, controller.Calls())

	c.send(t, "dance")
	ev := c.read(t)
	require.Equal(t, EventError, ev.Type)
	require.Contains(t, ev.Error, "unknown command")
}

func TestCommandErrorIsReported(t *testing.T) {
	controller := &fakeController{err: errors.New("no media loaded")}
	server := startServer(t, controller)
	c := dial(t, server)

	c.send(t, "pause")
	ev := c.read(t)
	require.Equal(t, EventError, ev.Type)
	require.Equal(t, CmdPause, ev.Command)
	require.Equal(t, "no media loaded", ev.Error)
}

func TestBroadcastReachesClients(t *testing.T) {
	server := startServer(t, &fakeController{})
	a := dial(t, server)
	b := dial(t, server)
	require.Eventually(t, func() bool { return server.ClientCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	listener := server.Listener()
	listener.OnActiveLyricChanged(3, "hello")

	for _, c := range []*testClient{a, b} {
		ev := c.read(t)
		require.Equal(t, EventLyric, ev.Type)
		require.NotNil(t, ev.Index)
		require.Equal(t, 3, *ev.Index)
		require.Equal(t, "hello", ev.Text)
	}

	listener.OnPositionChanged(monitor.Position{Elapsed: 61, Total: 200, Progress: 0.305, Known: true})
	ev := a.read(t)
	require.Equal(t, EventPosition, ev.Type)
	require.Equal(t, "01:01 / 03:20", ev.Position.Display)
}

func TestNewClientReceivesLatestState(t *testing.T) {
	server := startServer(t, &fakeController{})
	listener := server.Listener()

	listener.OnTrackStarted("old")
	listener.OnLyricsLoaded("old", []lyrics.Line{{Time: 0, Text: "stale"}})
	listener.OnTrackStarted("t1")
	listener.OnLyricsLoaded("t1", []lyrics.Line{{Time: 0, Text: "a"}, {Time: 5, Text: "b"}})
	listener.OnPositionChanged(monitor.Position{Elapsed: 2})

	c := dial(t, server)
	ev := c.read(t)
	require.Equal(t, EventTrack, ev.Type)
	require.Equal(t, "t1", ev.TrackID)

	ev = c.read(t)
	require.Equal(t, EventLyrics, ev.Type)
	require.Equal(t, []LineData{{Time: 0, Text: "a"}, {Time: 5, Text: "b"}}, ev.Lines)

	ev = c.read(t)
	require.Equal(t, EventPosition, ev.Type)
	require.False(t, ev.Position.Known)
	require.Equal(t, "00:02", ev.Position.Display)
}

func TestSecondInstanceIsRejected(t *testing.T) {
	server := startServer(t, &fakeController{})

	other := NewServer(server.SocketPath(), &fakeController{})
	require.Error(t, other.Start())
}
