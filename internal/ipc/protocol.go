package ipc

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"lyrics-player/internal/lyrics"
	"lyrics-player/internal/monitor"
	"lyrics-player/internal/player"
	"lyrics-player/internal/session"

	"github.com/samber/lo"
)

// 事件类型
const (
	EventTrack    = "track"
	EventPosition = "position"
	EventLyric    = "lyric"
	EventLyrics   = "lyrics"
	EventError    = "error"
	EventAck      = "ack"
)

// 客户端命令
const (
	CmdPause    = "pause"
	CmdSeek     = "seek"
	CmdSeekPct  = "seekpct"
	CmdPlay     = "play"
	CmdPlaylist = "playlist"
	CmdStop     = "stop"
)

type PositionData struct {
	Elapsed  float64 `json:"elapsed"`
	Total    float64 `json:"total"`
	Progress float64 `json:"progress"`
	Known    bool    `json:"known"`
	Display  string  `json:"display"`
}

type LineData struct {
	Time float64 `json:"time"`
	Text string  `json:"text"`
}

// Event 每行一个 JSON 对象
type Event struct {
	Type     string        `json:"type"`
	TrackID  string        `json:"track_id,omitempty"`
	Position *PositionData `json:"position,omitempty"`
	Index    *int          `json:"index,omitempty"`
	Text     string        `json:"text,omitempty"`
	Lines    []LineData    `json:"lines,omitempty"`
	Command  string        `json:"command,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type Command struct {
	Name  string
	Arg   string
	Value float64
}

// ParseCommand 解析形如 "seek 42.5" 的文本命令
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}

	cmd := Command{Name: strings.ToLower(fields[0])}
	cmd.Arg = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch cmd.Name {
	case CmdPause, CmdStop:
		return cmd, nil
	case CmdSeek, CmdSeekPct:
		if cmd.Arg == "" {
			return Command{}, fmt.Errorf("%s requires a number", cmd.Name)
		}
		value, err := strconv.ParseFloat(cmd.Arg, 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			return Command{}, fmt.Errorf("invalid %s argument %q", cmd.Name, cmd.Arg)
		}
		cmd.Value = value
		return cmd, nil
	case CmdPlay, CmdPlaylist:
		if cmd.Arg == "" {
			return Command{}, fmt.Errorf("%s requires an argument", cmd.Name)
		}
		return cmd, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", cmd.Name)
	}
}

// Listener 把会话事件转成广播
func (s *Server) Listener() session.Listener {
	return broadcaster{s}
}

type broadcaster struct {
	s *Server
}

func (b broadcaster) OnTrackStarted(trackID string) {
	b.s.Broadcast(Event{Type: EventTrack, TrackID: trackID})
}

func (b broadcaster) OnPositionChanged(pos monitor.Position) {
	display := player.FormatTime(pos.Elapsed)
	if pos.Known {
		display += " / " + player.FormatTime(pos.Total)
	}
	b.s.Broadcast(Event{Type: EventPosition, Position: &PositionData{
		Elapsed:  pos.Elapsed,
		Total:    pos.Total,
		Progress: pos.Progress,
		Known:    pos.Known,
		Display:  display,
	}})
}

func (b broadcaster) OnActiveLyricChanged(index int, text string) {
	b.s.Broadcast(Event{Type: EventLyric, Index: lo.ToPtr(index), Text: text})
}

func (b broadcaster) OnLyricsLoaded(trackID string, lines []lyrics.Line) {
	b.s.Broadcast(Event{
		Type:    EventLyrics,
		TrackID: trackID,
		Lines:   lo.Map(lines, func(l lyrics.Line, _ int) LineData { return LineData{Time: l.Time, Text: l.Text} }),
	})
}

func (b broadcaster) OnPlaybackError(trackID string, err error) {
	b.s.Broadcast(Event{Type: EventError, TrackID: trackID, Error: err.Error()})
}
