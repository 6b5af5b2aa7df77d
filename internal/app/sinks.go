package app

import (
	"lyrics-player/internal/lyrics"
	"lyrics-player/internal/monitor"
	"lyrics-player/internal/player"
	"lyrics-player/internal/session"
	"lyrics-player/pkg/fileutil"

	"github.com/rs/zerolog/log"
)

// lyricFile 把当前歌词写到文件，供 i3blocks 等状态栏读取
type lyricFile struct {
	session.NopListener
	path string
}

func newLyricFile(path string) session.Listener {
	if path == "" {
		return session.NopListener{}
	}
	return lyricFile{path: path}
}

func (f lyricFile) write(text string) {
	if err := fileutil.WriteFileOverwrite(f.path, []byte(text+"\n"), 0644); err != nil {
		log.Warn().Err(err).Str("file", f.path).Msg("Failed to write lyric file")
	}
}

func (f lyricFile) OnTrackStarted(trackID string) {
	f.write("")
}

func (f lyricFile) OnActiveLyricChanged(index int, text string) {
	f.write(text)
}

type logListener struct{}

func (logListener) OnTrackStarted(trackID string) {
	log.Info().Str("track_id", trackID).Msg("Track started")
}

func (logListener) OnPositionChanged(pos monitor.Position) {
	log.Trace().
		Str("elapsed", player.FormatTime(pos.Elapsed)).
		Str("total", player.FormatTime(pos.Total)).
		Float64("progress", pos.Progress).
		Msg("Position")
}

func (logListener) OnActiveLyricChanged(index int, text string) {
	log.Debug().Int("index", index).Str("lyric", text).Msg("Active lyric changed")
}

func (logListener) OnLyricsLoaded(trackID string, lines []lyrics.Line) {
	log.Info().Str("track_id", trackID).Int("lines_count", len(lines)).Msg("Lyrics loaded")
}

func (logListener) OnPlaybackError(trackID string, err error) {
	log.Error().Err(err).Str("track_id", trackID).Msg("Playback error")
}
