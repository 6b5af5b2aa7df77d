package music

import (
	"context"
	"encoding/json"

	musiccache "lyrics-player/pkg/musicCache"
)

// cachedDescriber 把歌曲信息记到本地缓存，同一首歌只查询一次
type cachedDescriber struct {
	next  SongDescriber
	cache *musiccache.Cache
}

func (d cachedDescriber) DescribeSong(ctx context.Context, songID string) (SongInfo, error) {
	if raw, err := d.cache.Get(songID); err == nil {
		var info SongInfo
		if err := json.Unmarshal([]byte(raw), &info); err == nil {
			logger.Debug().Str("song_id", songID).Msg("Song info cache HIT")
			return info, nil
		}
	}

	info, err := d.next.DescribeSong(ctx, songID)
	if err != nil {
		return SongInfo{}, err
	}

	if data, err := json.Marshal(info); err == nil {
		if err := d.cache.Add(songID, string(data)); err != nil {
			logger.Warn().Err(err).Str("song_id", songID).Msg("Failed to cache song info")
		}
	}
	return info, nil
}
