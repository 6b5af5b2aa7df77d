package music

import (
	"context"
	"fmt"
	"strings"

	"lyrics-player/pkg/lrclib"
	musiccache "lyrics-player/pkg/musicCache"
	"lyrics-player/pkg/netease"
)

// neteaseDescriber 用网易云歌曲详情描述曲目
type neteaseDescriber struct {
	client *netease.Client
}

func (d neteaseDescriber) DescribeSong(ctx context.Context, songID string) (SongInfo, error) {
	song, err := d.client.SongDetail(ctx, songID)
	if err != nil {
		return SongInfo{}, err
	}
	return SongInfo{
		Title:    song.Name,
		Artist:   strings.Join(song.Artists, " "),
		Duration: song.Duration.Seconds(),
	}, nil
}

// CreateManager 网易云作为主要提供商；fallback 非空时作为按歌曲信息查询的兜底，
// infoCache 非空时缓存歌曲详情
func CreateManager(catalog *netease.Client, fallback *lrclib.Client, infoCache *musiccache.Cache) (*Manager, error) {
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog client is required", ErrNoProviders)
	}

	logger.Info().Str("provider", string(ProviderNetEase)).Msg("Creating NetEase music client")
	var describer SongDescriber = neteaseDescriber{client: catalog}
	if infoCache != nil {
		describer = cachedDescriber{next: describer, cache: infoCache}
	}
	opts := []Option{WithDescriber(describer)}
	if fallback != nil {
		logger.Info().Str("provider", string(ProviderLRCLib)).Msg("Enabling LRCLib fallback")
		opts = append(opts, WithFallback(fallback))
	}

	return NewManager([]MusicAPI{catalog}, opts...), nil
}
