package music

import (
	"context"
)

// MusicAPI 音乐API通用接口
type MusicAPI interface {
	// SearchSong 搜索歌曲，返回歌曲ID
	SearchSong(ctx context.Context, title, artist string) (string, error)

	// GetLyrics 根据歌曲ID获取歌词
	GetLyrics(ctx context.Context, songID string) (string, error)

	// GetProviderName 获取音乐提供商名称
	GetProviderName() string
}

// InfoLyricsProvider 能按歌曲信息（含时长）直接查询歌词的提供商
type InfoLyricsProvider interface {
	GetProviderName() string
	GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error)
}

// SongDescriber 能把曲目 id 解析为歌曲信息的提供商
type SongDescriber interface {
	DescribeSong(ctx context.Context, songID string) (SongInfo, error)
}

// MusicManager 音乐管理器接口（扩展接口，包含组合操作）
type MusicManager interface {
	MusicAPI

	// GetLyricsByInfo 根据歌曲信息直接获取歌词（封装搜索+获取歌词）
	GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error)

	// GetLyricsForTrack 根据曲目 id 获取歌词，失败时按歌曲信息兜底
	GetLyricsForTrack(ctx context.Context, trackID string) (string, error)
}

// SongInfo 歌曲信息结构
type SongInfo struct {
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Duration float64 `json:"duration"` // 歌曲时长（秒）
}
