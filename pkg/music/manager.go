package music

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Provider 音乐提供商类型
type Provider string

const (
	// ProviderLRCLib LRCLib歌词库
	ProviderLRCLib Provider = "lrclib"
	// ProviderNetEase 网易云音乐
	ProviderNetEase Provider = "netease"
)

var ErrNoProviders = errors.New("no music providers available")

var logger = log.With().Str("component", "music-manager").Logger()

// Manager 音乐API管理器
type Manager struct {
	providers []MusicAPI
	primary   MusicAPI
	fallbacks []InfoLyricsProvider
	describer SongDescriber
}

type Option func(*Manager)

// WithFallback 按歌曲信息查询的兜底歌词源
func WithFallback(p InfoLyricsProvider) Option {
	return func(m *Manager) {
		m.fallbacks = append(m.fallbacks, p)
	}
}

// WithDescriber 用于把曲目 id 转为歌曲信息
func WithDescriber(d SongDescriber) Option {
	return func(m *Manager) {
		m.describer = d
	}
}

// NewManager 创建新的音乐API管理器
func NewManager(providers []MusicAPI, opts ...Option) *Manager {
	m := &Manager{providers: providers}
	for _, opt := range opts {
		opt(m)
	}

	if len(providers) == 0 {
		logger.Warn().Msg("No music providers configured")
		return m
	}

	m.primary = providers[0]
	logger.Info().
		Int("provider_count", len(providers)).
		Int("fallback_count", len(m.fallbacks)).
		Str("primary_provider", m.primary.GetProviderName()).
		Msg("Music API Manager initialized")
	return m
}

// SearchSong 搜索歌曲，支持多提供商回退
func (m *Manager) SearchSong(ctx context.Context, title, artist string) (string, error) {
	if len(m.providers) == 0 {
		return "", ErrNoProviders
	}

	var lastErr error
	for i, provider := range m.providers {
		logger.Info().
			Str("provider", provider.GetProviderName()).
			Int("attempt", i+1).
			Int("total_providers", len(m.providers)).
			Msg("Trying provider")

		songID, err := provider.SearchSong(ctx, title, artist)
		if err == nil && songID != "" {
			return songID, nil
		}
		if err == nil {
			err = fmt.Errorf("empty song id")
		}

		logger.Warn().Str("provider", provider.GetProviderName()).Err(err).Msg("Provider failed")
		lastErr = err
	}

	return "", fmt.Errorf("all providers failed, last error: %w", lastErr)
}

// GetLyrics 获取歌词，支持多提供商回退
func (m *Manager) GetLyrics(ctx context.Context, songID string) (string, error) {
	if len(m.providers) == 0 {
		return "", ErrNoProviders
	}

	var lastErr error
	for i, provider := range m.providers {
		logger.Info().
			Str("provider", provider.GetProviderName()).
			Int("attempt", i+1).
			Int("total_providers", len(m.providers)).
			Msg("Trying to get lyrics from provider")

		lyrics, err := provider.GetLyrics(ctx, songID)
		if err == nil && strings.TrimSpace(lyrics) != "" {
			logger.Info().Str("provider", provider.GetProviderName()).Msg("Successfully got lyrics")
			return lyrics, nil
		}
		if err == nil {
			err = fmt.Errorf("empty lyrics")
		}

		logger.Warn().Str("provider", provider.GetProviderName()).Err(err).Msg("Provider failed")
		lastErr = err
	}

	return "", fmt.Errorf("all providers failed, last error: %w", lastErr)
}

// GetLyricsByInfo 根据歌曲信息直接获取歌词（封装搜索+获取歌词）
func (m *Manager) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error) {
	if len(m.providers) == 0 && len(m.fallbacks) == 0 {
		return "", ErrNoProviders
	}

	var lastErr error

	// 支持时长筛选的歌词库优先
	for _, fallback := range m.fallbacks {
		lyrics, err := fallback.GetLyricsByInfo(ctx, title, artist, duration)
		if err == nil && strings.TrimSpace(lyrics) != "" {
			logger.Info().Str("provider", fallback.GetProviderName()).Msg("Successfully got lyrics using song info")
			return lyrics, nil
		}
		if err == nil {
			err = fmt.Errorf("empty lyrics")
		}
		logger.Warn().Str("provider", fallback.GetProviderName()).Err(err).Msg("Lyrics lookup by info failed")
		lastErr = err
	}

	for i, provider := range m.providers {
		logger.Info().
			Str("title", title).
			Str("artist", artist).
			Float64("duration", duration).
			Str("provider", provider.GetProviderName()).
			Int("attempt", i+1).
			Int("total_providers", len(m.providers)).
			Msg("Trying to get lyrics")

		// 普通API流程：搜索歌曲
		songID, err := provider.SearchSong(ctx, title, artist)
		if err != nil || songID == "" {
			if err == nil {
				err = fmt.Errorf("empty song id")
			}
			logger.Warn().Str("provider", provider.GetProviderName()).Err(err).Msg("Provider search failed")
			lastErr = err
			continue
		}

		lyrics, err := provider.GetLyrics(ctx, songID)
		if err != nil || strings.TrimSpace(lyrics) == "" {
			if err == nil {
				err = fmt.Errorf("empty lyrics")
			}
			logger.Warn().
				Str("provider", provider.GetProviderName()).
				Str("song_id", songID).
				Err(err).
				Msg("Provider get lyrics failed")
			lastErr = err
			continue
		}

		logger.Info().
			Str("title", title).
			Str("artist", artist).
			Str("provider", provider.GetProviderName()).
			Msg("Successfully got lyrics")
		return lyrics, nil
	}

	return "", fmt.Errorf("all providers failed to get lyrics for '%s - %s', last error: %w", title, artist, lastErr)
}

// GetLyricsForTrack 先按 id 查询各提供商，全部失败后解析歌曲信息交给兜底歌词源
func (m *Manager) GetLyricsForTrack(ctx context.Context, trackID string) (string, error) {
	lyrics, err := m.GetLyrics(ctx, trackID)
	if err == nil {
		return lyrics, nil
	}
	if m.describer == nil || len(m.fallbacks) == 0 {
		return "", err
	}

	info, descErr := m.describer.DescribeSong(ctx, trackID)
	if descErr != nil {
		return "", fmt.Errorf("failed to describe track %s: %w", trackID, errors.Join(err, descErr))
	}

	logger.Info().
		Str("track_id", trackID).
		Str("title", info.Title).
		Str("artist", info.Artist).
		Msg("Falling back to lyrics lookup by song info")
	return m.GetLyricsByInfo(ctx, info.Title, info.Artist, info.Duration)
}

// GetProviderName 获取管理器名称（实现MusicAPI接口）
func (m *Manager) GetProviderName() string {
	if m.primary != nil {
		return fmt.Sprintf("Manager[Primary: %s]", m.primary.GetProviderName())
	}
	return "Manager[No Providers]"
}

// GetProviderNames 获取所有提供商名称
func (m *Manager) GetProviderNames() []string {
	names := make([]string, 0, len(m.providers)+len(m.fallbacks))
	for _, provider := range m.providers {
		names = append(names, provider.GetProviderName())
	}
	for _, fallback := range m.fallbacks {
		names = append(names, fallback.GetProviderName())
	}
	return names
}
