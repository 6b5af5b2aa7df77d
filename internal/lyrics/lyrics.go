package lyrics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"lyrics-player/pkg/fileutil"

	"github.com/rs/zerolog/log"
)

var ErrNoLyrics = errors.New("no lyrics found")

// Fetcher 从曲库获取某首歌的原始歌词
type Fetcher interface {
	GetLyricsForTrack(ctx context.Context, trackID string) (string, error)
}

// Cache 远端歌词缓存（redis）
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

type Provider struct {
	cacheDir string
	fetcher  Fetcher
	cache    Cache
	cacheTTL time.Duration
}

// NewProvider cache 可以为 nil，此时只使用磁盘缓存
func NewProvider(cacheDir string, fetcher Fetcher, cache Cache, cacheTTL time.Duration) *Provider {
	return &Provider{
		cacheDir: cacheDir,
		fetcher:  fetcher,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

func cacheKey(trackID string) string {
	return "lyrics:" + trackID
}

// Lyrics 依次查询 redis、磁盘缓存、曲库，命中曲库后回写两级缓存
func (p *Provider) Lyrics(ctx context.Context, trackID string) (string, error) {
	if p.cache != nil {
		cached, err := p.cache.Get(ctx, cacheKey(trackID))
		if err != nil {
			log.Warn().Err(err).Str("track_id", trackID).Msg("Redis lyric cache unavailable")
		} else if cached != "" {
			log.Debug().Str("track_id", trackID).Msg("Redis cache HIT")
			return cached, nil
		}
	}

	cacheFilepath := ""
	if p.cacheDir != "" {
		cacheFilepath = filepath.Join(p.cacheDir, sanitizeFilename(trackID)+".lrc")
		if cachedLyrics, readErr := os.ReadFile(cacheFilepath); readErr == nil && len(cachedLyrics) > 0 {
			log.Info().Str("file", cacheFilepath).Msg("Cache HIT. Loading lyrics from disk")
			p.storeRemote(ctx, trackID, string(cachedLyrics))
			return string(cachedLyrics), nil
		}
		log.Info().Str("track_id", trackID).Msg("Cache MISS. Fetching from API")
	}

	raw, err := p.fetcher.GetLyricsForTrack(ctx, trackID)
	if err != nil {
		return "", fmt.Errorf("failed to get lyrics for track %s: %w", trackID, err)
	}
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("track %s: %w", trackID, ErrNoLyrics)
	}

	if cacheFilepath != "" {
		if err := fileutil.WriteFileOverwrite(cacheFilepath, []byte(raw), 0644); err != nil {
			log.Error().Err(err).Str("file", cacheFilepath).Msg("Failed to write lyric cache file")
		}
	}
	p.storeRemote(ctx, trackID, raw)

	return raw, nil
}

func (p *Provider) storeRemote(ctx context.Context, trackID, raw string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.SetWithExpiration(ctx, cacheKey(trackID), raw, p.cacheTTL); err != nil {
		log.Warn().Err(err).Str("track_id", trackID).Msg("Failed to store lyrics in redis")
	}
}

func sanitizeFilename(name string) string {
	re := regexp.MustCompile(`[\\/:*?"<>|]`)
	return re.ReplaceAllString(name, "-")
}
