package lrclib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const DefaultBaseURL = "https://lrclib.net/api"

var ErrNoLyrics = errors.New("no lyrics found")

var logger = log.With().Str("component", "lrclib").Logger()

// Client LRCLib客户端
type Client struct {
	httpClient     *http.Client
	baseURL        string
	requestTimeout time.Duration
	maxRetries     int
	retryDelay     time.Duration
}

// LRCLibResponse LRCLib API响应结构
type LRCLibResponse struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

// LRCLibSearchResponse LRCLib API搜索响应（列表）
type LRCLibSearchResponse []LRCLibResponse

// NewClient 创建新的LRCLib客户端，baseURL 为空时使用公共服务
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		baseURL:        baseURL,
		requestTimeout: 5 * time.Second,
		maxRetries:     3,
		retryDelay:     500 * time.Millisecond,
	}
}

// GetProviderName 返回提供商名称
func (c *Client) GetProviderName() string {
	return "LRCLib"
}

// SearchSong LRCLib 没有单独的搜索步骤，把查询参数编码为 "title|artist" 作为 id
func (c *Client) SearchSong(ctx context.Context, title, artist string) (string, error) {
	return fmt.Sprintf("%s|%s", title, artist), nil
}

// GetLyrics 获取歌词，songID 格式为 title|artist
func (c *Client) GetLyrics(ctx context.Context, songID string) (string, error) {
	title, artist, ok := strings.Cut(songID, "|")
	if !ok {
		return "", fmt.Errorf("invalid song ID format: %s", songID)
	}
	return c.getLyricsByInfo(ctx, title, artist, 0)
}

// GetLyricsByInfo 直接通过歌曲信息获取歌词，duration 用于在同名结果中挑选
func (c *Client) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error) {
	return c.getLyricsByInfo(ctx, title, artist, duration)
}

func (c *Client) getLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("track_name", title)
	params.Set("artist_name", artist)
	// 不直接传递 duration 参数，改为在结果中筛选
	searchURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())

	resp, err := c.doRequestWithRetry(timeoutCtx, searchURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var lrcResponses LRCLibSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&lrcResponses); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	logger.Info().Str("title", title).Str("artist", artist).Int("results", len(lrcResponses)).Msg("Search finished")
	if len(lrcResponses) == 0 {
		return "", fmt.Errorf("%w for '%s - %s'", ErrNoLyrics, title, artist)
	}

	bestMatch := c.findBestMatch(lrcResponses, title, artist, duration)

	// 优先返回同步歌词
	if bestMatch.SyncedLyrics != "" {
		logger.Info().
			Str("track", bestMatch.TrackName).
			Str("artist", bestMatch.ArtistName).
			Float64("duration", bestMatch.Duration).
			Float64("target", duration).
			Msg("Selected synced lyrics")
		return bestMatch.SyncedLyrics, nil
	}

	// 纯文本歌词没有时间轴，无法同步显示
	return "", fmt.Errorf("%w: selected result has no synced lyrics for '%s - %s'", ErrNoLyrics, title, artist)
}

func (c *Client) doRequestWithRetry(ctx context.Context, searchURL string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Info().Int("attempt", attempt).Int("max_retries", c.maxRetries).Msg("Retrying request")
			select {
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", "lyrics-player/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Request failed")
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		resp.Body.Close()
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
		logger.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("Request returned error status")
		if resp.StatusCode < http.StatusInternalServerError {
			break
		}
	}
	return nil, fmt.Errorf("request failed: %w", lastErr)
}

// findBestMatch 标题加歌手匹配优先，其次只匹配标题，再按时长挑最接近的
func (c *Client) findBestMatch(responses LRCLibSearchResponse, targetTitle, targetArtist string, targetDuration float64) *LRCLibResponse {
	var exactMatches, titleMatches []*LRCLibResponse
	for i := range responses {
		response := &responses[i]
		if !containsIgnoreCase(response.TrackName, targetTitle) {
			continue
		}
		if containsIgnoreCase(response.ArtistName, targetArtist) {
			exactMatches = append(exactMatches, response)
		} else {
			titleMatches = append(titleMatches, response)
		}
	}

	matchPool := exactMatches
	if len(matchPool) == 0 {
		matchPool = titleMatches
	}
	if len(matchPool) == 0 {
		matchPool = lo.Map(responses, func(_ LRCLibResponse, i int) *LRCLibResponse { return &responses[i] })
	}

	if targetDuration <= 0 {
		return matchPool[0]
	}

	// 最大允许3秒误差
	const maxDurationDiff = 3.0
	bestMatch := lo.MinBy(matchPool, func(a, b *LRCLibResponse) bool {
		return abs(a.Duration-targetDuration) < abs(b.Duration-targetDuration)
	})
	if diff := abs(bestMatch.Duration - targetDuration); diff > maxDurationDiff {
		logger.Info().Float64("diff", diff).Msg("No duration match within threshold, using closest")
	}
	return bestMatch
}

func abs(n float64) float64 {
	if n < 0 {
		return -n
	}
	return n
}

// containsIgnoreCase 忽略大小写检查包含关系
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
