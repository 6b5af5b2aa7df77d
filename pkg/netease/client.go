package netease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const (
	DefaultBaseURL = "https://music.163.com"
	// DefaultBitrate 320 kbps
	DefaultBitrate = 320000

	defaultMaxRetries     = 3
	defaultRequestTimeout = 10 * time.Second
	userAgent             = "Mozilla/5.0 (X11; Linux x86_64) lyrics-player/1.0"
)

var (
	ErrNotFound    = errors.New("song not found")
	ErrUnavailable = errors.New("song has no playable url")
	ErrNoLyrics    = errors.New("song has no lyrics")
)

var logger = log.With().Str("component", "netease").Logger()

type artistJSON struct {
	Name string `json:"name"`
}

type songJSON struct {
	ID      int64        `json:"id"`
	Name    string       `json:"name"`
	Artists []artistJSON `json:"artists"`
	Album   struct {
		Name   string `json:"name"`
		PicURL string `json:"picUrl"`
	} `json:"album"`
	// 毫秒
	Duration int64 `json:"duration"`
}

// NeteaseSearchResponse 网易云搜索API响应
type NeteaseSearchResponse struct {
	Result struct {
		Songs     []songJSON `json:"songs"`
		SongCount int        `json:"songCount"`
	} `json:"result"`
	Code int `json:"code"`
}

// NeteaseLyricResponse 网易云歌词API响应
type NeteaseLyricResponse struct {
	Lrc struct {
		Lyric string `json:"lyric"`
	} `json:"lrc"`
	Tlyric struct {
		Lyric string `json:"lyric"`
	} `json:"tlyric"`
	Code int `json:"code"`
}

// NeteaseSongURLResponse 播放地址API响应
type NeteaseSongURLResponse struct {
	Data []struct {
		ID   int64  `json:"id"`
		URL  string `json:"url"`
		Br   int    `json:"br"`
		Code int    `json:"code"`
	} `json:"data"`
	Code int `json:"code"`
}

// NeteaseDetailResponse 歌曲详情API响应
type NeteaseDetailResponse struct {
	Songs []songJSON `json:"songs"`
	Code  int        `json:"code"`
}

// Song 歌曲信息
type Song struct {
	ID       string
	Name     string
	Artists  []string
	Album    string
	CoverURL string
	Duration time.Duration
}

// Description 形如 "歌名 - 歌手1, 歌手2"
func (s Song) Description() string {
	if len(s.Artists) == 0 {
		return s.Name
	}
	return fmt.Sprintf("%s - %s", s.Name, strings.Join(s.Artists, ", "))
}

func (s songJSON) toSong() Song {
	return Song{
		ID:       strconv.FormatInt(s.ID, 10),
		Name:     s.Name,
		Artists:  lo.Map(s.Artists, func(a artistJSON, _ int) string { return a.Name }),
		Album:    s.Album.Name,
		CoverURL: s.Album.PicURL,
		Duration: time.Duration(s.Duration) * time.Millisecond,
	}
}

// Options 客户端配置，零值字段使用默认值
type Options struct {
	BaseURL string
	Cookie  string
	Bitrate int
	// Translation 为 true 时把翻译歌词合并到原文之后
	Translation bool
	HTTPClient  *http.Client
}

// Client 网易云音乐客户端
type Client struct {
	httpClient     *http.Client
	baseURL        string
	cookie         string
	bitrate        int
	translation    bool
	maxRetries     int
	requestTimeout time.Duration
}

// NewClient 创建新的网易云音乐客户端
func NewClient(opts Options) *Client {
	c := &Client{
		httpClient:     opts.HTTPClient,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		cookie:         opts.Cookie,
		bitrate:        opts.Bitrate,
		translation:    opts.Translation,
		maxRetries:     defaultMaxRetries,
		requestTimeout: defaultRequestTimeout,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.cookie == "" {
		c.cookie = os.Getenv("NETEASE_COOKIE")
	}
	if c.bitrate <= 0 {
		c.bitrate = DefaultBitrate
	}
	return c
}

// GetProviderName 获取提供商名称
func (c *Client) GetProviderName() string {
	return "NetEase Cloud Music"
}

// Search 分页搜索歌曲
func (c *Client) Search(ctx context.Context, keyword string, limit, offset int) ([]Song, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("empty search keyword")
	}
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{}
	params.Set("s", keyword)
	params.Set("type", "1")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(max(offset, 0)))

	var searchResp NeteaseSearchResponse
	if err := c.getJSON(ctx, "/api/search/get/web", params, &searchResp); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	songs := lo.Map(searchResp.Result.Songs, func(s songJSON, _ int) Song { return s.toSong() })
	logger.Info().Str("keyword", keyword).Int("offset", offset).Int("results", len(songs)).Msg("Search finished")
	return songs, nil
}

// SearchSong 搜索歌曲，返回最匹配的歌曲 id
func (c *Client) SearchSong(ctx context.Context, title, artist string) (string, error) {
	songs, err := c.Search(ctx, title, 100, 0)
	if err != nil {
		return "", err
	}
	if len(songs) == 0 {
		return "", fmt.Errorf("%w: no songs found for '%s'", ErrNotFound, title)
	}

	songID := c.findBestMatch(songs, artist, title)
	if songID == "" {
		return "", fmt.Errorf("%w: no matching song found for '%s' by '%s'", ErrNotFound, title, artist)
	}
	return songID, nil
}

// GetSongURL 获取指定码率的播放地址
func (c *Client) GetSongURL(ctx context.Context, songID string) (string, error) {
	params := url.Values{}
	params.Set("ids", "["+songID+"]")
	params.Set("br", strconv.Itoa(c.bitrate))

	var urlResp NeteaseSongURLResponse
	if err := c.getJSON(ctx, "/api/song/enhance/player/url", params, &urlResp); err != nil {
		return "", fmt.Errorf("failed to get song url: %w", err)
	}
	if len(urlResp.Data) == 0 || urlResp.Data[0].URL == "" {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, songID)
	}

	logger.Info().Str("song_id", songID).Int("bitrate", urlResp.Data[0].Br).Msg("Resolved song url")
	return urlResp.Data[0].URL, nil
}

// StreamURL 供播放会话解析曲目
func (c *Client) StreamURL(ctx context.Context, trackID string) (string, error) {
	return c.GetSongURL(ctx, trackID)
}

// SongDetail 获取歌曲详情
func (c *Client) SongDetail(ctx context.Context, songID string) (Song, error) {
	params := url.Values{}
	params.Set("id", songID)
	params.Set("ids", "["+songID+"]")

	var detailResp NeteaseDetailResponse
	if err := c.getJSON(ctx, "/api/song/detail/", params, &detailResp); err != nil {
		return Song{}, fmt.Errorf("failed to get song detail: %w", err)
	}
	if len(detailResp.Songs) == 0 {
		return Song{}, fmt.Errorf("%w: %s", ErrNotFound, songID)
	}
	return detailResp.Songs[0].toSong(), nil
}

// GetLyrics 获取歌词
func (c *Client) GetLyrics(ctx context.Context, songID string) (string, error) {
	params := url.Values{}
	params.Set("os", "pc")
	params.Set("id", songID)
	params.Set("lv", "-1")
	params.Set("kv", "-1")
	params.Set("tv", "-1")

	var lyricResp NeteaseLyricResponse
	if err := c.getJSON(ctx, "/api/song/lyric", params, &lyricResp); err != nil {
		return "", fmt.Errorf("failed to get lyrics: %w", err)
	}

	if strings.TrimSpace(lyricResp.Lrc.Lyric) == "" {
		return "", fmt.Errorf("%w: %s", ErrNoLyrics, songID)
	}
	if c.translation && strings.TrimSpace(lyricResp.Tlyric.Lyric) != "" {
		return c.combineLyrics(lyricResp.Lrc.Lyric, lyricResp.Tlyric.Lyric), nil
	}
	return lyricResp.Lrc.Lyric, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	reqURL := c.baseURL + path + "?" + params.Encode()
	logger.Debug().Str("url", reqURL).Msg("Sending request")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Referer", DefaultBaseURL)
	req.Header.Set("User-Agent", userAgent)
	// 设置Cookie
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.doRequestWithRetry(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API request failed with status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doRequestWithRetry 网络错误和 5xx 会按递增间隔重试
func (c *Client) doRequestWithRetry(req *http.Request) (*http.Response, error) {
	attempts := max(c.maxRetries, 1)
	ctx := req.Context()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			logger.Info().Int("attempt", attempt+1).Int("max_retries", attempts).Msg("Retrying request")
			select {
			case <-time.After(time.Duration(attempt*500) * time.Millisecond):
			case <-ctx.Done():
				return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
			}
		}

		resp, err := c.httpClient.Do(req.Clone(ctx))
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Request failed")
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			logger.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("Request returned server error")
			resp.Body.Close()
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
}

// findBestMatch 找到最佳匹配的歌曲
func (c *Client) findBestMatch(songs []Song, targetArtist, targetTitle string) string {
	for _, song := range songs {
		// 判断歌曲名包含关系
		if !containsIgnoreCase(song.Name, targetTitle) {
			continue
		}

		// artists 可能有多个，只要一个满足就算
		if lo.ContainsBy(song.Artists, func(a string) bool { return containsIgnoreCase(a, targetArtist) }) {
			logger.Info().Str("name", song.Name).Str("song_id", song.ID).Msg("Found matching song")
			return song.ID
		}
	}

	// 如果没有找到完全匹配的，返回第一个匹配标题的
	if len(songs) > 0 && containsIgnoreCase(songs[0].Name, targetTitle) {
		logger.Info().Str("name", songs[0].Name).Str("song_id", songs[0].ID).Msg("Using first matching song")
		return songs[0].ID
	}

	return ""
}

var lyricTagPattern = regexp.MustCompile(`\[(\d{2}:\d{2}\.\d{2,3})\](.*)`)

// combineLyrics 合并原文和翻译歌词
func (c *Client) combineLyrics(originalLyrics, translatedLyrics string) string {
	originalLines := parseLyrics(originalLyrics)
	translatedLines := parseLyrics(translatedLyrics)

	timestamps := lo.Keys(originalLines)
	sort.Strings(timestamps)

	var combinedLyrics strings.Builder
	for _, t := range timestamps {
		combinedLyrics.WriteString(fmt.Sprintf("[%s]%s\n", t, originalLines[t]))
		if translated, ok := translatedLines[t]; ok {
			combinedLyrics.WriteString(fmt.Sprintf("[%s]%s\n", t, translated))
		}
	}

	return strings.TrimSpace(combinedLyrics.String())
}

// parseLyrics 提取时间戳和歌词内容
func parseLyrics(lyricText string) map[string]string {
	lines := make(map[string]string)
	for _, match := range lyricTagPattern.FindAllStringSubmatch(lyricText, -1) {
		text := strings.TrimSpace(match[2])
		if text != "" {
			lines[match[1]] = text
		}
	}
	return lines
}

// normalizeString 标准化字符串（转小写，去空格）
func normalizeString(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "")
}

// containsIgnoreCase 忽略大小写和空格的包含关系检查
func containsIgnoreCase(s1, s2 string) bool {
	norm1, norm2 := normalizeString(s1), normalizeString(s2)
	return strings.Contains(norm1, norm2) || strings.Contains(norm2, norm1)
}
