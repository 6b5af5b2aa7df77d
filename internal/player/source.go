package player

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// maxSourceSize 单个音源的下载上限
const maxSourceSize = 256 << 20

// source 一个已解码的音源
type source struct {
	url      string
	streamer beep.StreamSeekCloser
	format   beep.Format
}

func (s *source) URL() string { return s.url }

func (s *source) Close() error { return s.streamer.Close() }

func (s *source) duration() float64 {
	return s.format.SampleRate.D(s.streamer.Len()).Seconds()
}

func (s *source) position() float64 {
	return s.format.SampleRate.D(s.streamer.Position()).Seconds()
}

func (s *source) seek(seconds float64) error {
	samples := s.format.SampleRate.N(secondsToDuration(seconds))
	return s.streamer.Seek(min(samples, s.streamer.Len()))
}

// fetchSource 下载整段音频到内存后解码
func fetchSource(ctx context.Context, client *http.Client, rawURL string) (*source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("User-Agent", "lyrics-player/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stream request failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	src, err := decode(rawURL, resp.Header.Get("Content-Type"), data)
	if err != nil {
		return nil, err
	}
	src.url = rawURL
	return src, nil
}

func decode(rawURL, contentType string, data []byte) (*source, error) {
	reader := bytes.NewReader(data)

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	if isWav(rawURL, contentType) {
		streamer, format, err = wav.Decode(reader)
	} else {
		streamer, format, err = mp3.Decode(nopCloser{reader})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}
	return &source{streamer: streamer, format: format}, nil
}

func isWav(rawURL, contentType string) bool {
	if strings.Contains(contentType, "wav") {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".wav")
}

// nopCloser wraps a bytes.Reader to implement io.ReadCloser.
type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
