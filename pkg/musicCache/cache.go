package musiccache

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	kvSeparator = " => "
	kvFormat    = "%s" + kvSeparator + "%s\n"
)

var ErrNotFound = errors.New("not found")

var logger = log.With().Str("component", "music-cache").Logger()

// Cache 追加写入的 key => value 文本缓存，启动时整体读入内存
type Cache struct {
	path    string
	entries sync.Map
	mu      sync.Mutex
}

// Open 读取缓存文件，文件不存在时创建
func Open(path string) (*Cache, error) {
	c := &Cache{path: path}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("failed to open cache file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), kvSeparator)
		if !ok || key == "" {
			continue
		}
		// 后写入的覆盖先写入的
		c.entries.Store(key, value)
		count++
	}
	if err := scanner.Err(); err != nil {
		logger.Warn().Err(err).Str("file", path).Msg("Cache file partially read")
	}
	logger.Debug().Str("file", path).Int("entries", count).Msg("Loaded music cache")
	return c, nil
}

func (c *Cache) Path() string {
	return c.path
}

// Add 写入一条记录；key 已存在且值相同时跳过
func (c *Cache) Add(key, value string) error {
	if strings.Contains(key, "\n") || strings.Contains(value, "\n") || strings.Contains(key, kvSeparator) {
		return fmt.Errorf("invalid cache entry %q", key)
	}
	if old, ok := c.entries.Load(key); ok && old.(string) == value {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open cache file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, kvFormat, key, value); err != nil {
		return fmt.Errorf("failed to append cache entry: %w", err)
	}
	c.entries.Store(key, value)
	return nil
}

func (c *Cache) Get(key string) (string, error) {
	v, ok := c.entries.Load(key)
	if !ok {
		return "", ErrNotFound
	}
	return v.(string), nil
}
