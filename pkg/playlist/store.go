// Package playlist 持久化用户歌单：歌单名到有序曲目 id 列表的 JSON 文件
package playlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"lyrics-player/pkg/fileutil"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var (
	ErrPlaylistExists   = errors.New("playlist already exists")
	ErrPlaylistNotFound = errors.New("playlist not found")
	ErrTrackExists      = errors.New("track already in playlist")
	ErrInvalidName      = errors.New("invalid playlist name")
)

var logger = log.With().Str("component", "playlist").Logger()

// trackID 兼容旧文件中以数字保存的 id
type trackID string

func (t *trackID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = trackID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("track id must be a string or number: %s", data)
	}
	*t = trackID(n.String())
	return nil
}

type Store struct {
	path string

	mu        sync.RWMutex
	playlists map[string][]string

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	closed  chan struct{}
	done    chan struct{}
}

// Open 读取歌单文件；文件不存在或内容损坏时视为空
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty playlist file path")
	}
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func load(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read playlists: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string][]string{}, nil
	}

	var raw map[string][]trackID
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn().Err(err).Str("file", path).Msg("Playlist file is corrupt, treating as empty")
		return map[string][]string{}, nil
	}

	playlists := make(map[string][]string, len(raw))
	for name, ids := range raw {
		playlists[name] = lo.Uniq(lo.Map(ids, func(id trackID, _ int) string { return string(id) }))
	}
	return playlists, nil
}

// Reload 从磁盘重新读取
func (s *Store) Reload() error {
	playlists, err := load(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.playlists = playlists
	s.mu.Unlock()

	logger.Debug().Str("file", s.path).Int("playlists", len(playlists)).Msg("Playlists loaded")
	return nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.playlists, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode playlists: %w", err)
	}
	if err := fileutil.WriteFileOverwrite(s.path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to save playlists: %w", err)
	}
	return nil
}

// Create 新建空歌单，重名时返回 ErrPlaylistExists
func (s *Store) Create(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.playlists[name]; ok {
		return fmt.Errorf("%w: %s", ErrPlaylistExists, name)
	}
	s.playlists[name] = []string{}
	if err := s.saveLocked(); err != nil {
		delete(s.playlists, name)
		return err
	}

	logger.Info().Str("playlist", name).Msg("Playlist created")
	return nil
}

// Add 追加曲目，同一歌单中的曲目不重复
func (s *Store) Add(name, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("empty track id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.playlists[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlaylistNotFound, name)
	}
	if lo.Contains(ids, id) {
		return fmt.Errorf("%w: %s in %s", ErrTrackExists, id, name)
	}

	s.playlists[name] = append(ids, id)
	if err := s.saveLocked(); err != nil {
		s.playlists[name] = ids
		return err
	}

	logger.Info().Str("playlist", name).Str("track_id", id).Msg("Track added")
	return nil
}

// Get 返回歌单曲目的副本
func (s *Store) Get(name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.playlists[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlaylistNotFound, name)
	}
	return append([]string(nil), ids...), nil
}

// Names 按名称排序
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := lo.Keys(s.playlists)
	sort.Strings(names)
	return names
}

// Watch 监听文件变化并自动重新加载，onChange 可以为 nil
func (s *Store) Watch(onChange func()) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.watcher != nil {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create playlist directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// 监听目录，原子替换文件时仍能收到事件
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	s.watcher = watcher
	s.closed = make(chan struct{})
	s.done = make(chan struct{})
	go s.watchLoop(watcher, onChange, s.closed, s.done)

	logger.Info().Str("file", s.path).Msg("Watching playlist file")
	return nil
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher, onChange func(), closed, done chan struct{}) {
	defer close(done)

	target := filepath.Clean(s.path)
	for {
		select {
		case <-closed:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				logger.Warn().Err(err).Msg("Playlist reload failed")
				continue
			}
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("Playlist watcher error")
		}
	}
}

// Close 停止监听
func (s *Store) Close() error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.watcher == nil {
		return nil
	}
	close(s.closed)
	err := s.watcher.Close()
	<-s.done
	s.watcher = nil
	return err
}
