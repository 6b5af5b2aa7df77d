package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"lyrics-player/internal/config"
	"lyrics-player/internal/i3block"
	"lyrics-player/internal/ipc"
	"lyrics-player/internal/lyrics"
	"lyrics-player/internal/player"
	"lyrics-player/internal/session"
	"lyrics-player/pkg/lrclib"
	"lyrics-player/pkg/music"
	musiccache "lyrics-player/pkg/musicCache"
	"lyrics-player/pkg/netease"
	"lyrics-player/pkg/playlist"
	"lyrics-player/pkg/redis"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// 下载整首歌曲，不能用太短的超时
const streamClientTimeout = 2 * time.Minute

type App struct {
	cfg       *config.Config
	catalog   *netease.Client
	redis     *redis.Client
	playlists *playlist.Store
	session   *session.Session
	ipcServer *ipc.Server
	i3block   *i3block.Controller

	closeOnce sync.Once
}

// SetupLogging 配置全局 zerolog
func SetupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		log.Warn().Str("level", level).Msg("Unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// New 组装曲库、歌词、歌单和播放会话；extra 是额外的事件监听者（例如终端输出）
func New(cfg *config.Config, extra ...session.Listener) (*App, error) {
	a := &App{cfg: cfg}

	a.catalog = netease.NewClient(netease.Options{
		BaseURL:     cfg.NetEase.BaseURL,
		Cookie:      cfg.NetEase.Cookie,
		Bitrate:     cfg.NetEase.Bitrate,
		Translation: cfg.NetEase.Translation,
	})

	var fallback *lrclib.Client
	if cfg.LRCLib.Enabled {
		fallback = lrclib.NewClient(cfg.LRCLib.BaseURL)
	}

	if err := os.MkdirAll(cfg.App.CacheDir, 0755); err != nil {
		log.Warn().Err(err).Str("cache_dir", cfg.App.CacheDir).Msg("Failed to create cache directory")
	}
	log.Info().Str("cache_dir", cfg.App.CacheDir).Msg("Lyrics cache directory")

	infoCache, err := musiccache.Open(filepath.Join(cfg.App.CacheDir, "song_info.list"))
	if err != nil {
		log.Warn().Err(err).Msg("Song info cache unavailable")
		infoCache = nil
	}

	manager, err := music.CreateManager(a.catalog, fallback, infoCache)
	if err != nil {
		return nil, fmt.Errorf("failed to create music manager: %w", err)
	}

	// 接口变量不能持有 nil 指针
	var cache lyrics.Cache
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, using disk cache only")
		} else {
			a.redis = client
			cache = client
		}
	}

	provider := lyrics.NewProvider(cfg.App.CacheDir, manager, cache, cfg.Redis.LyricTTL)

	a.playlists, err = playlist.Open(cfg.App.PlaylistFile)
	if err != nil {
		a.closeRedis()
		return nil, fmt.Errorf("failed to open playlists: %w", err)
	}

	a.ipcServer = ipc.NewServer(cfg.App.SocketPath, nil)

	listeners := session.Multi{
		a.ipcServer.Listener(),
		newLyricFile(cfg.App.LyricFile),
		logListener{},
	}
	if cfg.I3Block.Enabled {
		a.i3block = i3block.NewController(syscall.Signal(cfg.I3Block.Signal))
		listeners = append(listeners, a.i3block)
	}
	listeners = append(listeners, extra...)

	engine := player.NewEngine(&http.Client{Timeout: streamClientTimeout})
	if !player.AudioAvailable {
		log.Warn().Msg("Built without audio support, playback will be silent")
	}

	a.session = session.New(session.Config{
		PollInterval:   cfg.App.PollInterval,
		ResolveTimeout: cfg.App.ResolveTimeout,
		LoadTimeout:    cfg.App.LoadTimeout,
		Lookahead:      cfg.App.LyricLookahead,
	}, player.NewTransport(engine), a.catalog, provider, a.playlists, listeners)
	a.ipcServer.Attach(a.session)

	return a, nil
}

func (a *App) Session() *session.Session {
	return a.session
}

// Serve 启动 IPC 服务和后台组件，直到 ctx 结束
func (a *App) Serve(ctx context.Context) error {
	if err := a.ipcServer.Start(); err != nil {
		return fmt.Errorf("failed to start IPC server: %w", err)
	}

	if err := a.playlists.Watch(func() {
		log.Info().Strs("playlists", a.playlists.Names()).Msg("Playlists reloaded")
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to watch playlist file")
	}

	if a.i3block != nil {
		if err := a.i3block.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start i3block controller")
		}
	}

	log.Info().Str("session_id", a.session.ID()).Msg("Lyrics player ready")
	<-ctx.Done()
	log.Info().Msg("Shutting down")
	return nil
}

// Close 先停会话再关闭事件出口
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.session.Close()
		a.ipcServer.Close()
		if a.i3block != nil {
			a.i3block.Stop()
		}
		if cerr := a.playlists.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close playlist watcher")
		}
		a.closeRedis()
	})
	return err
}

func (a *App) closeRedis() {
	if a.redis == nil {
		return
	}
	if err := a.redis.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close redis client")
	}
}
