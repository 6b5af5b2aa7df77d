package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

const (
	appName = "lyrics-player"

	DefaultSocketPath     = "/tmp/lyrics_player.sock"
	DefaultLyricFile      = "/tmp/lyrics"
	DefaultPollInterval   = time.Second
	DefaultResolveTimeout = 15 * time.Second
	DefaultLoadTimeout    = 60 * time.Second
	DefaultLyricTTL       = 7 * 24 * time.Hour
	DefaultLogLevel       = "info"
)

func getDefaultCacheDir() string {
	// 优先使用 XDG_CACHE_HOME 环境变量
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// 获取不到用户主目录时回退到当前目录
		return "lyrics_cache"
	}
	return filepath.Join(homeDir, ".cache", appName)
}

func getDefaultDataDir() string {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, appName)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(homeDir, ".local", "share", appName)
}

// TomlConfig TOML配置文件结构，未出现的字段保持默认值
type TomlConfig struct {
	App struct {
		SocketPath     string   `toml:"socket_path"`
		CacheDir       string   `toml:"cache_dir"`
		PlaylistFile   string   `toml:"playlist_file"`
		LyricFile      string   `toml:"lyric_file"`
		PollInterval   string   `toml:"poll_interval"`
		ResolveTimeout string   `toml:"resolve_timeout"`
		LoadTimeout    string   `toml:"load_timeout"`
		LyricLookahead *float64 `toml:"lyric_lookahead"`
		LogLevel       string   `toml:"log_level"`
	} `toml:"app"`

	NetEase struct {
		BaseURL     string `toml:"base_url"`
		Cookie      string `toml:"cookie"`
		Bitrate     int    `toml:"bitrate"`
		Translation bool   `toml:"translation"`
	} `toml:"netease"`

	LRCLib struct {
		Enabled *bool  `toml:"enabled"`
		BaseURL string `toml:"base_url"`
	} `toml:"lrclib"`

	Redis struct {
		Enabled  bool   `toml:"enabled"`
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
		LyricTTL string `toml:"lyric_ttl"`
	} `toml:"redis"`

	I3Block struct {
		Enabled bool `toml:"enabled"`
		Signal  int  `toml:"signal"`
	} `toml:"i3block"`
}

// AppConfig 应用配置
type AppConfig struct {
	SocketPath     string
	CacheDir       string
	PlaylistFile   string
	LyricFile      string
	PollInterval   time.Duration
	ResolveTimeout time.Duration
	LoadTimeout    time.Duration
	// LyricLookahead 歌词提前显示的秒数
	LyricLookahead float64
	LogLevel       string
}

// NetEaseConfig 网易云配置
type NetEaseConfig struct {
	BaseURL     string
	Cookie      string
	Bitrate     int
	Translation bool
}

// LRCLibConfig LRCLib 兜底歌词源
type LRCLibConfig struct {
	Enabled bool
	BaseURL string
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	LyricTTL time.Duration
}

type I3BlockConfig struct {
	Enabled bool
	// Signal 发给 i3blocks 的信号编号，0 表示 SIGRTMIN+21
	Signal int
}

// Config 主配置结构
type Config struct {
	App     AppConfig
	NetEase NetEaseConfig
	LRCLib  LRCLibConfig
	Redis   RedisConfig
	I3Block I3BlockConfig
}

// Default 返回全部默认值
func Default() *Config {
	return &Config{
		App: AppConfig{
			SocketPath:     DefaultSocketPath,
			CacheDir:       getDefaultCacheDir(),
			PlaylistFile:   filepath.Join(getDefaultDataDir(), "playlists.json"),
			LyricFile:      DefaultLyricFile,
			PollInterval:   DefaultPollInterval,
			ResolveTimeout: DefaultResolveTimeout,
			LoadTimeout:    DefaultLoadTimeout,
			LogLevel:       DefaultLogLevel,
		},
		NetEase: NetEaseConfig{
			BaseURL: "https://music.163.com",
			Bitrate: 320000,
		},
		LRCLib: LRCLibConfig{
			Enabled: true,
			BaseURL: "https://lrclib.net/api",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			LyricTTL: DefaultLyricTTL,
		},
	}
}

// Path 获取配置文件路径
func Path() string {
	// 优先使用 XDG_CONFIG_HOME 环境变量
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName, "config.toml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Warn().Err(err).Msg("Cannot get user home directory")
		return "config.toml"
	}
	return filepath.Join(homeDir, ".config", appName, "config.toml")
}

// Load 从默认路径加载，文件缺失或损坏时使用默认配置
func Load() *Config {
	cfg, err := LoadFile(Path())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load config file, using default configuration")
		return Default()
	}
	return cfg
}

// LoadFile 加载指定的配置文件，文件不存在时返回默认配置
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Info().Str("path", path).Msg("Config file not found, using defaults")
		return cfg, nil
	}

	var tomlConfig TomlConfig
	if _, err := toml.DecodeFile(path, &tomlConfig); err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Msg("Loaded config")

	cfg.apply(&tomlConfig)
	return cfg, nil
}

func (c *Config) apply(t *TomlConfig) {
	// [app]
	setString(&c.App.SocketPath, t.App.SocketPath)
	setString(&c.App.CacheDir, t.App.CacheDir)
	setString(&c.App.PlaylistFile, t.App.PlaylistFile)
	setString(&c.App.LyricFile, t.App.LyricFile)
	setString(&c.App.LogLevel, t.App.LogLevel)
	setDuration(&c.App.PollInterval, t.App.PollInterval, "app.poll_interval")
	setDuration(&c.App.ResolveTimeout, t.App.ResolveTimeout, "app.resolve_timeout")
	setDuration(&c.App.LoadTimeout, t.App.LoadTimeout, "app.load_timeout")
	if t.App.LyricLookahead != nil {
		c.App.LyricLookahead = *t.App.LyricLookahead
	}

	// [netease]
	setString(&c.NetEase.BaseURL, t.NetEase.BaseURL)
	setString(&c.NetEase.Cookie, t.NetEase.Cookie)
	if t.NetEase.Bitrate > 0 {
		c.NetEase.Bitrate = t.NetEase.Bitrate
	}
	c.NetEase.Translation = t.NetEase.Translation

	// [lrclib]
	if t.LRCLib.Enabled != nil {
		c.LRCLib.Enabled = *t.LRCLib.Enabled
	}
	setString(&c.LRCLib.BaseURL, t.LRCLib.BaseURL)

	// [redis]
	c.Redis.Enabled = t.Redis.Enabled
	setString(&c.Redis.Addr, t.Redis.Addr)
	setString(&c.Redis.Password, t.Redis.Password)
	if t.Redis.DB != 0 {
		c.Redis.DB = t.Redis.DB
	}
	setDuration(&c.Redis.LyricTTL, t.Redis.LyricTTL, "redis.lyric_ttl")

	// [i3block]
	c.I3Block.Enabled = t.I3Block.Enabled
	if t.I3Block.Signal > 0 {
		c.I3Block.Signal = t.I3Block.Signal
	}
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setDuration(dst *time.Duration, value, key string) {
	if value == "" {
		return
	}
	duration, err := time.ParseDuration(value)
	if err != nil || duration <= 0 {
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid duration, using default")
		return
	}
	*dst = duration
}
