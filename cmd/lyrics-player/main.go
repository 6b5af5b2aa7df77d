package main

import (
	"fmt"
	"os"

	"lyrics-player/internal/app"
	"lyrics-player/internal/config"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "lyrics-player",
	Short:         "网易云音乐播放器，带同步歌词",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径（默认 $XDG_CONFIG_HOME/lyrics-player/config.toml）")
	rootCmd.AddCommand(playCmd(), searchCmd(), playlistCmd(), serveCmd(), ctlCmd())
}

// loadConfig 读取配置并初始化日志
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath == "" {
		cfg = config.Load()
	} else {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
		}
	}
	app.SetupLogging(cfg.App.LogLevel)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
