package main

import (
	"context"
	"fmt"
	"time"

	"lyrics-player/internal/session"
	"lyrics-player/pkg/netease"
	"lyrics-player/pkg/playlist"

	"github.com/spf13/cobra"
)

func playlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playlist",
		Short: "管理歌单",
	}
	cmd.AddCommand(playlistCreateCmd(), playlistAddCmd(), playlistListCmd(), playlistShowCmd(), playlistPlayCmd())
	return cmd
}

func openStore() (*playlist.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return playlist.Open(cfg.App.PlaylistFile)
}

func playlistCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "创建歌单",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.Create(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "歌单 %s 已创建\n", args[0])
			return nil
		},
	}
}

func playlistAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <song-id>...",
		Short: "添加歌曲到歌单",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			for _, id := range args[1:] {
				if err := store.Add(args[0], id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "已添加 %s 到 %s\n", id, args[0])
			}
			return nil
		},
	}
}

func playlistListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "列出所有歌单",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			for _, name := range store.Names() {
				ids, _ := store.Get(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d)\n", name, len(ids))
			}
			return nil
		},
	}
}

func playlistShowCmd() *cobra.Command {
	var details bool

	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "显示歌单内容",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := playlist.Open(cfg.App.PlaylistFile)
			if err != nil {
				return err
			}
			ids, err := store.Get(args[0])
			if err != nil {
				return err
			}

			var client *netease.Client
			if details {
				client = netease.NewClient(netease.Options{BaseURL: cfg.NetEase.BaseURL, Cookie: cfg.NetEase.Cookie})
			}

			out := cmd.OutOrStdout()
			for i, id := range ids {
				line := id
				if client != nil {
					ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
					song, err := client.SongDetail(ctx, id)
					cancel()
					if err == nil {
						line = fmt.Sprintf("%-12s %s", id, song.Description())
					}
				}
				fmt.Fprintf(out, "%3d. %s\n", i+1, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&details, "details", "d", false, "查询歌曲名和歌手")
	return cmd
}

func playlistPlayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play <name>",
		Short: "按顺序播放歌单",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(func(ctx context.Context, s *session.Session) (*session.Queue, error) {
				return s.PlayPlaylist(ctx, args[0])
			})
		},
	}
}
