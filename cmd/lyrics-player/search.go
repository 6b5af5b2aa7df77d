package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lyrics-player/pkg/netease"

	"github.com/spf13/cobra"
)

const searchPageSize = 10

func searchCmd() *cobra.Command {
	var page int

	cmd := &cobra.Command{
		Use:   "search <keyword>...",
		Short: "搜索网易云歌曲",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if page < 1 {
				return fmt.Errorf("page must be >= 1")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client := netease.NewClient(netease.Options{
				BaseURL: cfg.NetEase.BaseURL,
				Cookie:  cfg.NetEase.Cookie,
				Bitrate: cfg.NetEase.Bitrate,
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			keyword := strings.Join(args, " ")
			songs, err := client.Search(ctx, keyword, searchPageSize, (page-1)*searchPageSize)
			if err != nil {
				return err
			}
			if len(songs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "未找到相关歌曲")
				return nil
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "第 %d 页: %s\n", page, keyword)
			for _, song := range songs {
				fmt.Fprintf(out, "%-12s %s\n", song.ID, song.Description())
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&page, "page", "p", 1, "结果页码，每页 10 首")
	return cmd
}
