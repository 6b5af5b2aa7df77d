package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lyrics-player/internal/app"
	"lyrics-player/internal/ipc"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "后台运行，通过 unix socket 推送歌词并接收控制命令",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx)
		},
	}
}

// ctlCmd 向正在运行的 serve 进程发送一条命令
func ctlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ctl <command> [arg]",
		Short: "控制后台播放器：pause | seek <秒> | seekpct <0..1> | play <id> | playlist <name> | stop",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			line := strings.Join(args, " ")
			if _, err := ipc.ParseCommand(line); err != nil {
				return err
			}

			conn, err := net.DialTimeout("unix", cfg.App.SocketPath, 2*time.Second)
			if err != nil {
				return fmt.Errorf("player not running at %s: %w", cfg.App.SocketPath, err)
			}
			defer conn.Close()

			if _, err := fmt.Fprintln(conn, line); err != nil {
				return err
			}

			// 连接时会先收到状态回放，跳过广播直到命令的回复
			conn.SetReadDeadline(time.Now().Add(cfg.App.ResolveTimeout + cfg.App.LoadTimeout))
			decoder := json.NewDecoder(conn)
			for {
				var ev ipc.Event
				if err := decoder.Decode(&ev); err != nil {
					return fmt.Errorf("no reply from player: %w", err)
				}
				switch {
				case ev.Type == ipc.EventAck:
					fmt.Fprintln(cmd.OutOrStdout(), "ok")
					return nil
				case ev.Type == ipc.EventError && ev.TrackID == "":
					return fmt.Errorf("%s", ev.Error)
				}
			}
		},
	}
}
