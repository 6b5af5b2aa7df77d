package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"lyrics-player/internal/app"
	"lyrics-player/internal/lyrics"
	"lyrics-player/internal/session"

	"github.com/spf13/cobra"
)

func playCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play <song-id>...",
		Short: "播放一首或多首歌曲",
		Long:  "按顺序播放给定的网易云歌曲 id。播放时输入 p 暂停/继续，s <秒> 跳转，q 退出。",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(func(ctx context.Context, s *session.Session) (*session.Queue, error) {
				return s.PlayQueue(ctx, args)
			})
		},
	}
}

// terminal 在终端打印歌词和进度
type terminal struct {
	session.NopListener
	out io.Writer
}

func (t terminal) OnTrackStarted(trackID string) {
	fmt.Fprintf(t.out, "\n▶ %s\n", trackID)
}

func (t terminal) OnActiveLyricChanged(index int, text string) {
	fmt.Fprintf(t.out, "  %s\n", text)
}

func (t terminal) OnPlaybackError(trackID string, err error) {
	fmt.Fprintf(t.out, "✗ %s: %v\n", trackID, err)
}

func (t terminal) OnLyricsLoaded(trackID string, lines []lyrics.Line) {
	if len(lines) == 0 {
		fmt.Fprintln(t.out, "  (no timed lyrics)")
	}
}

type starter func(ctx context.Context, s *session.Session) (*session.Queue, error)

func runInteractive(start starter) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(cfg, terminal{out: os.Stdout})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue, err := start(ctx, a.Session())
	if err != nil {
		return err
	}

	quit := make(chan struct{})
	go readControls(os.Stdin, a.Session(), quit)

	select {
	case <-queue.Done():
	case <-quit:
	case <-ctx.Done():
	}

	for id, err := range queue.Failed() {
		fmt.Fprintf(os.Stderr, "skipped %s: %v\n", id, err)
	}
	return nil
}

// readControls 读取标准输入中的控制命令，输入 q 时关闭 quit；EOF 时继续播放
func readControls(in io.Reader, s *session.Session, quit chan<- struct{}) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "p":
			err = s.TogglePause()
		case "s":
			if len(fields) < 2 {
				err = fmt.Errorf("usage: s <seconds>")
				break
			}
			seconds, perr := strconv.ParseFloat(fields[1], 64)
			if perr != nil {
				err = fmt.Errorf("invalid seconds %q", fields[1])
				break
			}
			err = s.Seek(seconds)
		case "q":
			close(quit)
			return
		default:
			err = fmt.Errorf("unknown control %q (p, s <seconds>, q)", fields[0])
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}
