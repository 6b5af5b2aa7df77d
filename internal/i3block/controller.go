package i3block

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"lyrics-player/internal/session"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultSignal SIGRTMIN+21，对应 i3blocks 配置中的 signal=21
	DefaultSignal = syscall.Signal(55)

	refreshInterval = 10 * time.Second
)

var logger = log.With().Str("component", "i3block").Logger()

// Controller 跟踪 i3blocks 进程，歌词变化时发送信号让其刷新
type Controller struct {
	session.NopListener

	signal syscall.Signal
	// lookup 返回 i3blocks 的 PID，可在测试中替换
	lookup func() (int, error)

	pid      int
	pidMutex sync.RWMutex

	ticker    *time.Ticker
	stopChan  chan struct{}
	isRunning bool
	runMutex  sync.Mutex
}

// NewController signal 为 0 时使用 DefaultSignal
func NewController(signal syscall.Signal) *Controller {
	if signal == 0 {
		signal = DefaultSignal
	}
	return &Controller{
		signal: signal,
		lookup: findPID,
		pid:    -1,
	}
}

// Start begins monitoring the i3blocks PID.
func (c *Controller) Start() error {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()

	if c.isRunning {
		return fmt.Errorf("controller is already running")
	}

	if err := c.refreshPID(); err != nil {
		logger.Warn().Err(err).Msg("i3blocks not found yet")
	}

	c.ticker = time.NewTicker(refreshInterval)
	c.stopChan = make(chan struct{})
	c.isRunning = true

	go c.monitorLoop(c.ticker, c.stopChan)

	logger.Info().Int("signal", int(c.signal)).Msg("i3block controller started")
	return nil
}

// Stop stops the controller.
func (c *Controller) Stop() {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()

	if !c.isRunning {
		return
	}

	close(c.stopChan)
	c.ticker.Stop()
	c.isRunning = false

	logger.Info().Msg("i3block controller stopped")
}

func (c *Controller) monitorLoop(ticker *time.Ticker, stop chan struct{}) {
	for {
		select {
		case <-ticker.C:
			if err := c.refreshPID(); err != nil {
				logger.Debug().Err(err).Msg("Failed to refresh i3blocks PID")
			}
		case <-stop:
			return
		}
	}
}

func (c *Controller) refreshPID() error {
	pid, err := c.lookup()
	if err != nil {
		pid = -1
	}

	c.pidMutex.Lock()
	oldPID := c.pid
	c.pid = pid
	c.pidMutex.Unlock()

	if oldPID != pid {
		logger.Info().Int("old_pid", oldPID).Int("pid", pid).Msg("i3blocks PID updated")
	}
	return err
}

// findPID 先用 pgrep，失败时解析 ps 输出
func findPID() (int, error) {
	output, err := exec.Command("pgrep", "-f", "i3blocks").Output()
	if err == nil {
		return firstPID(string(output))
	}
	return findPIDWithPS()
}

func firstPID(output string) (int, error) {
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			return -1, fmt.Errorf("failed to parse PID %q: %w", line, err)
		}
		return pid, nil
	}
	return -1, fmt.Errorf("i3blocks process not found")
}

func findPIDWithPS() (int, error) {
	output, err := exec.Command("ps", "aux").Output()
	if err != nil {
		return -1, fmt.Errorf("failed to run ps command: %w", err)
	}

	for _, line := range strings.Split(string(output), "\n") {
		if !strings.Contains(line, "i3blocks") || strings.Contains(line, "grep") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if pid, err := strconv.Atoi(fields[1]); err == nil {
			return pid, nil
		}
	}
	return -1, fmt.Errorf("i3blocks process not found with ps")
}

// GetPID returns the current stored PID.
func (c *Controller) GetPID() int {
	c.pidMutex.RLock()
	defer c.pidMutex.RUnlock()
	return c.pid
}

// SendSignal 向 i3blocks 发送刷新信号
func (c *Controller) SendSignal() error {
	pid := c.GetPID()
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d, i3blocks process not found", pid)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(c.signal); err != nil {
		return fmt.Errorf("failed to send signal %d to process %d: %w", int(c.signal), pid, err)
	}
	return nil
}

// OnActiveLyricChanged 歌词文件更新后通知状态栏
func (c *Controller) OnActiveLyricChanged(index int, text string) {
	if err := c.SendSignal(); err != nil {
		logger.Debug().Err(err).Msg("Failed to signal i3blocks")
	}
}

// OnTrackStarted 切歌时清空状态栏
func (c *Controller) OnTrackStarted(trackID string) {
	if err := c.SendSignal(); err != nil {
		logger.Debug().Err(err).Msg("Failed to signal i3blocks")
	}
}

// IsRunning returns whether the controller is currently running.
func (c *Controller) IsRunning() bool {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()
	return c.isRunning
}
