package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"lyrics-player/internal/session"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const writeTimeout = 2 * time.Second

var logger = log.With().Str("component", "ipc").Logger()

// Controller 客户端命令的执行者，由播放会话实现
type Controller interface {
	TogglePause() error
	Seek(seconds float64) error
	SeekFraction(fraction float64) error
	PlayTrack(ctx context.Context, trackID string) error
	PlayPlaylist(ctx context.Context, name string) (*session.Queue, error)
	Stop() error
}

type client struct {
	id   string
	conn net.Conn
	mu   sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(data)
	return err
}

type Server struct {
	socketPath   string
	listener     net.Listener
	controller   Controller
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	lockFile     *os.File
	lockFilePath string

	clientConns     map[string]*client
	clientConnsLock sync.Mutex

	// 新客户端连接时回放的最近事件
	latest     map[string][]byte
	latestLock sync.Mutex
}

func NewServer(socketPath string, controller Controller) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:   socketPath,
		controller:   controller,
		ctx:          ctx,
		cancel:       cancel,
		clientConns:  make(map[string]*client),
		lockFilePath: socketPath + ".lock",
		latest:       make(map[string][]byte),
	}
}

// Attach 设置命令执行者，需在 Start 之前调用
func (s *Server) Attach(controller Controller) {
	s.controller = controller
}

func (s *Server) SocketPath() string {
	return s.socketPath
}

func (s *Server) checkAndCleanOldLock() {
	if _, err := os.Stat(s.lockFilePath); os.IsNotExist(err) {
		return
	}

	content, err := os.ReadFile(s.lockFilePath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read lock file, removing it")
		os.Remove(s.lockFilePath)
		return
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		logger.Warn().Str("pid_str", pidStr).Msg("Invalid PID in lock file, removing it")
		os.Remove(s.lockFilePath)
		return
	}

	if !isProcessRunning(pid) {
		logger.Info().Int("old_pid", pid).Msg("Process in lock file is not running, removing lock file")
		os.Remove(s.lockFilePath)
		return
	}

	logger.Info().Int("existing_pid", pid).Msg("Another process is still running")
}

// isProcessRunning kill(pid, 0) 只检查进程是否存在
func isProcessRunning(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func (s *Server) acquireLock() error {
	s.checkAndCleanOldLock()

	file, err := os.OpenFile(s.lockFilePath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	// 尝试获取独占锁
	err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		file.Close()
		if err == syscall.EWOULDBLOCK {
			return fmt.Errorf("another lyrics player instance is already running")
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	// 拿到锁之后再清空，避免覆盖正在运行的实例写入的 PID
	if err = file.Truncate(0); err == nil {
		_, err = file.WriteString(fmt.Sprintf("%d\n", os.Getpid()))
	}
	if err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}

	s.lockFile = file
	logger.Info().Str("lock_file", s.lockFilePath).Int("pid", os.Getpid()).Msg("Acquired process lock")
	return nil
}

func (s *Server) releaseLock() {
	if s.lockFile != nil {
		syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN)
		s.lockFile.Close()
		os.Remove(s.lockFilePath)
		logger.Info().Str("lock_file", s.lockFilePath).Msg("Released process lock")
		s.lockFile = nil
	}
}

func (s *Server) Start() error {
	// 首先尝试获取进程锁
	if err := s.acquireLock(); err != nil {
		return err
	}

	if err := os.RemoveAll(s.socketPath); err != nil {
		s.releaseLock()
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.releaseLock()
		return err
	}
	s.listener = listener

	logger.Info().Str("socket_path", s.socketPath).Msg("IPC server listening")

	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("Failed to accept IPC connection")
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	c := &client{id: uuid.NewString(), conn: conn}
	clientLog := logger.With().Str("client_id", c.id).Logger()

	s.clientConnsLock.Lock()
	s.clientConns[c.id] = c
	s.clientConnsLock.Unlock()
	clientLog.Info().Msg("Client connected")

	s.replayLatest(c)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := s.execute(line)
		if err := c.send(encode(reply)); err != nil {
			clientLog.Warn().Err(err).Msg("Failed to reply to client")
			break
		}
	}

	s.removeClient(c.id)
	conn.Close()
	clientLog.Info().Msg("Client disconnected")
}

func (s *Server) replayLatest(c *client) {
	s.latestLock.Lock()
	defer s.latestLock.Unlock()

	// 先歌曲、歌词，再位置和当前行
	for _, kind := range []string{EventTrack, EventLyrics, EventPosition, EventLyric} {
		if data, ok := s.latest[kind]; ok {
			if err := c.send(data); err != nil {
				logger.Warn().Err(err).Str("client_id", c.id).Msg("Failed to send initial state")
				return
			}
		}
	}
}

func (s *Server) removeClient(id string) {
	s.clientConnsLock.Lock()
	defer s.clientConnsLock.Unlock()
	delete(s.clientConns, id)
}

// execute 执行一条文本命令并生成回复
func (s *Server) execute(line string) Event {
	cmd, err := ParseCommand(line)
	if err != nil {
		return Event{Type: EventError, Error: err.Error()}
	}
	if s.controller == nil {
		return Event{Type: EventError, Command: cmd.Name, Error: "no player attached"}
	}

	logger.Info().Str("command", cmd.Name).Str("arg", cmd.Arg).Msg("Executing client command")
	switch cmd.Name {
	case CmdPause:
		err = s.controller.TogglePause()
	case CmdSeek:
		err = s.controller.Seek(cmd.Value)
	case CmdSeekPct:
		err = s.controller.SeekFraction(cmd.Value)
	case CmdPlay:
		err = s.controller.PlayTrack(s.ctx, cmd.Arg)
	case CmdPlaylist:
		_, err = s.controller.PlayPlaylist(s.ctx, cmd.Arg)
	case CmdStop:
		err = s.controller.Stop()
	}
	if err != nil {
		return Event{Type: EventError, Command: cmd.Name, Error: err.Error()}
	}
	return Event{Type: EventAck, Command: cmd.Name}
}

// Broadcast 把事件发送给所有客户端，写入失败的客户端会被断开
func (s *Server) Broadcast(ev Event) {
	data := encode(ev)

	s.latestLock.Lock()
	s.latest[ev.Type] = data
	if ev.Type == EventTrack {
		delete(s.latest, EventLyrics)
		delete(s.latest, EventLyric)
	}
	s.latestLock.Unlock()

	s.clientConnsLock.Lock()
	clients := make([]*client, 0, len(s.clientConns))
	for _, c := range s.clientConns {
		clients = append(clients, c)
	}
	s.clientConnsLock.Unlock()

	for _, c := range clients {
		if err := c.send(data); err != nil {
			logger.Error().Err(err).Str("client_id", c.id).Msg("Failed to write to client, removing")
			c.conn.Close()
			s.removeClient(c.id)
		}
	}
}

func (s *Server) ClientCount() int {
	s.clientConnsLock.Lock()
	defer s.clientConnsLock.Unlock()
	return len(s.clientConns)
}

func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.clientConnsLock.Lock()
	for _, c := range s.clientConns {
		c.conn.Close()
	}
	s.clientConnsLock.Unlock()

	s.wg.Wait()
	s.releaseLock()
}

func encode(ev Event) []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error().Err(err).Str("type", ev.Type).Msg("Failed to encode event")
		data = []byte(`{"type":"error","error":"encode failed"}`)
	}
	return append(data, '\n')
}
