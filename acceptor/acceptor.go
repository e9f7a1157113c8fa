// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package acceptor

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/net/netutil"

	"github.com/packetd/urgentd/common"
	"github.com/packetd/urgentd/confengine"
	"github.com/packetd/urgentd/internal/fasttime"
	"github.com/packetd/urgentd/internal/rescue"
	"github.com/packetd/urgentd/logger"
	"github.com/packetd/urgentd/poller"
	"github.com/packetd/urgentd/sockconn"
	"github.com/packetd/urgentd/urgent"
)

// Handler 接收会话事件
type Handler interface {
	Handle(record *common.Record)

	// Frames 是否需要普通行事件
	Frames() bool
}

// Acceptor 监听 TCP 端口 每条链接由独立的 goroutine 处理
type Acceptor struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
	rcfg   ReaderConfig
	opts   []urgent.Option

	handler  Handler
	listener net.Listener

	mut      sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
	once     sync.Once
}

// New 从配置中 `acceptor` 以及 `reader` 节点创建 Acceptor
func New(conf *confengine.Config, handler Handler) (*Acceptor, error) {
	var cfg Config
	if err := conf.UnpackChild("acceptor", &cfg); err != nil {
		return nil, err
	}
	cfg.Validate()

	var rcfg ReaderConfig
	if err := conf.UnpackChild("reader", &rcfg); err != nil {
		return nil, err
	}
	if err := rcfg.Validate(); err != nil {
		return nil, err
	}

	sep, err := rcfg.SeparatorBytes()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Acceptor{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		rcfg:   rcfg,
		opts: []urgent.Option{
			urgent.WithSeparator(sep),
			urgent.WithReadSize(rcfg.ReadSize),
			urgent.WithMaxBuffered(rcfg.MaxBuffered),
		},
		handler:  handler,
		sessions: make(map[string]*session),
	}, nil
}

// Start 开始监听 监听失败时返回错误
func (a *Acceptor) Start() error {
	l, err := net.Listen("tcp", a.cfg.Address)
	if err != nil {
		return errors.Wrapf(err, "acceptor: listen on %s", a.cfg.Address)
	}
	if a.cfg.MaxConns > 0 {
		l = netutil.LimitListener(l, a.cfg.MaxConns)
	}
	a.listener = l
	logger.Infof("waiting for connection on %s", l.Addr())

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer rescue.HandleCrash("acceptor")
		a.loopAccept()
	}()

	if a.cfg.IdleTimeout > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.loopRemoveIdle()
		}()
	}
	return nil
}

// Addr 返回实际监听的地址
func (a *Acceptor) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// PollerOptions 返回链接使用的多路复用配置
func (a *Acceptor) PollerOptions() poller.Options {
	return a.rcfg.Poller
}

func (a *Acceptor) loopAccept() {
	var delay time.Duration
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if a.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}

			// 与 net/http 一致 出错后退避重试
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > time.Second {
				delay = time.Second
			}
			logger.Warnf("accept failed: %v; retrying in %v", err, delay)
			time.Sleep(delay)
			continue
		}
		delay = 0
		acceptedConns.Inc()

		if err := a.serve(conn); err != nil {
			logger.Errorf("serve connection %s failed: %v", conn.RemoteAddr(), err)
			conn.Close()
		}
	}
}

func (a *Acceptor) serve(conn net.Conn) error {
	sc, err := sockconn.New(conn, a.rcfg.connOptions())
	if err != nil {
		return err
	}

	var onRecord func(*common.Record)
	var withFrames bool
	if a.handler != nil {
		onRecord = a.handler.Handle
		withFrames = a.handler.Frames()
	}

	s, err := newSession(sc, append([]urgent.Option(nil), a.opts...), a.cfg, onRecord, withFrames)
	if err != nil {
		sc.Close()
		return err
	}

	a.mut.Lock()
	if a.ctx.Err() != nil {
		a.mut.Unlock()
		return sc.Close()
	}
	a.sessions[s.id] = s
	a.wg.Add(1)
	a.mut.Unlock()
	activeConns.Inc()

	go func() {
		defer a.wg.Done()
		defer func() {
			a.mut.Lock()
			delete(a.sessions, s.id)
			a.mut.Unlock()
			activeConns.Dec()
		}()
		s.run(a.ctx)
	}()
	return nil
}

func (a *Acceptor) loopRemoveIdle() {
	interval := a.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return

		case <-ticker.C:
			for _, s := range a.rangeSessions() {
				if fasttime.Expired(s.lastActive.Load(), a.cfg.IdleTimeout) {
					s.log.Infof("session idle for more than %v, closing", a.cfg.IdleTimeout)
					s.stop()
				}
			}
		}
	}
}

func (a *Acceptor) rangeSessions() []*session {
	a.mut.Lock()
	defer a.mut.Unlock()

	sessions := make([]*session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Sessions 返回当前活跃会话数量
func (a *Acceptor) Sessions() int {
	a.mut.Lock()
	defer a.mut.Unlock()

	return len(a.sessions)
}

// NotifyUrgent 将 SIGURG 广播至所有会话
//
// 仅 signal 通知模式下生效 由各会话在下一次 Poll 中确认
func (a *Acceptor) NotifyUrgent() {
	for _, s := range a.rangeSessions() {
		s.conn.NotifyUrgent()
	}
}

// Close 停止监听并关闭所有会话 等待所有 goroutine 退出
func (a *Acceptor) Close() error {
	var errs error
	a.once.Do(func() {
		a.mut.Lock()
		a.cancel()
		a.mut.Unlock()

		if a.listener != nil {
			if err := a.listener.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		for _, s := range a.rangeSessions() {
			if err := s.stop(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = multierror.Append(errs, err)
			}
		}
		a.wg.Wait()
	})
	return errs
}
