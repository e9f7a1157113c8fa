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

package sockconn

import (
	"io"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/packetd/urgentd/internal/oob"
	"github.com/packetd/urgentd/poller"
	"github.com/packetd/urgentd/urgent"
)

func newError(format string, args ...any) error {
	format = "sockconn: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrNotTCP 仅支持 TCP 链接
	ErrNotTCP = newError("connection is not *net.TCPConn")

	// ErrNoUrgentData 没有待读取的 urgent byte 或者已经被读取
	ErrNoUrgentData = newError("no urgent data pending")
)

// Options Conn 配置
type Options struct {
	// Inline 开启 SO_OOBINLINE urgent byte 将留在普通数据流中
	Inline bool           `config:"inline"`
	Poller poller.Options `config:"poller"`
}

// Conn 基于 *net.TCPConn 实现 urgent.Source
//
// 所有 fd 操作均通过 syscall.RawConn 完成 fd 的生命周期仍然由 net 包管理
type Conn struct {
	conn   *net.TCPConn
	raw    syscall.RawConn
	poller *poller.Poller
	opt    Options

	once     sync.Once
	closeErr error
}

var _ urgent.Source = (*Conn)(nil)

// New 包装 conn 并返回 *Conn 实例
func New(conn net.Conn, opt Options) (*Conn, error) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil, ErrNotTCP
	}
	if err := opt.Poller.Validate(); err != nil {
		return nil, err
	}

	raw, err := tcpConn.SyscallConn()
	if err != nil {
		return nil, errors.Wrap(err, "sockconn: syscall conn")
	}

	var setupErr error
	err = raw.Control(func(fd uintptr) {
		if opt.Inline {
			if setupErr = oob.SetInline(int(fd), true); setupErr != nil {
				return
			}
		}
		if opt.Poller.Notify == poller.NotifySignal {
			setupErr = oob.SetOwner(int(fd), os.Getpid())
		}
	})
	if err = firstErr(err, setupErr); err != nil {
		return nil, errors.Wrap(err, "sockconn: setup socket")
	}

	p, err := poller.New(opt.Poller)
	if err != nil {
		return nil, err
	}

	return &Conn{
		conn:   tcpConn,
		raw:    raw,
		poller: p,
		opt:    opt,
	}, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Read 普通数据读取 读取不会跨越 urgent mark
//
// 返回 (0, io.EOF) 表示对端已关闭写方向
func (c *Conn) Read(p []byte) (int, error) {
	var (
		n       int
		readErr error
	)
	err := c.raw.Read(func(fd uintptr) bool {
		for {
			n, readErr = unix.Read(int(fd), p)
			if readErr == unix.EINTR {
				continue
			}
			return readErr != unix.EAGAIN
		}
	})
	if err = firstErr(err, readErr); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write 普通数据写入
func (c *Conn) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

// RecvOOB 尝试读取 urgent byte
//
// 不存在或者已经被读取时返回 EINVAL
func (c *Conn) RecvOOB(p []byte) (int, error) {
	var (
		n       int
		recvErr error
	)
	err := c.raw.Control(func(fd uintptr) {
		n, recvErr = oob.Recv(int(fd), p)
	})
	if oob.IsNotPending(recvErr) {
		return 0, ErrNoUrgentData
	}
	if err = firstErr(err, recvErr); err != nil {
		return 0, err
	}
	return n, nil
}

// SendOOB 以 MSG_OOB 方式发送 p 最后一个字节将成为 urgent byte
func (c *Conn) SendOOB(p []byte) error {
	var sendErr error
	err := c.raw.Write(func(fd uintptr) bool {
		for {
			sendErr = oob.Send(int(fd), p)
			if sendErr == unix.EINTR {
				continue
			}
			return sendErr != unix.EAGAIN
		}
	})
	return firstErr(err, sendErr)
}

// AtMark 查询读游标是否位于 urgent mark
func (c *Conn) AtMark() (urgent.Mark, error) {
	var (
		mark     oob.Mark
		probeErr error
	)
	err := c.raw.Control(func(fd uintptr) {
		mark, probeErr = oob.Probe(int(fd))
	})
	if err = firstErr(err, probeErr); err != nil {
		return urgent.BeforeMark, err
	}
	if mark == oob.AtMark {
		return urgent.AtMark, nil
	}
	return urgent.BeforeMark, nil
}

// Poll 实现 urgent.Multiplexer
//
// hasPendingFrame 为 true 时额外监听可写 使得调用立即返回
func (c *Conn) Poll(watchExceptional, hasPendingFrame bool) (urgent.Readiness, error) {
	var (
		ev      poller.Events
		waitErr error
	)
	err := c.raw.Control(func(fd uintptr) {
		ev, waitErr = c.poller.Wait(int(fd), watchExceptional, hasPendingFrame)
	})
	if err = firstErr(err, waitErr); err != nil {
		return urgent.Readiness{}, err
	}
	return urgent.Readiness{
		Readable:    ev.Readable,
		Exceptional: ev.Exceptional,
	}, nil
}

// NotifyUrgent 收到 SIGURG 时调用 仅在 signal 模式下生效
func (c *Conn) NotifyUrgent() {
	c.poller.Notify()
}

// CloseWrite 关闭写方向
func (c *Conn) CloseWrite() error {
	return c.conn.CloseWrite()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close 唤醒阻塞中的 Poll 并关闭链接 可在任意 goroutine 中调用
func (c *Conn) Close() error {
	c.once.Do(func() {
		perr := c.poller.Close()
		cerr := c.conn.Close()
		c.closeErr = firstErr(perr, cerr)
	})
	return c.closeErr
}
