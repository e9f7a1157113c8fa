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

package poller

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	format = "poller: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrClosed Poller 已经被关闭
	ErrClosed = newError("closed")

	// ErrDescriptorRange fd 超出 select(2) 支持的范围
	ErrDescriptorRange = newError("descriptor out of FD_SETSIZE range")

	// ErrUnsupported 当前平台不支持
	ErrUnsupported = newError("unsupported platform")
)

// Mode 底层使用的多路复用系统调用
type Mode string

const (
	ModePoll   Mode = "poll"
	ModeSelect Mode = "select"
)

// Notify 紧急数据的通知方式
type Notify string

const (
	// NotifyPoll 通过 exceptfds / POLLPRI 感知紧急数据
	NotifyPoll Notify = "poll"

	// NotifySignal 通过 SIGURG 感知紧急数据
	//
	// 信号仅设置 hint 标志并唤醒阻塞中的 Wait 由 Wait 再做一次 exceptional 检查确认
	// 不会在信号处理中直接读取 socket
	NotifySignal Notify = "signal"
)

type Options struct {
	Mode   Mode   `config:"mode"`
	Notify Notify `config:"notify"`
}

// Validate 校验并填充默认值
func (o *Options) Validate() error {
	switch o.Mode {
	case "":
		o.Mode = ModePoll
	case ModePoll, ModeSelect:
	default:
		return newError("unknown mode %q", o.Mode)
	}

	switch o.Notify {
	case "":
		o.Notify = NotifyPoll
	case NotifyPoll, NotifySignal:
	default:
		return newError("unknown notify %q", o.Notify)
	}
	return nil
}

// Events 单次 Wait 返回的就绪状态
type Events struct {
	Readable    bool
	Writable    bool
	Exceptional bool
}

func (e Events) any() bool {
	return e.Readable || e.Writable || e.Exceptional
}

// Poller 单个 fd 的多路复用适配器
//
// 除了目标 fd 之外 Poller 还持有一个 waker fd 始终处于读监听集合中
// Close 和 Notify 通过 waker 唤醒阻塞中的 Wait
//
// 同一时刻只允许一个 goroutine 调用 Wait
type Poller struct {
	opt Options
	wk  *waker

	mut    sync.Mutex   // Wait 期间持有 保证 Close 不会释放正在使用的 waker
	wkMut  sync.RWMutex // 保护 waker 的生命周期
	once   sync.Once
	hint   atomic.Bool
	closed atomic.Bool
}

// New 创建并返回 *Poller 实例
func New(opt Options) (*Poller, error) {
	if err := opt.Validate(); err != nil {
		return nil, err
	}

	wk, err := newWaker()
	if err != nil {
		return nil, err
	}
	return &Poller{
		opt: opt,
		wk:  wk,
	}, nil
}

// Options 返回 Poller 的配置
func (p *Poller) Options() Options {
	return p.opt
}

// Wait 阻塞直到 fd 满足任一被监听的条件
//
// * 可读 总是被监听 对端关闭或者出错也视为可读 由后续的 read 感知具体状态
// * 可写 仅当 watchWritable 为 true 时监听 对于打开的 socket 几乎总是立即返回
// * 异常 仅当 watchExceptional 为 true 时监听 未监听时永远不会返回 Exceptional
//
// EINTR 以及 waker 唤醒都不会返回给调用方 Poller 被关闭时返回 ErrClosed
func (p *Poller) Wait(fd int, watchExceptional, watchWritable bool) (Events, error) {
	p.mut.Lock()
	defer p.mut.Unlock()

	for {
		if p.closed.Load() {
			return Events{}, ErrClosed
		}

		exceptional := watchExceptional
		if p.opt.Notify == NotifySignal {
			// 未收到 SIGURG 前不检查 exceptfds
			exceptional = exceptional && p.hint.Swap(false)
		}

		var (
			ev    Events
			woken bool
			err   error
		)
		switch p.opt.Mode {
		case ModeSelect:
			ev, woken, err = p.selectWait(fd, exceptional, watchWritable)
		default:
			ev, woken, err = p.pollWait(fd, exceptional, watchWritable)
		}
		if err != nil {
			return Events{}, err
		}
		if woken {
			p.wk.drain()
		}
		if ev.any() {
			return ev, nil
		}
	}
}

// Notify 通知 Poller 可能有紧急数据到达
//
// 仅在 NotifySignal 模式下生效
func (p *Poller) Notify() {
	if p.opt.Notify != NotifySignal || p.closed.Load() {
		return
	}
	p.hint.Store(true)
	p.wake()
}

func (p *Poller) wake() {
	p.wkMut.RLock()
	defer p.wkMut.RUnlock()

	if p.wk != nil {
		p.wk.wake()
	}
}

// Close 关闭 Poller 并唤醒阻塞中的 Wait
//
// Close 会等待正在进行的 Wait 返回后再释放 waker 可重复调用
func (p *Poller) Close() error {
	var err error
	p.once.Do(func() {
		p.closed.Store(true)
		p.wake()

		p.mut.Lock()
		defer p.mut.Unlock()

		p.wkMut.Lock()
		defer p.wkMut.Unlock()
		err = p.wk.close()
		p.wk = nil
	})
	return err
}
