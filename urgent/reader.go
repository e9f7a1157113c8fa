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

package urgent

import (
	"io"
	"iter"

	"github.com/pkg/errors"

	"github.com/packetd/urgentd/common"
	"github.com/packetd/urgentd/internal/bufbytes"
	"github.com/packetd/urgentd/internal/splitio"
	"github.com/packetd/urgentd/logger"
)

// ErrReaderClosed Reader 已经被关闭
var ErrReaderClosed = newError("reader closed")

const (
	oobSize     = 8
	previewSize = 64
)

// state OOB-Watch 标志
//
// watching: 仅读取普通数据 不监听异常就绪
// armed:    同时监听异常就绪
//
// 紧急数据被处理后 异常就绪状态在读取到新的普通数据之前会一直保持
// 此时再次请求 exceptfds 会导致 recv(MSG_OOB) 返回 EINVAL
// 因此处理完紧急数据后先退回 watching 直到下一次成功的普通读取再切换至 armed
type state uint8

const (
	stateWatching state = iota
	stateArmed
)

func (s state) String() string {
	if s == stateArmed {
		return "armed"
	}
	return "watching"
}

type Option func(*Reader)

// WithSeparator 指定 frame 分隔符 默认为 `\n`
func WithSeparator(sep []byte) Option {
	return func(r *Reader) {
		r.sep = append([]byte(nil), sep...)
	}
}

// WithReadSize 指定单次 read 的最大字节数
func WithReadSize(n int) Option {
	return func(r *Reader) {
		r.readSize = n
	}
}

// WithMaxBuffered 指定 Pending Buffer 上限 n <= 0 表示不限制
func WithMaxBuffered(n int) Option {
	return func(r *Reader) {
		r.maxBuffered = n
	}
}

// WithLogger 指定 Reader 使用的 Logger
func WithLogger(l logger.Logger) Option {
	return func(r *Reader) {
		r.log = l
	}
}

// Reader 处理单条链接上普通数据与紧急数据交织的读取器
//
// Reader 独占其 Source 不是并发安全的 所有方法必须由同一个 goroutine 调用
// 需要从外部中断时应关闭底层链接 下一次 Poll 会返回错误并结束读取
type Reader struct {
	src         Source
	sep         []byte
	readSize    int
	maxBuffered int
	log         logger.Logger

	buf  *splitio.Buffer
	rbuf []byte
	oob  []byte

	st     state
	eof    bool  // 对端已关闭 但 StreamEnded 尚未交付
	ended  bool  // StreamEnded 已交付
	err    error // 致命错误 一旦出现后续调用均返回此错误
	closed bool
	stats  Stats
}

// NewReader 创建并返回 *Reader 实例
//
// 调用方需保证 src 对应的链接已经建立 并且已经按需配置好紧急数据的通知方式
func NewReader(src Source, opts ...Option) (*Reader, error) {
	r := &Reader{
		src:         src,
		sep:         common.DefaultSeparator,
		readSize:    common.ReadBlockSize,
		maxBuffered: common.MaxPendingSize,
		log:         logger.Std(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.sep) == 0 {
		return nil, ErrInvalidSeparator
	}
	if r.readSize <= 0 {
		r.readSize = common.ReadBlockSize
	}

	r.buf = splitio.NewBuffer(r.maxBuffered)
	r.rbuf = make([]byte, r.readSize)
	r.oob = make([]byte, oobSize)
	return r, nil
}

// Stats 返回 Reader 统计数据
func (r *Reader) Stats() Stats {
	return r.stats
}

// OOBWatch 返回当前是否监听异常就绪
func (r *Reader) OOBWatch() bool {
	return r.st == stateArmed
}

// Buffered 返回 Pending Buffer 中尚未交付的字节数
func (r *Reader) Buffered() int {
	if r.closed {
		return 0
	}
	return r.buf.Len()
}

// Next 返回下一个事件
//
// 已缓存的完整 frame 会在下一次 Poll 之前全部交付
// StreamEnded 只会交付一次 之后的调用返回 io.EOF
// 致命错误（*PollError / *ProbeError / *ReadError / splitio.ErrBufferOverflow）会被记录 之后的调用均返回同一错误
func (r *Reader) Next() (Event, error) {
	for {
		if r.err != nil {
			return Event{}, r.err
		}
		if r.ended {
			return Event{}, io.EOF
		}

		if frame, ok := r.buf.Extract(r.sep); ok {
			r.stats.Frames++
			r.log.Debugf("got %d bytes of normal data: %s", len(frame), bufbytes.Preview(frame, previewSize))
			return Event{Kind: KindFrameReady, Frame: frame}, nil
		}
		if r.eof {
			return r.end(), nil
		}

		rd, err := r.src.Poll(r.st == stateArmed, r.buf.HasFrame(r.sep))
		if err != nil {
			return r.fail(&PollError{Err: err})
		}

		switch {
		case rd.Exceptional:
			r.log.Debugf("poll indicated oob data")
			return r.drainUrgent()

		case rd.Readable:
			if err := r.readOrdinary(); err != nil {
				return r.fail(err)
			}
		}
	}
}

// readOrdinary 读取普通数据并追加至 Pending Buffer
//
// 成功读取到数据后切换至 armed 状态
func (r *Reader) readOrdinary() error {
	n, err := r.src.Read(r.rbuf)
	if n > 0 {
		r.stats.BytesRead += uint64(n)
		if err := r.buf.Append(r.rbuf[:n]); err != nil {
			return err
		}
		r.st = stateArmed
	}

	switch {
	case err == nil && n == 0, errors.Is(err, io.EOF):
		r.eof = true
		return nil
	case err != nil:
		return &ReadError{Err: err}
	}
	return nil
}

// drainUrgent 处理异常就绪
//
// 1) 尽力读取 urgent byte 部分平台上该字节可能已被消费 失败仅记录
// 2) 切换至 watching 状态
// 3) 持续读取普通数据直到到达 urgent mark
// 4) 丢弃 Pending Buffer 中所有数据
func (r *Reader) drainUrgent() (Event, error) {
	n, err := r.src.RecvOOB(r.oob)
	if err != nil {
		r.stats.OOBMisses++
		r.log.Debugf("recv(MSG_OOB) returned an error: %v", err)
	} else {
		r.log.Infof("got %d bytes of urgent data: %s", n, bufbytes.Preview(r.oob[:n], oobSize))
	}
	r.st = stateWatching

	for {
		mark, err := r.src.AtMark()
		if err != nil {
			return r.fail(&ProbeError{Err: err})
		}
		if mark == AtMark {
			break
		}

		n, err := r.src.Read(r.rbuf)
		if n > 0 {
			r.stats.BytesRead += uint64(n)
			r.stats.DrainReads++
			if r.buf.Append(r.rbuf[:n]) != nil {
				// 排空阶段的数据终将被丢弃 超过上限时提前丢弃
				r.discard()
				r.stats.DiscardedBytes += uint64(n)
			}
		}

		switch {
		case err == nil && n == 0, errors.Is(err, io.EOF):
			r.eof = true
			return r.end(), nil
		case err != nil:
			return r.fail(&ReadError{Err: err})
		}
	}

	r.discard()
	r.stats.Urgents++
	return Event{Kind: KindUrgentReached}, nil
}

func (r *Reader) discard() {
	if r.buf.Len() > 0 {
		r.log.Debugf("flushing %d bytes of pre oob data: %s", r.buf.Len(), bufbytes.Preview(r.buf.Bytes(), previewSize))
	}
	r.stats.DiscardedBytes += uint64(r.buf.DiscardAll())
}

func (r *Reader) end() Event {
	r.log.Infof("remote closed connection")
	r.discard()
	r.ended = true
	return Event{Kind: KindStreamEnded}
}

func (r *Reader) fail(err error) (Event, error) {
	r.err = err
	return Event{}, err
}

// Events 返回惰性的事件序列
//
// 序列依次产出 KindFrameReady 事件 并在产出 KindUrgentReached、KindStreamEnded
// 或者错误后结束 紧急数据之后可以再次调用 Events 继续读取
func (r *Reader) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := r.Next()
			if err != nil {
				if err != io.EOF {
					yield(Event{}, err)
				}
				return
			}
			if !yield(ev, nil) {
				return
			}
			if ev.Kind != KindFrameReady {
				return
			}
		}
	}
}

// Lines 对每个 frame 调用 fn
//
// 读取到紧急数据时返回 ErrUrgent 调用方可重置自身状态后再次调用 Lines
// 对端关闭时返回 ErrStreamEnded fn 返回的错误会原样返回
func (r *Reader) Lines(fn func(line []byte) error) error {
	for ev, err := range r.Events() {
		if err != nil {
			return err
		}

		switch ev.Kind {
		case KindUrgentReached:
			return ErrUrgent
		case KindStreamEnded:
			return ErrStreamEnded
		}
		if err := fn(ev.Frame); err != nil {
			return err
		}
	}
	return ErrStreamEnded
}

// Close 释放 Reader 持有的资源 若 Source 实现了 io.Closer 则一并关闭
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.err = ErrReaderClosed
	r.buf.Release()

	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
