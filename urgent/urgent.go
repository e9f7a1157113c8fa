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
	"fmt"

	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	format = "urgent: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrStreamEnded 对端已关闭链接
	ErrStreamEnded = newError("stream ended")

	// ErrUrgent 读取到紧急数据 Lines 在此之前未交付的数据均已丢弃
	ErrUrgent = newError("urgent data reached")

	// ErrInvalidSeparator 分隔符不允许为空
	ErrInvalidSeparator = newError("empty separator")
)

// ProbeError at-mark 查询失败 属于致命错误
type ProbeError struct {
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("urgent: at-mark probe: %v", e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// PollError 多路复用调用失败 属于致命错误
type PollError struct {
	Err error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("urgent: poll: %v", e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}

// ReadError 普通数据读取失败（非 EOF） 属于致命错误
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("urgent: read: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Kind 事件类型
type Kind uint8

const (
	// KindFrameReady 读取到一个完整的 frame
	KindFrameReady Kind = iota + 1

	// KindUrgentReached 读取到紧急数据 之前未交付的数据均已丢弃
	KindUrgentReached

	// KindStreamEnded 对端已关闭链接
	KindStreamEnded
)

func (k Kind) String() string {
	switch k {
	case KindFrameReady:
		return "frame"
	case KindUrgentReached:
		return "urgent"
	case KindStreamEnded:
		return "eof"
	}
	return "unknown"
}

// Event Reader 向调用方交付的事件
//
// 仅当 Kind 为 KindFrameReady 时 Frame 有效 且不包含分隔符
type Event struct {
	Kind  Kind
	Frame []byte
}

// Readiness 单次 Poll 的就绪状态
type Readiness struct {
	Readable    bool
	Exceptional bool
}

// Mark 读游标与 urgent pointer 的关系
type Mark uint8

const (
	BeforeMark Mark = iota
	AtMark
)

// Conn 链接提供方需要实现的读取接口
type Conn interface {
	// Read 读取当前可读的普通数据
	//
	// 对端正常关闭时返回 0, io.EOF（或 0, nil）
	Read(p []byte) (int, error)

	// RecvOOB 尽力读取 urgent byte 失败不影响后续流程
	RecvOOB(p []byte) (int, error)
}

// Multiplexer 单个链接的就绪状态查询
type Multiplexer interface {
	// Poll 阻塞直到链接可读 或者异常就绪（仅 watchExceptional 为 true 时）
	//
	// hasPendingFrame 为 true 时必须立即返回
	Poll(watchExceptional, hasPendingFrame bool) (Readiness, error)
}

// MarkProber 查询读游标是否已到达 urgent pointer
type MarkProber interface {
	AtMark() (Mark, error)
}

// Source Reader 所需的全部能力
type Source interface {
	Conn
	Multiplexer
	MarkProber
}

// Stats Reader 的统计数据
type Stats struct {
	Frames         uint64 // 交付的 frame 数量
	Urgents        uint64 // 紧急数据事件数量
	BytesRead      uint64 // 读取的普通数据字节数（含排空阶段）
	DrainReads     uint64 // 排空阶段带数据的 read 次数
	DiscardedBytes uint64 // 由于紧急数据而丢弃的字节数
	OOBMisses      uint64 // RecvOOB 失败次数
}
