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

package splitio

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

var (
	CharCRLF = []byte("\r\n")
	CharCR   = []byte("\r")
	CharLF   = []byte("\n")
)

// ErrBufferOverflow 写入后 Buffer 长度将超过上限
var ErrBufferOverflow = errors.New("splitio: buffer overflow")

// Buffer 尚未交付给调用方的字节序列
//
// 字节按接收顺序追加 Extract 每次切出第一个完整的 frame（不含分隔符）
// Buffer 不是并发安全的 仅允许其所属的 Reader 操作
type Buffer struct {
	max int
	bb  *bytebufferpool.ByteBuffer
}

// NewBuffer 创建并返回 *Buffer 实例
//
// max <= 0 表示不限制长度
func NewBuffer(max int) *Buffer {
	return &Buffer{
		max: max,
		bb:  bytebufferpool.Get(),
	}
}

// Append 将 p 追加至 Buffer 末尾
//
// 超过上限时返回 ErrBufferOverflow 且 Buffer 内容不变
func (b *Buffer) Append(p []byte) error {
	if b.max > 0 && len(b.bb.B)+len(p) > b.max {
		return ErrBufferOverflow
	}
	b.bb.B = append(b.bb.B, p...)
	return nil
}

// Extract 切出第一个以 sep 结尾的 frame
//
// 找到 sep 时返回其之前的字节（拷贝）并同时移除 sep 本身
// 未找到时返回 false 且 Buffer 保持不变 重复调用结果一致
func (b *Buffer) Extract(sep []byte) ([]byte, bool) {
	if len(sep) == 0 {
		return nil, false
	}

	idx := bytes.Index(b.bb.B, sep)
	if idx < 0 {
		return nil, false
	}

	frame := make([]byte, idx)
	copy(frame, b.bb.B[:idx])
	n := copy(b.bb.B, b.bb.B[idx+len(sep):])
	b.bb.B = b.bb.B[:n]
	return frame, true
}

// HasFrame 返回 Buffer 中是否存在完整的 frame
func (b *Buffer) HasFrame(sep []byte) bool {
	return len(sep) > 0 && bytes.Contains(b.bb.B, sep)
}

// DiscardAll 清空 Buffer 并返回丢弃的字节数
func (b *Buffer) DiscardAll() int {
	n := len(b.bb.B)
	b.bb.Reset()
	return n
}

// Bytes 返回当前缓存的内容 如有修改需求 请拷贝一份
func (b *Buffer) Bytes() []byte {
	return b.bb.B
}

func (b *Buffer) Len() int {
	return len(b.bb.B)
}

// Release 将底层内存归还至 pool 调用后 Buffer 不可再使用
func (b *Buffer) Release() {
	if b.bb == nil {
		return
	}
	bytebufferpool.Put(b.bb)
	b.bb = nil
}
