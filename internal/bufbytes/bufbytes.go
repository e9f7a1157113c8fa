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

package bufbytes

import "strconv"

// Bytes 有上限的字节缓存 超过 size 的部分直接丢弃
//
// 用于在日志中打印即将被丢弃的数据 避免大块数据刷屏
type Bytes struct {
	size      int
	truncated int
	buf       []byte
}

func New(size int) *Bytes {
	return &Bytes{
		size: size,
	}
}

func (b *Bytes) Write(p []byte) {
	n := (b.size - len(b.buf)) - len(p)
	if n >= 0 {
		b.buf = append(b.buf, p...)
		return
	}

	l := b.size - len(b.buf)
	if l > 0 {
		b.buf = append(b.buf, p[:l]...)
		p = p[l:]
	}
	b.truncated += len(p)
}

func (b *Bytes) Len() int {
	return len(b.buf)
}

// Truncated 返回被丢弃的字节数
func (b *Bytes) Truncated() int {
	return b.truncated
}

// Text 返回转义后的文本 被截断时追加截断字节数
func (b *Bytes) Text() string {
	s := strconv.Quote(string(b.buf))
	if b.truncated > 0 {
		s += "...(+" + strconv.Itoa(b.truncated) + " bytes)"
	}
	return s
}

func (b *Bytes) Reset() {
	b.buf = b.buf[:0]
	b.truncated = 0
}

// Preview 返回 p 前 size 字节的转义文本
func Preview(p []byte, size int) string {
	b := New(size)
	b.Write(p)
	return b.Text()
}
