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

// Package oob 封装了 TCP 紧急数据相关的系统调用
//
// 所有函数均直接操作 fd 调用方需保证 fd 在调用期间有效
// 通常通过 syscall.RawConn.Control 获取
package oob

import (
	"github.com/pkg/errors"
)

// ErrUnsupported 当前平台不支持紧急数据相关操作
var ErrUnsupported = errors.New("oob: unsupported platform")

// Mark 描述读游标与 urgent pointer 之间的关系
type Mark uint8

const (
	// BeforeMark 在 urgent pointer 之前仍有普通数据未读
	BeforeMark Mark = iota

	// AtMark 下一个可读字节紧随 urgent byte 之后
	AtMark
)

func (m Mark) String() string {
	if m == AtMark {
		return "at-mark"
	}
	return "before-mark"
}
