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

package common

const (
	// App 应用程序名称
	App = "urgentd"

	// Version 应用程序版本
	Version = "v0.1.0"

	// DefaultPort 未指定监听地址时使用的端口
	DefaultPort = 4321

	// ReadBlockSize 单次普通数据读取的最大字节数
	//
	// 紧急数据的排空阶段同样按此大小读取 内核会在 urgent mark 处截断 read
	// 所以读取块的大小并不会影响 at-mark 的判定
	ReadBlockSize = 1024

	// MaxPendingSize Pending Buffer 默认上限
	//
	// 对端持续发送不带分隔符的数据时 避免内存无限增长
	MaxPendingSize = 64 * 1024
)

// DefaultSeparator 默认的行分隔符
var DefaultSeparator = []byte("\n")
