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

import (
	"time"
)

// Record 单条链接上发生的事件 由 acceptor 生成 exporter 负责输出
type Record struct {
	Session string    `json:"session"`
	Remote  string    `json:"remote"`
	Kind    string    `json:"kind"`
	Line    string    `json:"line,omitempty"`
	Lines   int       `json:"lines"`
	Time    time.Time `json:"time"`
}
