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

package controller

import (
	"time"
)

type Config struct {
	// WatchQueueSize /watch 每个订阅者的队列长度
	WatchQueueSize int `config:"watchQueueSize"`

	// StopTimeout 停止时等待 admin server 退出的最长时间
	StopTimeout time.Duration `config:"stopTimeout"`
}

func (c *Config) Validate() {
	if c.WatchQueueSize <= 0 {
		c.WatchQueueSize = 64
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
}
