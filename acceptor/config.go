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

package acceptor

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/packetd/urgentd/common"
	"github.com/packetd/urgentd/poller"
	"github.com/packetd/urgentd/sockconn"
)

type Config struct {
	// Address 监听地址
	Address string `config:"address"`

	// MaxConns 同时处理的最大链接数 <= 0 表示不限制
	MaxConns int `config:"maxConns"`

	// WorkDelay 每处理一行后的模拟耗时 用于观察 urgent data 打断处理的效果
	WorkDelay time.Duration `config:"workDelay"`

	// IdleTimeout 会话空闲超时 <= 0 表示不超时
	IdleTimeout time.Duration `config:"idleTimeout"`
}

func (c *Config) Validate() {
	if c.Address == "" {
		c.Address = fmt.Sprintf(":%d", common.DefaultPort)
	}
}

type ReaderConfig struct {
	// Separator 行分隔符 支持 Go 字符串转义写法 如 `\r\n`
	Separator   string         `config:"separator"`
	ReadSize    int            `config:"readSize"`
	MaxBuffered int            `config:"maxBuffered"`
	Inline      bool           `config:"inline"`
	Poller      poller.Options `config:"poller"`
}

func (c *ReaderConfig) Validate() error {
	if c.ReadSize <= 0 {
		c.ReadSize = common.ReadBlockSize
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = common.MaxPendingSize
	}
	return c.Poller.Validate()
}

// SeparatorBytes 返回反转义后的分隔符
func (c *ReaderConfig) SeparatorBytes() ([]byte, error) {
	if c.Separator == "" {
		return common.DefaultSeparator, nil
	}

	s, err := strconv.Unquote(`"` + c.Separator + `"`)
	if err != nil {
		return nil, errors.Wrapf(err, "acceptor: invalid separator %q", c.Separator)
	}
	if s == "" {
		return nil, errors.Errorf("acceptor: empty separator")
	}
	return []byte(s), nil
}

func (c *ReaderConfig) connOptions() sockconn.Options {
	return sockconn.Options{
		Inline: c.Inline,
		Poller: c.Poller,
	}
}
