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

package confengine

import (
	"github.com/elastic/go-ucfg"
	"github.com/elastic/go-ucfg/yaml"
	"github.com/pkg/errors"
)

var ucfgOptions = []ucfg.Option{
	ucfg.PathSep("."),
}

// Config 是对 ucfg.Config 的封装
//
// 配置文件按模块划分为多个 section 各模块通过 UnpackChild 解析自身的配置
type Config struct {
	conf *ucfg.Config
}

func New(conf *ucfg.Config) *Config {
	return &Config{conf: conf}
}

// Has 判断 path 是否存在
func (c *Config) Has(path string) bool {
	ok, err := c.conf.Has(path, -1, ucfgOptions...)
	if err != nil {
		return false
	}
	return ok
}

func (c *Config) Unpack(to any) error {
	return c.conf.Unpack(to, ucfgOptions...)
}

// UnpackChild 解析 path 对应的 section
//
// section 不存在或者为空时不会返回错误 to 保持原有值 由各模块自行填充默认值
func (c *Config) UnpackChild(path string, to any) error {
	if !c.Has(path) {
		return nil
	}

	child, err := c.conf.Child(path, -1, ucfgOptions...)
	if err != nil {
		return errors.Wrapf(err, "confengine: child %q", path)
	}
	if err := child.Unpack(to, ucfgOptions...); err != nil {
		return errors.Wrapf(err, "confengine: unpack %q", path)
	}
	return nil
}

// LoadConfigPath 从文件中加载 yaml 配置
func LoadConfigPath(path string) (*Config, error) {
	config, err := yaml.NewConfigWithFile(path, ucfgOptions...)
	if err != nil {
		return nil, errors.Wrapf(err, "confengine: load %s", path)
	}
	return New(config), nil
}

// LoadContent 从内存中加载 yaml 配置
func LoadContent(b []byte) (*Config, error) {
	config, err := yaml.NewConfig(b, ucfgOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "confengine: load content")
	}
	return New(config), nil
}
