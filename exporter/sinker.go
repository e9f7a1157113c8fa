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

package exporter

import (
	"io"
	"os"

	"github.com/goccy/go-json"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/packetd/urgentd/common"
)

// Sinker 负责将事件 `写入` 到指定存储中
type Sinker interface {
	// Sink 写入函数
	Sink(record *common.Record) error

	// Close 关闭并进行资源清理
	Close() error
}

// jsonSinker 每个事件输出一行 JSON
type jsonSinker struct {
	wr      io.Writer
	closer  io.Closer
	encoder *json.Encoder
}

func newJSONSinker(wr io.Writer) *jsonSinker {
	s := &jsonSinker{
		wr:      wr,
		encoder: json.NewEncoder(wr),
	}
	if c, ok := wr.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// NewSinker 根据配置创建 Sinker console 模式下输出到标准输出
func NewSinker(cfg Config) Sinker {
	if cfg.Console {
		return newJSONSinker(os.Stdout)
	}
	return newJSONSinker(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		LocalTime:  true,
	})
}

func (s *jsonSinker) Sink(record *common.Record) error {
	return s.encoder.Encode(record)
}

func (s *jsonSinker) Close() error {
	if s.closer == nil || s.wr == os.Stdout {
		return nil
	}
	return s.closer.Close()
}
