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
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/urgentd/common"
	"github.com/packetd/urgentd/confengine"
	"github.com/packetd/urgentd/internal/rescue"
	"github.com/packetd/urgentd/logger"
)

var (
	exportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "exporter_records_total",
			Help:      "exporter handled records total",
		},
		[]string{"status"},
	)
)

// Exporter 异步输出会话事件
//
// Export 不会阻塞调用方 队列已满时事件被丢弃
type Exporter struct {
	ctx    context.Context
	cancel context.CancelFunc
	conf   Config

	sinker Sinker
	ch     chan *common.Record
	wg     sync.WaitGroup
	once   sync.Once
}

// New 从配置中 `exporter` 节点创建 Exporter
//
// 节点缺失或者未开启时返回的 Exporter 忽略所有事件
func New(conf *confengine.Config) (*Exporter, error) {
	var cfg Config
	if err := conf.UnpackChild("exporter", &cfg); err != nil {
		return nil, err
	}
	cfg.Validate()

	var sinker Sinker
	if cfg.Enabled {
		sinker = NewSinker(cfg)
	}
	return newExporter(cfg, sinker), nil
}

func newExporter(cfg Config, sinker Sinker) *Exporter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Exporter{
		ctx:    ctx,
		cancel: cancel,
		conf:   cfg,
		sinker: sinker,
		ch:     make(chan *common.Record, cfg.QueueSize),
	}
}

// Enabled 是否开启事件输出
func (e *Exporter) Enabled() bool {
	return e != nil && e.sinker != nil
}

// Frames 是否输出普通行事件
func (e *Exporter) Frames() bool {
	return e.Enabled() && e.conf.Frames
}

func (e *Exporter) Start() {
	if !e.Enabled() {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer rescue.HandleCrash("exporter")
		e.loopSink()
	}()
}

// Export 提交事件
func (e *Exporter) Export(record *common.Record) {
	if !e.Enabled() {
		return
	}

	select {
	case <-e.ctx.Done():
		exportedTotal.WithLabelValues("dropped").Inc()
	case e.ch <- record:
	default:
		exportedTotal.WithLabelValues("dropped").Inc()
	}
}

func (e *Exporter) sink(record *common.Record) {
	if err := e.sinker.Sink(record); err != nil {
		exportedTotal.WithLabelValues("failed").Inc()
		logger.Errorf("sink record failed: %v", err)
		return
	}
	exportedTotal.WithLabelValues("success").Inc()
}

func (e *Exporter) loopSink() {
	for {
		select {
		case <-e.ctx.Done():
			// 退出前尽量输出已入队的事件
			for {
				select {
				case record := <-e.ch:
					e.sink(record)
				default:
					return
				}
			}

		case record := <-e.ch:
			e.sink(record)
		}
	}
}

// Close 停止输出并关闭 Sinker 可重复调用
func (e *Exporter) Close() error {
	if !e.Enabled() {
		return nil
	}

	var err error
	e.once.Do(func() {
		e.cancel()
		e.wg.Wait()
		err = e.sinker.Close()
	})
	return err
}
