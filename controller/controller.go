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
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/packetd/urgentd/acceptor"
	"github.com/packetd/urgentd/common"
	"github.com/packetd/urgentd/confengine"
	"github.com/packetd/urgentd/exporter"
	"github.com/packetd/urgentd/internal/pubsub"
	"github.com/packetd/urgentd/internal/rescue"
	"github.com/packetd/urgentd/internal/sigs"
	"github.com/packetd/urgentd/logger"
	"github.com/packetd/urgentd/poller"
	"github.com/packetd/urgentd/server"
)

type Controller struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       Config
	buildInfo common.BuildInfo

	acc *acceptor.Acceptor
	exp *exporter.Exporter
	svr *server.Server
	bus *pubsub.PubSub[*common.Record]

	wg   sync.WaitGroup
	once sync.Once
}

func setupLogger(conf *confengine.Config) error {
	var opts logger.Options
	if err := conf.UnpackChild("logger", &opts); err != nil {
		return err
	}

	opts.Validate()
	logger.SetOptions(opts)
	return nil
}

func New(conf *confengine.Config, buildInfo common.BuildInfo) (*Controller, error) {
	if err := setupLogger(conf); err != nil {
		return nil, err
	}

	exp, err := exporter.New(conf)
	if err != nil {
		return nil, err
	}

	svr, err := server.New(conf)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := conf.UnpackChild("controller", &cfg); err != nil {
		return nil, err
	}
	cfg.Validate()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		buildInfo: buildInfo,
		exp:       exp,
		svr:       svr,
		bus:       pubsub.New[*common.Record](),
	}

	acc, err := acceptor.New(conf, c)
	if err != nil {
		cancel()
		return nil, err
	}
	c.acc = acc
	return c, nil
}

// Handle 实现 acceptor.Handler 将会话事件分发至 exporter 以及 /watch 订阅者
func (c *Controller) Handle(record *common.Record) {
	handledRecords.WithLabelValues(record.Kind).Inc()
	c.exp.Export(record)
	c.bus.Publish(record)
}

// Frames 实现 acceptor.Handler
func (c *Controller) Frames() bool {
	return c.exp.Frames() || c.svr != nil
}

func (c *Controller) Start() error {
	c.setupServer()

	if c.svr != nil {
		if err := c.svr.Listen(); err != nil {
			return err
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			err := c.svr.Serve()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("failed to start server: %v", err)
			}
		}()
	}

	c.exp.Start()
	if err := c.acc.Start(); err != nil {
		return err
	}

	if c.acc.PollerOptions().Notify == poller.NotifySignal {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer rescue.HandleCrash("controller")
			c.loopUrgentSignal()
		}()
	}
	return nil
}

// loopUrgentSignal 将进程收到的 SIGURG 转发给所有会话
func (c *Controller) loopUrgentSignal() {
	ch := sigs.Urgent()
	defer sigs.Stop(ch)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ch:
			c.acc.NotifyUrgent()
		}
	}
}

func (c *Controller) recordMetrics() {
	uptime.Set(float64(time.Now().Unix() - common.Started()))
	buildInfo.WithLabelValues(c.buildInfo.Version, c.buildInfo.GitHash, c.buildInfo.Time).Set(1)
	watchSubscribers.Set(float64(c.bus.Num()))
}

// Reload 重载配置
//
// - 仅重载 logger 监听地址以及 reader 配置需要重启生效
func (c *Controller) Reload(conf *confengine.Config) error {
	return setupLogger(conf)
}

// Stop 停止所有组件 返回聚合后的错误
func (c *Controller) Stop() error {
	var errs error
	c.once.Do(func() {
		c.cancel()

		if err := c.acc.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		c.bus.Close()

		if c.svr != nil {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StopTimeout)
			defer cancel()
			if err := c.svr.Shutdown(ctx); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		if err := c.exp.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		c.wg.Wait()
		logger.Std().Sync()
	})
	return errs
}
