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

package sender

import (
	"context"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/packetd/urgentd/common"
	"github.com/packetd/urgentd/internal/bufbytes"
	"github.com/packetd/urgentd/logger"
	"github.com/packetd/urgentd/sockconn"
)

func newError(format string, args ...any) error {
	format = "sender: " + format
	return errors.Errorf(format, args...)
}

// DefaultOOB 默认发送的 urgent byte
const DefaultOOB = '!'

type Config struct {
	Host     string
	Port     int
	OOB      string
	Interval time.Duration

	// Linger 所有行发送完毕后保持链接的时间 便于服务端处理完剩余数据
	Linger time.Duration
}

func (c *Config) Validate() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port <= 0 {
		c.Port = common.DefaultPort
	}
}

// ParseOOB 解析 urgent byte
//
// 纯数字按十进制字节值解析 其他情况取首字节 空字符串使用 DefaultOOB
func ParseOOB(s string) (byte, error) {
	if s == "" {
		return DefaultOOB, nil
	}
	if strings.Trim(s, "0123456789") != "" {
		return s[0], nil
	}

	digits := strings.TrimLeft(s, "0")
	if digits == "" {
		return 0, nil
	}
	n, err := cast.ToIntE(digits)
	if err != nil {
		return 0, errors.Wrapf(err, "sender: parse oob %q", s)
	}
	if n > 255 {
		return 0, newError("oob value %d out of byte range", n)
	}
	return byte(n), nil
}

// Lines 返回发送的普通数据 aa..az
func Lines() []string {
	lines := make([]string, 0, 26)
	for c := 'a'; c <= 'z'; c++ {
		lines = append(lines, "a"+string(c))
	}
	return lines
}

// Sender 测试客户端 定期发送普通行 收到触发时发送一个 urgent byte
type Sender struct {
	cfg  Config
	oob  byte
	conn *sockconn.Conn
}

func New(cfg Config) (*Sender, error) {
	cfg.Validate()
	oob, err := ParseOOB(cfg.OOB)
	if err != nil {
		return nil, err
	}
	return &Sender{cfg: cfg, oob: oob}, nil
}

// OOB 返回将要发送的 urgent byte
func (s *Sender) OOB() byte {
	return s.oob
}

func (s *Sender) Dial(ctx context.Context) error {
	var d net.Dialer
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "sender: dial %s", addr)
	}

	sc, err := sockconn.New(conn, sockconn.Options{})
	if err != nil {
		conn.Close()
		return err
	}
	s.conn = sc
	logger.Infof("connected to %s", sc.RemoteAddr())
	return nil
}

func (s *Sender) sendOOB() {
	p := []byte{s.oob}
	logger.Infof("sending 1 byte of OOB data: %s", bufbytes.Preview(p, 1))
	if err := s.conn.SendOOB(p); err != nil {
		logger.Errorf("send oob failed: %v", err)
	}
}

// pause 等待 d 期间响应 trigger d <= 0 时仅处理已到达的 trigger
func (s *Sender) pause(ctx context.Context, trigger <-chan struct{}, d time.Duration) error {
	if d <= 0 {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-trigger:
				s.sendOOB()
			default:
				return nil
			}
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-trigger:
			s.sendOOB()
		case <-timer.C:
			return nil
		}
	}
}

// Run 发送所有行 随后保持链接 Linger 时间
//
// ctx 取消时提前返回 nil 对端关闭链接时同样返回 nil
func (s *Sender) Run(ctx context.Context, trigger <-chan struct{}) error {
	if s.conn == nil {
		return newError("not connected")
	}

	for i, line := range Lines() {
		d := s.cfg.Interval
		if i == 0 {
			d = 0
		}
		if err := s.pause(ctx, trigger, d); err != nil {
			return nil
		}

		logger.Infof("sending %d bytes of normal data: %s", len(line), line)
		if _, err := s.conn.Write([]byte(line + "\n")); err != nil {
			if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
				logger.Infof("remote closed socket")
				return nil
			}
			return errors.Wrap(err, "sender: write")
		}
	}

	if s.cfg.Linger > 0 {
		logger.Infof("press Ctrl-\\ to terminate")
	}
	s.pause(ctx, trigger, s.cfg.Linger)
	return nil
}

func (s *Sender) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
