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
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/packetd/urgentd/common"
	"github.com/packetd/urgentd/internal/fasttime"
	"github.com/packetd/urgentd/internal/rescue"
	"github.com/packetd/urgentd/logger"
	"github.com/packetd/urgentd/poller"
	"github.com/packetd/urgentd/sockconn"
	"github.com/packetd/urgentd/urgent"
)

// session 单条链接的处理会话
//
// 会话独占 conn 以及 reader 仅由 run 所在的 goroutine 读取
// 其他 goroutine 只允许调用 conn.Close 以及 conn.NotifyUrgent
type session struct {
	id     string
	remote string
	conn   *sockconn.Conn
	reader *urgent.Reader
	log    logger.Logger

	workDelay  time.Duration
	onRecord   func(*common.Record)
	withFrames bool

	lines      int
	lastActive atomic.Int64
}

func newSession(conn *sockconn.Conn, opts []urgent.Option, cfg Config, onRecord func(*common.Record), withFrames bool) (*session, error) {
	id := uuid.New().String()
	remote := conn.RemoteAddr().String()
	log := logger.With(id[:8] + " " + remote)

	opts = append(opts, urgent.WithLogger(log))
	reader, err := urgent.NewReader(conn, opts...)
	if err != nil {
		return nil, err
	}

	s := &session{
		id:         id,
		remote:     remote,
		conn:       conn,
		reader:     reader,
		log:        log,
		workDelay:  cfg.WorkDelay,
		onRecord:   onRecord,
		withFrames: withFrames,
	}
	s.touch()
	return s, nil
}

func (s *session) touch() {
	s.lastActive.Store(fasttime.UnixTimestamp())
}

func (s *session) emit(kind urgent.Kind, line []byte) {
	if s.onRecord == nil {
		return
	}
	s.onRecord(&common.Record{
		Session: s.id,
		Remote:  s.remote,
		Kind:    kind.String(),
		Line:    string(line),
		Lines:   s.lines,
		Time:    time.Now(),
	})
}

// work 模拟单行数据的处理耗时 ctx 取消时提前返回
func (s *session) work(ctx context.Context) error {
	if s.workDelay <= 0 {
		return nil
	}

	timer := time.NewTimer(s.workDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *session) handleLine(ctx context.Context, line []byte) error {
	s.lines++
	s.touch()
	framesTotal.Inc()
	s.log.Infof("yielded line: %s", line)

	if s.withFrames {
		s.emit(urgent.KindFrameReady, line)
	}
	return s.work(ctx)
}

// run 处理链接直至对端关闭 出错或者 ctx 被取消
//
// 每次收到 urgent data 后行计数清零 并重新开始读取
func (s *session) run(ctx context.Context) {
	defer rescue.HandleCrash("session")
	defer s.close()

	s.log.Infof("accepted connection")
	for {
		err := s.reader.Lines(func(line []byte) error {
			return s.handleLine(ctx, line)
		})

		switch {
		case errors.Is(err, urgent.ErrUrgent):
			urgentTotal.Inc()
			s.touch()
			s.log.Infof("urgent data - seen %d lines", s.lines)
			s.emit(urgent.KindUrgentReached, nil)
			s.lines = 0

		case errors.Is(err, urgent.ErrStreamEnded):
			s.log.Infof("eof - seen %d lines", s.lines)
			s.emit(urgent.KindStreamEnded, nil)
			return

		case isClosed(err):
			s.log.Debugf("session closed: %v", err)
			return

		default:
			readerErrors.WithLabelValues(errorType(err)).Inc()
			s.log.Errorf("reader failed: %v", err)
			return
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, poller.ErrClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled)
}

func errorType(err error) string {
	var (
		probeErr *urgent.ProbeError
		pollErr  *urgent.PollError
		readErr  *urgent.ReadError
	)
	switch {
	case errors.As(err, &probeErr):
		return "probe"
	case errors.As(err, &pollErr):
		return "poll"
	case errors.As(err, &readErr):
		return "read"
	}
	return "other"
}

func (s *session) close() {
	stats := s.reader.Stats()
	discardedBytes.Add(float64(stats.DiscardedBytes))
	oobRecvFailures.Add(float64(stats.OOBMisses))

	if err := s.reader.Close(); err != nil {
		s.log.Debugf("close reader failed: %v", err)
	}
	s.log.Debugf("session stats: %+v", stats)
}

// stop 可由任意 goroutine 调用 唤醒阻塞中的 run
func (s *session) stop() error {
	return s.conn.Close()
}
