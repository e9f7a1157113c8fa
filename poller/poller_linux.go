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

//go:build linux

package poller

import (
	"encoding/binary"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// fdSetSize select(2) 能够表示的 fd 上限
const fdSetSize = int(unsafe.Sizeof(unix.FdSet{})) * 8

func (p *Poller) pollWait(fd int, exceptional, writable bool) (Events, bool, error) {
	fds := []unix.PollFd{
		{Fd: int32(fd), Events: unix.POLLIN},
		{Fd: int32(p.wk.fd), Events: unix.POLLIN},
	}
	if exceptional {
		fds[0].Events |= unix.POLLPRI
	}
	if writable {
		fds[0].Events |= unix.POLLOUT
	}

	_, err := unix.Poll(fds, -1)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return Events{}, false, nil
		}
		return Events{}, false, errors.Wrap(err, "poller: poll")
	}

	revents := fds[0].Revents
	if revents&unix.POLLNVAL != 0 {
		return Events{}, false, newError("poll: invalid descriptor %d", fd)
	}

	ev := Events{
		Readable:    revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
		Writable:    writable && revents&unix.POLLOUT != 0,
		Exceptional: exceptional && revents&unix.POLLPRI != 0,
	}
	return ev, fds[1].Revents&unix.POLLIN != 0, nil
}

func (p *Poller) selectWait(fd int, exceptional, writable bool) (Events, bool, error) {
	if fd < 0 || fd >= fdSetSize || p.wk.fd >= fdSetSize {
		return Events{}, false, ErrDescriptorRange
	}

	var rset, wset, eset unix.FdSet
	rset.Set(fd)
	rset.Set(p.wk.fd)
	if writable {
		wset.Set(fd)
	}
	if exceptional {
		eset.Set(fd)
	}

	nfd := fd
	if p.wk.fd > nfd {
		nfd = p.wk.fd
	}
	_, err := unix.Select(nfd+1, &rset, &wset, &eset, nil)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return Events{}, false, nil
		}
		return Events{}, false, errors.Wrap(err, "poller: select")
	}

	ev := Events{
		Readable:    rset.IsSet(fd),
		Writable:    writable && wset.IsSet(fd),
		Exceptional: exceptional && eset.IsSet(fd),
	}
	return ev, rset.IsSet(p.wk.fd), nil
}

// waker 基于 eventfd 实现的唤醒器
type waker struct {
	fd int
}

func newWaker() (*waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "poller: eventfd")
	}
	return &waker{fd: fd}, nil
}

func (w *waker) wake() {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	_, _ = unix.Write(w.fd, b[:]) // 计数器溢出时返回 EAGAIN 此时本就处于可读状态
}

func (w *waker) drain() {
	var b [8]byte
	_, _ = unix.Read(w.fd, b[:])
}

func (w *waker) close() error {
	return unix.Close(w.fd)
}
