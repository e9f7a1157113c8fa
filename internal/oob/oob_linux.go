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

package oob

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Probe 使用 ioctl(SIOCATMARK) 查询 fd 是否已到达 urgent mark
func Probe(fd int) (Mark, error) {
	v, err := unix.IoctlGetInt(fd, unix.SIOCATMARK)
	if err != nil {
		return BeforeMark, errors.Wrap(err, "oob: ioctl(SIOCATMARK)")
	}
	if v == 1 {
		return AtMark, nil
	}
	return BeforeMark, nil
}

// Recv 以非阻塞方式读取 urgent byte
//
// 未开启 SO_OOBINLINE 且尚无紧急数据时内核返回 EINVAL
// 紧急数据尚未到达时返回 EAGAIN
func Recv(fd int, p []byte) (int, error) {
	n, _, err := unix.Recvfrom(fd, p, unix.MSG_OOB|unix.MSG_DONTWAIT)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Send 发送 p 并将最后一个字节标记为 urgent byte
func Send(fd int, p []byte) error {
	return unix.Sendto(fd, p, unix.MSG_OOB, nil)
}

// SetInline 设置 SO_OOBINLINE
//
// 开启后 urgent byte 留在普通数据流中 Recv 将始终返回 EINVAL
func SetInline(fd int, inline bool) error {
	v := 0
	if inline {
		v = 1
	}
	return errors.Wrap(unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_OOBINLINE, v), "oob: setsockopt(SO_OOBINLINE)")
}

// SetOwner 设置 fd 的属主进程 紧急数据到达时内核会向 pid 发送 SIGURG
func SetOwner(fd int, pid int) error {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_SETOWN, pid)
	return errors.Wrap(err, "oob: fcntl(F_SETOWN)")
}

// IsNotPending 判断 Recv 返回的错误是否表示没有待读取的 urgent byte
func IsNotPending(err error) bool {
	return errors.Is(err, unix.EINVAL)
}
