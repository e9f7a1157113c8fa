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

package sigs

import (
	"os"
	"os/signal"
	"syscall"
)

func notify(sig ...os.Signal) chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig...)
	return ch
}

// Terminate 等待终止信号 SIGINT / SIGTERM
func Terminate() chan os.Signal {
	return notify(os.Interrupt, syscall.SIGTERM)
}

// Reload 等待 Reload 信号 使用 SIGHUP
func Reload() chan os.Signal {
	return notify(syscall.SIGHUP)
}

// SelfReload 主动触发 Reload 信号
func SelfReload() error {
	return syscall.Kill(syscall.Getpid(), syscall.SIGHUP)
}

// Interrupt 发送端使用 SIGINT 触发一次 urgent byte 发送
func Interrupt() chan os.Signal {
	return notify(os.Interrupt)
}

// Quit 发送端使用 SIGQUIT 退出
func Quit() chan os.Signal {
	return notify(syscall.SIGQUIT)
}

// Urgent 等待 SIGURG
//
// Go runtime 同样使用 SIGURG 做抢占调度 因此该信号只能作为提示使用
// 收到后必须由异常就绪检查确认
func Urgent() chan os.Signal {
	return notify(syscall.SIGURG)
}

// Stop 取消 ch 上的信号订阅
func Stop(ch chan os.Signal) {
	signal.Stop(ch)
}
