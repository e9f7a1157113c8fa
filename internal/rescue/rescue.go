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

package rescue

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/urgentd/common"
	"github.com/packetd/urgentd/logger"
)

var panicTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: common.App,
		Name:      "panic_total",
		Help:      "program causes panic total",
	},
	[]string{"component"},
)

// PanicHandlers 发生 panic 时依次执行
var PanicHandlers = []func(component string, r any){
	incPanicCounter,
	logPanic,
}

func incPanicCounter(component string, _ any) {
	panicTotal.WithLabelValues(component).Inc()
}

func logPanic(component string, r any) {
	const size = 64 << 10
	stacktrace := make([]byte, size)
	stacktrace = stacktrace[:runtime.Stack(stacktrace, false)]
	if _, ok := r.(string); ok {
		logger.Errorf("%s observed a panic: %s\n%s", component, r, stacktrace)
	} else {
		logger.Errorf("%s observed a panic: %#v (%v)\n%s", component, r, r, stacktrace)
	}
}

// HandleCrash 需以 defer 方式调用
//
// 单条链接的 panic 不允许影响整个进程
func HandleCrash(component string) {
	if r := recover(); r != nil {
		for _, fn := range PanicHandlers {
			fn(component, r)
		}
	}
}
