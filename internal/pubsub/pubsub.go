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

package pubsub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Queue 订阅队列 每个订阅者独占一个
//
// 队列已满时 Publish 会丢弃新消息 慢订阅者不会阻塞发布方
type Queue[T any] struct {
	id      string
	ch      chan T
	closed  atomic.Bool
	dropped atomic.Uint64
}

func newQueue[T any](size int) *Queue[T] {
	if size <= 0 {
		size = 1
	}

	return &Queue[T]{
		id: uuid.New().String(),
		ch: make(chan T, size),
	}
}

// ID 队列唯一标识
func (q *Queue[T]) ID() string {
	return q.id
}

// Dropped 因队列已满而丢弃的消息数量
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// PopTimeout 从队列中弹出一个元素 操作会 block 直到有元素或者超时
func (q *Queue[T]) PopTimeout(timeout time.Duration) (T, bool) {
	var zero T
	if q.closed.Load() {
		return zero, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data, ok := <-q.ch:
		return data, ok

	case <-timer.C:
		return zero, false
	}
}

func (q *Queue[T]) push(data T) {
	if q.closed.Load() {
		return
	}

	select {
	case q.ch <- data:
	default:
		q.dropped.Add(1)
	}
}

func (q *Queue[T]) close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}

// PubSub 广播总线 用于 /watch 等实时订阅场景
type PubSub[T any] struct {
	mut    sync.RWMutex
	queues map[string]*Queue[T]
}

func New[T any]() *PubSub[T] {
	return &PubSub[T]{
		queues: make(map[string]*Queue[T]),
	}
}

func (p *PubSub[T]) Num() int {
	p.mut.RLock()
	defer p.mut.RUnlock()

	return len(p.queues)
}

func (p *PubSub[T]) Subscribe(size int) *Queue[T] {
	p.mut.Lock()
	defer p.mut.Unlock()

	q := newQueue[T](size)
	p.queues[q.ID()] = q
	return q
}

func (p *PubSub[T]) Publish(msg T) {
	p.mut.RLock()
	defer p.mut.RUnlock()

	for _, q := range p.queues {
		q.push(msg)
	}
}

// Unsubscribe 取消订阅并关闭队列
func (p *PubSub[T]) Unsubscribe(q *Queue[T]) {
	p.mut.Lock()
	defer p.mut.Unlock()

	delete(p.queues, q.ID())
	q.close()
}

// Close 关闭所有订阅队列 阻塞中的 PopTimeout 会立即返回
func (p *PubSub[T]) Close() {
	p.mut.Lock()
	defer p.mut.Unlock()

	for id, q := range p.queues {
		q.close()
		delete(p.queues, id)
	}
}
