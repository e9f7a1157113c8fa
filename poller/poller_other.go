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

//go:build !linux

package poller

func (p *Poller) pollWait(fd int, exceptional, writable bool) (Events, bool, error) {
	return Events{}, false, ErrUnsupported
}

func (p *Poller) selectWait(fd int, exceptional, writable bool) (Events, bool, error) {
	return Events{}, false, ErrUnsupported
}

type waker struct {
	fd int
}

func newWaker() (*waker, error) {
	return nil, ErrUnsupported
}

func (w *waker) wake() {}

func (w *waker) drain() {}

func (w *waker) close() error {
	return nil
}
