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

package oob

func Probe(fd int) (Mark, error) {
	return BeforeMark, ErrUnsupported
}

func Recv(fd int, p []byte) (int, error) {
	return 0, ErrUnsupported
}

func Send(fd int, p []byte) error {
	return ErrUnsupported
}

func SetInline(fd int, inline bool) error {
	return ErrUnsupported
}

func SetOwner(fd int, pid int) error {
	return ErrUnsupported
}

func IsNotPending(err error) bool {
	return false
}
