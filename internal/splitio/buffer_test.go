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

package splitio

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferExtract(t *testing.T) {
	tests := []struct {
		name    string
		inputs  [][]byte
		sep     []byte
		want    [][]byte
		remains []byte
	}{
		{
			name:    "EmptyInput",
			inputs:  nil,
			sep:     CharLF,
			want:    nil,
			remains: []byte{},
		},
		{
			name:    "SingleLineWithoutLF",
			inputs:  [][]byte{[]byte("hello world")},
			sep:     CharLF,
			want:    nil,
			remains: []byte("hello world"),
		},
		{
			name:    "MultipleLines",
			inputs:  [][]byte{[]byte("aa\naab\n")},
			sep:     CharLF,
			want:    [][]byte{[]byte("aa"), []byte("aab")},
			remains: []byte{},
		},
		{
			name:    "LineAcrossAppends",
			inputs:  [][]byte{[]byte("par"), []byte("tial\nnext")},
			sep:     CharLF,
			want:    [][]byte{[]byte("partial")},
			remains: []byte("next"),
		},
		{
			name:    "ConsecutiveLFs",
			inputs:  [][]byte{[]byte("\n\n")},
			sep:     CharLF,
			want:    [][]byte{{}, {}},
			remains: []byte{},
		},
		{
			name:    "CRLFSeparator",
			inputs:  [][]byte{[]byte("line1\r\nline2\r"), []byte("\nline3\n")},
			sep:     CharCRLF,
			want:    [][]byte{[]byte("line1"), []byte("line2")},
			remains: []byte("line3\n"),
		},
		{
			name:    "SeparatorSplitAcrossAppends",
			inputs:  [][]byte{[]byte("x\r"), []byte("\ny")},
			sep:     CharCRLF,
			want:    [][]byte{[]byte("x")},
			remains: []byte("y"),
		},
		{
			name:    "BinaryData",
			inputs:  [][]byte{{0x00, 0x0A, 0xFF, 0x0A, 0x0D}},
			sep:     CharLF,
			want:    [][]byte{{0x00}, {0xFF}},
			remains: []byte{0x0D},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer(0)
			defer b.Release()

			for _, input := range tt.inputs {
				require.NoError(t, b.Append(input))
			}

			var frames [][]byte
			for {
				frame, ok := b.Extract(tt.sep)
				if !ok {
					break
				}
				frames = append(frames, frame)
			}
			assert.Equal(t, tt.want, frames)
			assert.Equal(t, string(tt.remains), string(b.Bytes()))
		})
	}
}

func TestBufferExtractIdempotent(t *testing.T) {
	b := NewBuffer(0)
	defer b.Release()

	require.NoError(t, b.Append([]byte("no separator here")))
	for i := 0; i < 3; i++ {
		frame, ok := b.Extract(CharLF)
		assert.False(t, ok)
		assert.Nil(t, frame)
		assert.False(t, b.HasFrame(CharLF))
		assert.Equal(t, "no separator here", string(b.Bytes()))
	}
}

func TestBufferExtractCopies(t *testing.T) {
	b := NewBuffer(0)
	defer b.Release()

	require.NoError(t, b.Append([]byte("first\nsecond\n")))
	first, ok := b.Extract(CharLF)
	require.True(t, ok)

	second, ok := b.Extract(CharLF)
	require.True(t, ok)
	assert.Equal(t, "first", string(first))
	assert.Equal(t, "second", string(second))
}

func TestBufferEmptySeparator(t *testing.T) {
	b := NewBuffer(0)
	defer b.Release()

	require.NoError(t, b.Append([]byte("abc")))
	_, ok := b.Extract(nil)
	assert.False(t, ok)
	assert.False(t, b.HasFrame(nil))
}

func TestBufferOverflow(t *testing.T) {
	b := NewBuffer(8)
	defer b.Release()

	require.NoError(t, b.Append([]byte("hello")))
	assert.ErrorIs(t, b.Append([]byte("world")), ErrBufferOverflow)
	assert.Equal(t, "hello", string(b.Bytes()))

	require.NoError(t, b.Append([]byte("abc")))
	assert.Equal(t, 8, b.Len())
}

func TestBufferDiscardAll(t *testing.T) {
	b := NewBuffer(0)
	defer b.Release()

	require.NoError(t, b.Append([]byte("partial")))
	assert.Equal(t, 7, b.DiscardAll())
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.DiscardAll())

	require.NoError(t, b.Append([]byte("x\n")))
	frame, ok := b.Extract(CharLF)
	assert.True(t, ok)
	assert.Equal(t, "x", string(frame))
}

func BenchmarkBufferExtract(b *testing.B) {
	input := bytes.Repeat([]byte(strings.Repeat("x", 1024)+"\n"), 100)

	b.ReportAllocs()
	b.ResetTimer()
	b.SetBytes(int64(len(input)))

	for i := 0; i < b.N; i++ {
		buf := NewBuffer(0)
		_ = buf.Append(input)
		for {
			if _, ok := buf.Extract(CharLF); !ok {
				break
			}
		}
		buf.Release()
	}
}
