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

package urgent

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/urgentd/internal/splitio"
	"github.com/packetd/urgentd/logger"
)

var (
	errWouldBlock = errors.New("fake: would block forever")
	errNoOOB      = errors.New("fake: EINVAL")
)

// arrival 模拟一次网络数据到达
//
// data 中每个元素对应一次 read 能读到的数据 urgent 表示在 data 之后到达一个 urgent byte
type arrival struct {
	data   []string
	urgent bool
	noOOB  bool // urgent byte 已被通知消费 RecvOOB 失败
	mark   int  // > 0 时覆盖 urgent mark 之前的 chunk 数量
	close  bool
}

type pollCall struct {
	watchExceptional bool
	hasPendingFrame  bool
}

// fakeSource 模拟内核中单条 TCP 链接的读取语义
//
// * read 不会跨越 urgent mark
// * 异常就绪在读取越过 mark 之前会一直保持
// * urgent byte 只能被 RecvOOB 读取一次
type fakeSource struct {
	arrivals []arrival
	chunks   [][]byte
	mark     int // mark 之前剩余的 chunk 数量 -1 表示没有 mark
	urgent   bool
	oobReady bool
	eof      bool

	polls  []pollCall
	reads  int
	probes int
	closed bool

	pollErr  error
	probeErr error
	readErr  error
}

func newFakeSource(arrivals ...arrival) *fakeSource {
	return &fakeSource{
		arrivals: arrivals,
		mark:     -1,
	}
}

func (f *fakeSource) apply() {
	a := f.arrivals[0]
	f.arrivals = f.arrivals[1:]

	for _, d := range a.data {
		f.chunks = append(f.chunks, []byte(d))
	}
	if a.urgent {
		f.mark = len(f.chunks)
		if a.mark > 0 {
			f.mark = a.mark
		}
		f.urgent = true
		f.oobReady = !a.noOOB
	}
	if a.close {
		f.eof = true
	}
}

func (f *fakeSource) Poll(watchExceptional, hasPendingFrame bool) (Readiness, error) {
	f.polls = append(f.polls, pollCall{watchExceptional: watchExceptional, hasPendingFrame: hasPendingFrame})
	if f.pollErr != nil {
		return Readiness{}, f.pollErr
	}

	for {
		rd := Readiness{
			Readable:    len(f.chunks) > 0 || f.eof,
			Exceptional: watchExceptional && f.urgent,
		}
		if rd.Readable || rd.Exceptional || hasPendingFrame {
			return rd, nil
		}
		if len(f.arrivals) == 0 {
			return Readiness{}, errWouldBlock
		}
		f.apply()
	}
}

func (f *fakeSource) Read(p []byte) (int, error) {
	f.reads++
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.chunks) == 0 {
		if f.eof {
			return 0, io.EOF
		}
		return 0, errWouldBlock
	}

	if f.mark == 0 {
		// 读取越过 mark 后异常就绪才会消失
		f.mark = -1
		f.urgent = false
	}

	chunk := f.chunks[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		f.chunks[0] = chunk[n:]
		return n, nil
	}

	f.chunks = f.chunks[1:]
	if f.mark > 0 {
		f.mark--
	}
	return n, nil
}

func (f *fakeSource) RecvOOB(p []byte) (int, error) {
	if !f.oobReady {
		return 0, errNoOOB
	}
	f.oobReady = false
	p[0] = '!'
	return 1, nil
}

func (f *fakeSource) AtMark() (Mark, error) {
	f.probes++
	if f.probeErr != nil {
		return BeforeMark, f.probeErr
	}
	if f.mark == 0 {
		return AtMark, nil
	}
	return BeforeMark, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func newTestReader(t *testing.T, src Source, opts ...Option) *Reader {
	opts = append([]Option{WithLogger(logger.NewNop())}, opts...)
	r, err := NewReader(src, opts...)
	require.NoError(t, err)
	return r
}

type result struct {
	kind  Kind
	frame string
}

func drain(t *testing.T, r *Reader) []result {
	var results []result
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return results
		}
		require.NoError(t, err)
		results = append(results, result{kind: ev.Kind, frame: string(ev.Frame)})
	}
}

func frameOf(s string) result {
	return result{kind: KindFrameReady, frame: s}
}

var (
	urgentReached = result{kind: KindUrgentReached}
	streamEnded   = result{kind: KindStreamEnded}
)

func TestReaderFrames(t *testing.T) {
	tests := []struct {
		name     string
		arrivals []arrival
		sep      string
		want     []result
	}{
		{
			name: "TwoLines",
			arrivals: []arrival{
				{data: []string{"aa\naab\n"}},
				{close: true},
			},
			want: []result{frameOf("aa"), frameOf("aab"), streamEnded},
		},
		{
			name: "LineAcrossReads",
			arrivals: []arrival{
				{data: []string{"he", "llo\nwor"}},
				{data: []string{"ld\n"}},
				{close: true},
			},
			want: []result{frameOf("hello"), frameOf("world"), streamEnded},
		},
		{
			name: "EmptyLines",
			arrivals: []arrival{
				{data: []string{"\n\nx\n"}},
				{close: true},
			},
			want: []result{frameOf(""), frameOf(""), frameOf("x"), streamEnded},
		},
		{
			name: "TrailingPartialDropped",
			arrivals: []arrival{
				{data: []string{"done\nhalf"}},
				{close: true},
			},
			want: []result{frameOf("done"), streamEnded},
		},
		{
			name: "CRLFSeparator",
			arrivals: []arrival{
				{data: []string{"a\r\nb\n\r\n"}},
				{close: true},
			},
			sep:  "\r\n",
			want: []result{frameOf("a"), frameOf("b\n"), streamEnded},
		},
		{
			name: "ImmediateClose",
			arrivals: []arrival{
				{close: true},
			},
			want: []result{streamEnded},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.sep != "" {
				opts = append(opts, WithSeparator([]byte(tt.sep)))
			}
			r := newTestReader(t, newFakeSource(tt.arrivals...), opts...)
			assert.Equal(t, tt.want, drain(t, r))
		})
	}
}

func TestReaderFramesRoundTrip(t *testing.T) {
	input := "line1\nline2\n\nsome longer line 3\nx\n"
	var data []string
	for i := 0; i < len(input); i += 3 {
		end := i + 3
		if end > len(input) {
			end = len(input)
		}
		data = append(data, input[i:end])
	}

	src := newFakeSource(arrival{data: data}, arrival{close: true})
	r := newTestReader(t, src)

	var out bytes.Buffer
	for _, res := range drain(t, r) {
		switch res.kind {
		case KindFrameReady:
			out.WriteString(res.frame)
			out.WriteString("\n")
		case KindUrgentReached:
			t.Fatal("unexpected urgent event")
		}
	}
	assert.Equal(t, input, out.String())
	assert.Equal(t, uint64(0), r.Stats().Urgents)
	assert.Equal(t, uint64(len(input)), r.Stats().BytesRead)
}

func TestReaderTwoSeparatorsOneRead(t *testing.T) {
	src := newFakeSource(arrival{data: []string{"x\ny\n"}}, arrival{close: true})
	r := newTestReader(t, src)

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "x", string(ev.Frame))
	polls := len(src.polls)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "y", string(ev.Frame))
	assert.Equal(t, polls, len(src.polls), "buffered frame must be delivered without polling")
}

func TestReaderPartialThenUrgent(t *testing.T) {
	src := newFakeSource(
		arrival{data: []string{"partial"}},
		arrival{urgent: true},
		arrival{close: true},
	)
	r := newTestReader(t, src)

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, KindUrgentReached, ev.Kind)
	assert.Equal(t, 0, r.Buffered())
	assert.False(t, r.OOBWatch())
	assert.Equal(t, uint64(7), r.Stats().DiscardedBytes)

	assert.Equal(t, []result{streamEnded}, drain(t, r))
}

func TestReaderUrgentResync(t *testing.T) {
	src := newFakeSource(
		arrival{data: []string{"x\n"}},
		arrival{data: []string{"p1\n", "p2", "p3"}, urgent: true},
		arrival{data: []string{"after\n"}},
		arrival{close: true},
	)
	r := newTestReader(t, src)
	assert.False(t, r.OOBWatch())

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, frameOf("x"), result{kind: ev.Kind, frame: string(ev.Frame)})
	assert.True(t, r.OOBWatch())

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, KindUrgentReached, ev.Kind)
	assert.False(t, r.OOBWatch())
	urgentPolls := len(src.polls)
	assert.Equal(t, 0, r.Buffered())

	stats := r.Stats()
	assert.Equal(t, uint64(3), stats.DrainReads)
	assert.Equal(t, uint64(7), stats.DiscardedBytes)
	assert.Equal(t, uint64(0), stats.OOBMisses)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, frameOf("after"), result{kind: ev.Kind, frame: string(ev.Frame)})
	assert.True(t, r.OOBWatch())

	// 紧急数据处理后的第一次 Poll 不允许监听异常就绪
	require.Greater(t, len(src.polls), urgentPolls)
	assert.False(t, src.polls[urgentPolls].watchExceptional)

	assert.Equal(t, []result{streamEnded}, drain(t, r))
	assert.Equal(t, uint64(1), r.Stats().Urgents)
	assert.Equal(t, uint64(2), r.Stats().Frames)
}

func TestReaderDrainReadsMatchPreMarkChunks(t *testing.T) {
	for n := 0; n <= 5; n++ {
		t.Run(strings.Repeat("b", n), func(t *testing.T) {
			var data []string
			for i := 0; i < n; i++ {
				data = append(data, "b")
			}

			src := newFakeSource(
				arrival{data: []string{"a\n"}},
				arrival{data: data, urgent: true},
				arrival{close: true},
			)
			r := newTestReader(t, src)

			results := drain(t, r)
			assert.Equal(t, []result{frameOf("a"), urgentReached, streamEnded}, results)
			assert.Equal(t, uint64(n), r.Stats().DrainReads)
			assert.Equal(t, uint64(n), r.Stats().DiscardedBytes)
		})
	}
}

func TestReaderUrgentWithoutOOBByte(t *testing.T) {
	src := newFakeSource(
		arrival{data: []string{"a\n"}},
		arrival{data: []string{"lost"}, urgent: true, noOOB: true},
		arrival{data: []string{"b\n"}},
		arrival{close: true},
	)
	r := newTestReader(t, src)

	assert.Equal(t, []result{frameOf("a"), urgentReached, frameOf("b"), streamEnded}, drain(t, r))
	assert.Equal(t, uint64(1), r.Stats().OOBMisses)
}

func TestReaderMultipleUrgents(t *testing.T) {
	src := newFakeSource(
		arrival{data: []string{"a\n"}},
		arrival{data: []string{"x"}, urgent: true},
		arrival{data: []string{"b\n"}},
		arrival{data: []string{"y"}, urgent: true},
		arrival{data: []string{"c\n"}},
		arrival{close: true},
	)
	r := newTestReader(t, src)

	want := []result{
		frameOf("a"), urgentReached,
		frameOf("b"), urgentReached,
		frameOf("c"), streamEnded,
	}
	assert.Equal(t, want, drain(t, r))
	assert.Equal(t, uint64(2), r.Stats().Urgents)
}

func TestReaderStreamEndedOnce(t *testing.T) {
	src := newFakeSource(arrival{close: true})
	r := newTestReader(t, src)

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, KindStreamEnded, ev.Kind)

	for i := 0; i < 3; i++ {
		_, err = r.Next()
		assert.Equal(t, io.EOF, err)
	}
	assert.Len(t, src.polls, 1)
}

func TestReaderEndDuringDrain(t *testing.T) {
	src := newFakeSource(
		arrival{data: []string{"a\n"}},
		arrival{data: []string{"pre"}, urgent: true, mark: 2, close: true},
	)
	r := newTestReader(t, src)

	assert.Equal(t, []result{frameOf("a"), streamEnded}, drain(t, r))
	assert.Equal(t, uint64(0), r.Stats().Urgents)
	assert.Equal(t, 0, r.Buffered())
}

func TestReaderProbeError(t *testing.T) {
	src := newFakeSource(
		arrival{data: []string{"a\n"}},
		arrival{urgent: true},
	)
	src.probeErr = errors.New("ioctl failed")
	r := newTestReader(t, src)

	_, err := r.Next()
	require.NoError(t, err)

	_, err = r.Next()
	var probeErr *ProbeError
	require.True(t, errors.As(err, &probeErr))
	assert.Equal(t, src.probeErr, probeErr.Err)

	_, again := r.Next()
	assert.Equal(t, err, again)
}

func TestReaderPollError(t *testing.T) {
	src := newFakeSource()
	src.pollErr = errors.New("select failed")
	r := newTestReader(t, src)

	_, err := r.Next()
	var pollErr *PollError
	require.True(t, errors.As(err, &pollErr))
	assert.ErrorIs(t, err, src.pollErr)

	_, err = r.Next()
	assert.ErrorAs(t, err, &pollErr)
	assert.Len(t, src.polls, 1)
}

func TestReaderReadError(t *testing.T) {
	src := newFakeSource(arrival{data: []string{"a\n"}})
	src.readErr = errors.New("connection reset")
	r := newTestReader(t, src)

	_, err := r.Next()
	var readErr *ReadError
	assert.ErrorAs(t, err, &readErr)
}

func TestReaderBufferOverflow(t *testing.T) {
	src := newFakeSource(arrival{data: []string{"abcdefgh"}})
	r := newTestReader(t, src, WithMaxBuffered(4))

	_, err := r.Next()
	assert.ErrorIs(t, err, splitio.ErrBufferOverflow)
}

func TestReaderDrainOverflowDiscards(t *testing.T) {
	src := newFakeSource(
		arrival{data: []string{"a\n"}},
		arrival{data: []string{"1234", "5678"}, urgent: true},
		arrival{data: []string{"b\n"}},
		arrival{close: true},
	)
	r := newTestReader(t, src, WithMaxBuffered(6))

	assert.Equal(t, []result{frameOf("a"), urgentReached, frameOf("b"), streamEnded}, drain(t, r))
	assert.Equal(t, uint64(8), r.Stats().DiscardedBytes)
}

func TestReaderInvalidSeparator(t *testing.T) {
	_, err := NewReader(newFakeSource(), WithSeparator(nil))
	assert.Equal(t, ErrInvalidSeparator, err)
}

func TestReaderLines(t *testing.T) {
	src := newFakeSource(
		arrival{data: []string{"aa\nab\n"}},
		arrival{data: []string{"ac"}, urgent: true},
		arrival{data: []string{"ad\n"}},
		arrival{close: true},
	)
	r := newTestReader(t, src)

	var lines []string
	var seen []int
	count := 0
	for {
		err := r.Lines(func(line []byte) error {
			lines = append(lines, string(line))
			count++
			return nil
		})
		seen = append(seen, count)
		count = 0
		if errors.Is(err, ErrUrgent) {
			continue
		}
		assert.Equal(t, ErrStreamEnded, err)
		break
	}

	assert.Equal(t, []string{"aa", "ab", "ad"}, lines)
	assert.Equal(t, []int{2, 1}, seen)

	err := r.Lines(func([]byte) error { return nil })
	assert.Equal(t, ErrStreamEnded, err)
}

func TestReaderLinesCallbackError(t *testing.T) {
	src := newFakeSource(arrival{data: []string{"a\nb\n"}})
	r := newTestReader(t, src)

	stop := errors.New("stop")
	err := r.Lines(func(line []byte) error {
		return stop
	})
	assert.Equal(t, stop, err)

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", string(ev.Frame))
}

func TestReaderEventsRestartable(t *testing.T) {
	src := newFakeSource(
		arrival{data: []string{"a\n"}},
		arrival{urgent: true},
		arrival{data: []string{"b\n"}},
		arrival{close: true},
	)
	r := newTestReader(t, src)

	var first []Kind
	for ev, err := range r.Events() {
		require.NoError(t, err)
		first = append(first, ev.Kind)
	}
	assert.Equal(t, []Kind{KindFrameReady, KindUrgentReached}, first)

	var second []Kind
	for ev, err := range r.Events() {
		require.NoError(t, err)
		second = append(second, ev.Kind)
	}
	assert.Equal(t, []Kind{KindFrameReady, KindStreamEnded}, second)

	for range r.Events() {
		t.Fatal("no events after stream ended")
	}
}

func TestReaderClose(t *testing.T) {
	src := newFakeSource(arrival{data: []string{"a"}})
	r := newTestReader(t, src)

	require.NoError(t, r.Close())
	assert.True(t, src.closed)
	assert.Equal(t, 0, r.Buffered())

	_, err := r.Next()
	assert.Equal(t, ErrReaderClosed, err)
	assert.NoError(t, r.Close())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "frame", KindFrameReady.String())
	assert.Equal(t, "urgent", KindUrgentReached.String())
	assert.Equal(t, "eof", KindStreamEnded.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
