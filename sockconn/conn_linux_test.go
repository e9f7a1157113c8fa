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

package sockconn

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/urgentd/logger"
	"github.com/packetd/urgentd/poller"
	"github.com/packetd/urgentd/urgent"
)

func tcpPair(t *testing.T, opt Options) (*Conn, *Conn) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok)

	sc, err := New(server, opt)
	require.NoError(t, err)
	cc, err := New(client, Options{})
	require.NoError(t, err)

	t.Cleanup(func() {
		sc.Close()
		cc.Close()
	})
	return sc, cc
}

func TestNewRejectsNonTCP(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	_, err := New(a, Options{})
	assert.Equal(t, ErrNotTCP, err)
}

func TestConnUrgentResync(t *testing.T) {
	for _, mode := range []poller.Mode{poller.ModePoll, poller.ModeSelect} {
		t.Run(string(mode), func(t *testing.T) {
			server, client := tcpPair(t, Options{Poller: poller.Options{Mode: mode}})

			_, err := client.Write([]byte("pre"))
			require.NoError(t, err)
			require.NoError(t, client.SendOOB([]byte("!")))
			_, err = client.Write([]byte("after\n"))
			require.NoError(t, err)
			require.NoError(t, client.CloseWrite())

			r, err := urgent.NewReader(server, urgent.WithLogger(logger.NewNop()))
			require.NoError(t, err)

			var kinds []urgent.Kind
			var frames []string
			for {
				ev, err := r.Next()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				kinds = append(kinds, ev.Kind)
				if ev.Kind == urgent.KindFrameReady {
					frames = append(frames, string(ev.Frame))
				}
			}

			assert.Equal(t, []urgent.Kind{urgent.KindUrgentReached, urgent.KindFrameReady, urgent.KindStreamEnded}, kinds)
			assert.Equal(t, []string{"after"}, frames)
			assert.Equal(t, uint64(3), r.Stats().DiscardedBytes)
		})
	}
}

func TestConnRecvOOBNotPending(t *testing.T) {
	server, _ := tcpPair(t, Options{})

	buf := make([]byte, 1)
	_, err := server.RecvOOB(buf)
	assert.Equal(t, ErrNoUrgentData, err)

	mark, err := server.AtMark()
	require.NoError(t, err)
	assert.Equal(t, urgent.BeforeMark, mark)
}

func TestConnCloseWakesPoll(t *testing.T) {
	server, _ := tcpPair(t, Options{})

	errCh := make(chan error, 1)
	go func() {
		_, err := server.Poll(true, false)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, server.Close())

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Poll not woken by Close")
	}
	assert.NoError(t, server.Close())
}
