/*
 * Copyright 2024 caiflower Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package fcgi

import (
	"fmt"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, l *Listener) net.Conn {
	t.Helper()
	conn, err := net.Dial(l.Addr().Network(), l.Addr().String())
	require.NoError(t, err)
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	return conn
}

func TestResponderWithoutKeepAlive(t *testing.T) {
	l, err := ListenTCP("127.0.0.1", 0)
	require.NoError(t, err)
	defer l.Close()

	done := make(chan error, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			done <- err
			return
		}
		if v := c.Getenv("REQUEST_METHOD"); v != "GET" {
			done <- fmt.Errorf("REQUEST_METHOD = %q", v)
			_ = c.Close()
			return
		}
		if _, err = c.Write([]byte("hello")); err != nil {
			done <- err
			return
		}
		done <- c.Finish()
	}()

	conn := dial(t, l)
	_, err = conn.Write(buildRequest(1, RoleResponder, false, []Pair{{Name: "REQUEST_METHOD", Value: "GET"}}, nil))
	require.NoError(t, err)

	// 服务端关闭写端后读到EOF
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, <-done)

	recs := parseRecords(t, out)
	require.Len(t, recs, 2)
	assert.Equal(t, TypeStdout, recs[0].Type)
	assert.Equal(t, "hello", string(recs[0].Content))
	assert.Equal(t, uint8(3), recs[0].PaddingLength)
	assertEndRequest(t, recs[1], 1)
	assert.Equal(t, 0, l.ConnCount())

	stats := l.Stats()
	assert.Equal(t, uint64(1), stats.Accepted)
	assert.Equal(t, uint64(1), stats.Requests)
	assert.Equal(t, uint64(1), stats.Finished)
	assert.Equal(t, uint64(5), stats.WrittenBytes)
}

type served struct {
	conn *Conn
	id   uint16
	x    string
	keep bool
}

func TestKeepAliveServesSequentialRequests(t *testing.T) {
	l, err := ListenTCP("127.0.0.1", 0)
	require.NoError(t, err)

	results := make(chan served, 2)
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 2; i++ {
			c, err := l.Accept()
			if err != nil {
				done <- err
				return
			}
			results <- served{conn: c, id: c.RequestID(), x: c.Getenv("X"), keep: c.KeepAlive()}
			if err = c.Finish(); err != nil {
				done <- err
				return
			}
		}
		// 对端关闭后继续等待新连接，直到监听关闭
		_, err := l.Accept()
		done <- err
	}()

	conn := dial(t, l)
	end := make([]byte, HeaderLen+EndRequestBodyLen)

	_, err = conn.Write(buildRequest(1, RoleResponder, true, []Pair{{Name: "X", Value: "first"}}, nil))
	require.NoError(t, err)
	_, err = io.ReadFull(conn, end)
	require.NoError(t, err)
	recs := parseRecords(t, end)
	require.Len(t, recs, 1)
	assertEndRequest(t, recs[0], 1)

	_, err = conn.Write(buildRequest(2, RoleResponder, true, nil, []byte("body")))
	require.NoError(t, err)
	_, err = io.ReadFull(conn, end)
	require.NoError(t, err)
	recs = parseRecords(t, end)
	require.Len(t, recs, 1)
	assertEndRequest(t, recs[0], 2)

	first, second := <-results, <-results
	assert.Same(t, first.conn, second.conn)
	assert.Equal(t, uint16(1), first.id)
	assert.Equal(t, "first", first.x)
	assert.True(t, first.keep)
	assert.Equal(t, uint16(2), second.id)
	assert.Equal(t, "", second.x)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return l.ConnCount() == 0 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, l.Close())
	assert.ErrorIs(t, <-done, net.ErrClosed)
}

func TestAcceptSkipsBadConnections(t *testing.T) {
	l, err := ListenTCP("127.0.0.1", 0, WithReadyTimeout(100*time.Millisecond))
	require.NoError(t, err)
	defer l.Close()

	done := make(chan string, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			done <- err.Error()
			return
		}
		done <- c.Getenv("N")
		_ = c.Finish()
	}()

	// 连上后直接关闭
	gone := dial(t, l)
	require.NoError(t, gone.Close())

	// 一直不发数据
	idle := dial(t, l)
	defer idle.Close()

	// 协议版本错误
	bad := dial(t, l)
	defer bad.Close()
	badReq := buildRequest(1, RoleResponder, false, nil, nil)
	badReq[0] = 0
	_, err = bad.Write(badReq)
	require.NoError(t, err)

	good := dial(t, l)
	defer good.Close()
	_, err = good.Write(buildRequest(3, RoleResponder, false, []Pair{{Name: "N", Value: "good"}}, nil))
	require.NoError(t, err)

	out, _ := io.ReadAll(bad)
	assert.Empty(t, out, "rejected request gets no response")

	assert.Equal(t, "good", <-done)
	out, err = io.ReadAll(good)
	require.NoError(t, err)
	recs := parseRecords(t, out)
	require.Len(t, recs, 1)
	assertEndRequest(t, recs[0], 3)

	stats := l.Stats()
	assert.Equal(t, uint64(4), stats.Accepted)
	assert.Equal(t, uint64(1), stats.ProtocolErrors)
}

func TestGetValuesOverSocket(t *testing.T) {
	l, err := ListenTCP("127.0.0.1", 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := l.Accept()
		done <- err
	}()

	conn := dial(t, l)
	defer conn.Close()
	_, err = conn.Write(AppendRecord(nil, TypeGetValues, 0, AppendPair(nil, "FCGI_MPXS_CONNS", "")))
	require.NoError(t, err)

	out, _ := io.ReadAll(conn)
	recs := parseRecords(t, out)
	require.Len(t, recs, 1)
	assert.Equal(t, TypeGetValuesResult, recs[0].Type)
	assert.Zero(t, recs[0].ContentLength)

	require.Eventually(t, func() bool { return l.Stats().Management == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, l.Close())
	assert.ErrorIs(t, <-done, net.ErrClosed)
}

func TestUnixSocketEcho(t *testing.T) {
	l, err := ListenUnix(filepath.Join(t.TempDir(), "fcgi.sock"))
	require.NoError(t, err)
	defer l.Close()

	done := make(chan error, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			done <- err
			return
		}
		_, _ = c.Write(c.Stdin())
		_, _ = fmt.Fprintf(c.Stderr(), "role=%s", c.Getenv(RoleEnvName))
		done <- c.Finish()
	}()

	body := payload(20000)
	conn := dial(t, l)
	_, err = conn.Write(buildRequest(5, RoleFilter, false, nil, body))
	require.NoError(t, err)

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, <-done)

	recs := parseRecords(t, out)
	assert.Equal(t, body, streamContent(recs, TypeStdout))
	assert.Equal(t, "role=FILTER", string(streamContent(recs, TypeStderr)))
	assertEndRequest(t, recs[len(recs)-1], 5)
}

func TestListenerCloseDropsHeldConnection(t *testing.T) {
	l, err := ListenTCP("127.0.0.1", 0)
	require.NoError(t, err)

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	conn := dial(t, l)
	defer conn.Close()
	_, err = conn.Write(buildRequest(1, RoleResponder, true, nil, nil))
	require.NoError(t, err)

	c := <-accepted
	assert.Equal(t, 1, l.ConnCount())
	require.NoError(t, l.Close())

	out, _ := io.ReadAll(conn)
	assert.Empty(t, out)

	_, err = c.Write([]byte("late"))
	require.NoError(t, err)
	assert.True(t, IsTransport(c.Finish()))
	assert.False(t, c.KeepAlive())
}

func TestFinishTwice(t *testing.T) {
	c, rwc := newTestConn(buildRequest(1, RoleResponder, false, nil, []byte("x")))
	require.NoError(t, c.readRequest())
	require.NoError(t, c.Finish())
	assert.True(t, rwc.closed)
	assert.Nil(t, c.Stdin())
	assert.Equal(t, 0, c.Env().Len())

	assert.ErrorIs(t, c.Finish(), ErrConnClosed)
	_, err := c.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrConnClosed)

	c, rwc = newTestConn(buildRequest(1, RoleResponder, true, nil, nil))
	require.NoError(t, c.readRequest())
	require.NoError(t, c.Finish())
	assert.False(t, rwc.closed)
	assert.ErrorIs(t, c.Finish(), ErrAlreadyFinalized)
	assert.Len(t, parseRecords(t, rwc.w.Bytes()), 1)
}

func TestFinishDoesNotWaitForIdlePeer(t *testing.T) {
	l, err := ListenTCP("127.0.0.1", 0, WithDrainTimeout(200*time.Millisecond))
	require.NoError(t, err)
	defer l.Close()

	done := make(chan error, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			done <- err
			return
		}
		_, _ = c.Write([]byte("bye"))
		done <- c.Finish()
	}()

	// 对端收到响应后既不发送数据也不关闭
	conn := dial(t, l)
	defer conn.Close()
	_, err = conn.Write(buildRequest(1, RoleResponder, false, nil, nil))
	require.NoError(t, err)

	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Finish blocked on an idle peer")
	}

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	recs := parseRecords(t, out)
	require.Len(t, recs, 2)
	assert.Equal(t, "bye", string(recs[0].Content))
	assertEndRequest(t, recs[1], 1)
	assert.Equal(t, 0, l.ConnCount())
}
