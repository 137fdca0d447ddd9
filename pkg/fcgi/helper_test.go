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
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/caiflower/fcgi-server/pkg/syncx"
	"github.com/stretchr/testify/require"
)

var errBrokenPipe = errors.New("broken pipe")

// captureConn 从input读取，把写入的数据保存下来
type captureConn struct {
	r          *bytes.Reader
	w          bytes.Buffer
	failWrites bool
	closed     bool
}

func (c *captureConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *captureConn) Write(p []byte) (int, error) {
	if c.failWrites {
		return 0, errBrokenPipe
	}
	return c.w.Write(p)
}

func (c *captureConn) Close() error {
	c.closed = true
	return nil
}

func (c *captureConn) LocalAddr() net.Addr                { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000} }
func (c *captureConn) RemoteAddr() net.Addr               { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000} }
func (c *captureConn) SetDeadline(t time.Time) error      { return nil }
func (c *captureConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *captureConn) SetWriteDeadline(t time.Time) error { return nil }

func newTestListener(opts ...Option) *Listener {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Listener{
		opts:   o,
		logger: o.logger,
		stats:  &stats{},
		lock:   syncx.NewSpinLock(),
		conns:  make(map[*Conn]struct{}),
	}
}

func newTestConn(input []byte, opts ...Option) (*Conn, *captureConn) {
	rwc := &captureConn{r: bytes.NewReader(input)}
	return newConn(newTestListener(opts...), rwc), rwc
}

type record struct {
	Header
	Content []byte
}

// parseRecords 按记录切分写出的数据
func parseRecords(t *testing.T, b []byte) []record {
	t.Helper()
	var recs []record
	for len(b) > 0 {
		require.GreaterOrEqual(t, len(b), HeaderLen, "truncated header")
		h := DecodeHeader(b)
		b = b[HeaderLen:]
		require.GreaterOrEqual(t, len(b), h.BodyLen(), "truncated body of %s", h.Type)
		recs = append(recs, record{Header: h, Content: append([]byte(nil), b[:h.ContentLength]...)})
		b = b[h.BodyLen():]
	}
	return recs
}

// streamContent 拼接某一类型记录的全部内容
func streamContent(recs []record, t RecordType) []byte {
	var out []byte
	for _, r := range recs {
		if r.Type == t {
			out = append(out, r.Content...)
		}
	}
	return out
}

func beginRecord(id uint16, role Role, keep bool) []byte {
	var flags uint8
	if keep {
		flags = flagKeepConn
	}
	body := BeginRequestBody{Role: role, Flags: flags}.AppendTo(nil)
	return AppendRecord(nil, TypeBeginRequest, id, body)
}

func paramsRecord(id uint16, pairs ...Pair) []byte {
	var content []byte
	for _, p := range pairs {
		content = AppendPair(content, p.Name, p.Value)
	}
	return AppendRecord(nil, TypeParams, id, content)
}

// streamRecords 按chunk切分数据并追加一条空记录结束
func streamRecords(t RecordType, id uint16, data []byte, chunk int) []byte {
	var out []byte
	for len(data) > 0 {
		n := chunk
		if n > len(data) {
			n = len(data)
		}
		out = AppendRecord(out, t, id, data[:n])
		data = data[n:]
	}
	return AppendRecord(out, t, id, nil)
}

func buildRequest(id uint16, role Role, keep bool, pairs []Pair, body []byte) []byte {
	var b []byte
	b = append(b, beginRecord(id, role, keep)...)
	if len(pairs) > 0 {
		b = append(b, paramsRecord(id, pairs...)...)
	}
	b = append(b, AppendRecord(nil, TypeParams, id, nil)...)
	return append(b, streamRecords(TypeStdin, id, body, 4096)...)
}
