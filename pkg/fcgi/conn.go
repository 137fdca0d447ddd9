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
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/caiflower/fcgi-server/pkg/logger"
	"github.com/caiflower/fcgi-server/pkg/tools"
)

const (
	outBufferSize = 8192
	readerSize    = 4096
)

// Conn 一条连接以及当前正在处理的请求。
// 不是并发安全的，同一时刻只能由一个协程使用。
type Conn struct {
	l      *Listener
	rwc    net.Conn
	br     *bufio.Reader
	opts   *options
	logger logger.ILog

	id        string
	requestID uint16
	role      Role
	keep      bool
	ended     bool
	closed    bool
	begin     time.Time

	env   *Env
	stdin []byte
	hdr   [HeaderLen]byte
	body  []byte

	// out 输出缓冲，open为未结束记录header在out中的偏移，-1表示没有
	out      []byte
	open     int
	openType RecordType
}

func newConn(l *Listener, rwc net.Conn) *Conn {
	c := &Conn{
		l:      l,
		rwc:    rwc,
		br:     bufio.NewReaderSize(rwc, readerSize),
		opts:   &l.opts,
		logger: l.logger,
		id:     tools.GenerateId("fcgi"),
		env:    NewEnv(),
		out:    make([]byte, 0, outBufferSize+2*HeaderLen+EndRequestBodyLen),
		open:   -1,
	}
	l.addConn(c)
	return c
}

// ID 连接的追踪id
func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.rwc.RemoteAddr()
}

func (c *Conn) RequestID() uint16 {
	return c.requestID
}

func (c *Conn) Role() Role {
	return c.role
}

func (c *Conn) KeepAlive() bool {
	return c.keep
}

// Stdin 当前请求的body
func (c *Conn) Stdin() []byte {
	return c.stdin
}

func (c *Conn) Getenv(name string) string {
	return c.env.Get(name)
}

func (c *Conn) Lookup(name string) (string, bool) {
	return c.env.Lookup(name)
}

// Env 当前请求的环境变量，Finish之后会被清空
func (c *Conn) Env() *Env {
	return c.env
}

// Finish 结束当前请求：写出剩余输出和end-request记录，
// 未协商keep-alive时优雅关闭连接。返回finalize的结果。
func (c *Conn) Finish() error {
	c.stdin = nil
	if c.closed {
		return ErrConnClosed
	}

	err := c.Finalize()
	c.l.stats.finish(err)
	if !errors.Is(err, ErrAlreadyFinalized) {
		observeRequest(c.opts.name, c.role, c.begin)
		if err != nil {
			countFailure(c.opts.name, err)
			c.logger.Error("[fcgi] conn %s finish request %d err: %s", c.id, c.requestID, err.Error())
		}
	}

	c.close(false, true)
	return err
}

// Close 立即关闭连接，不写出任何数据
func (c *Conn) Close() error {
	c.close(true, true)
	return nil
}

// close force为false且协商了keep-alive时保留连接，destroy清空环境变量
func (c *Conn) close(force, destroy bool) {
	if destroy {
		c.env.Clear()
	}
	if c.closed || (!force && c.keep) {
		return
	}
	c.closed = true

	if !force {
		c.drain()
	}
	if err := c.rwc.Close(); err != nil {
		c.logger.Debug("[fcgi] close conn %s err: %s", c.id, err.Error())
	}
	c.l.removeConn(c)
	c.logger.Debug("[fcgi] conn %s closed, force=%v", c.id, force)
}

// drain 关闭写端后丢弃对端剩余的数据，最多drainLimit字节
func (c *Conn) drain() {
	if cw, ok := c.rwc.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	if c.opts.drainLimit <= 0 {
		return
	}
	if c.opts.drainTimeout > 0 {
		_ = c.rwc.SetReadDeadline(time.Now().Add(c.opts.drainTimeout))
	}
	_, _ = io.CopyN(io.Discard, c.br, int64(c.opts.drainLimit))
}

// waitReady 等待新连接可读，对端直接关闭或超时视为无效连接
func (c *Conn) waitReady() error {
	if c.opts.readyTimeout > 0 {
		_ = c.rwc.SetReadDeadline(time.Now().Add(c.opts.readyTimeout))
		defer func() {
			_ = c.rwc.SetReadDeadline(time.Time{})
		}()
	}
	if _, err := c.br.Peek(1); err != nil {
		return readError("wait ready", err)
	}
	return nil
}
