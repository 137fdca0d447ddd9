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
	"errors"
	"net"
)

// Acceptor 持有至多一条连接，keep-alive连接上的后续请求复用同一个Conn
type Acceptor struct {
	l *Listener
	c *Conn
}

// Accept 阻塞直到解析出一个完整请求。
// 解析失败的连接被强制关闭，然后继续accept新连接；只有accept本身失败时返回错误。
func (a *Acceptor) Accept() (*Conn, error) {
	for {
		if a.l.isClosed() {
			a.Close()
			return nil, transportError("accept", net.ErrClosed)
		}
		if a.c == nil || a.c.closed {
			c, err := a.acceptReady()
			if err != nil {
				return nil, err
			}
			a.c = c
		}

		c := a.c
		err := c.readRequest()
		if err == nil {
			a.l.stats.addRequest()
			countRequest(c.opts.name, c.role)
			c.logger.Debug("[fcgi] conn %s request %d role %s keep=%v", c.id, c.requestID, c.role, c.keep)
			return c, nil
		}

		switch {
		case errors.Is(err, ErrNoRequest):
			c.logger.Debug("[fcgi] conn %s management record handled", c.id)
		case errors.Is(err, ErrShortRead) || a.l.isClosed():
			// 对端关闭，keep-alive连接正常结束时也会走到这里
			c.logger.Debug("[fcgi] conn %s %s", c.id, err.Error())
		case IsProtocol(err) || IsResource(err):
			a.l.stats.addFailure(err)
			countFailure(c.opts.name, err)
			c.logger.Warn("[fcgi] conn %s from %s rejected: %s", c.id, c.RemoteAddr(), err.Error())
		default:
			a.l.stats.addFailure(err)
			countFailure(c.opts.name, err)
			c.logger.Error("[fcgi] conn %s %s", c.id, err.Error())
		}
		c.close(true, true)
	}
}

// acceptReady accept一条新连接并等待其可读，无效的连接直接关闭
func (a *Acceptor) acceptReady() (*Conn, error) {
	for {
		rwc, err := a.l.ln.Accept()
		if err != nil {
			return nil, transportError("accept", err)
		}
		c := newConn(a.l, rwc)
		a.l.stats.addAccepted()
		countAccepted(c.opts.name)

		if err = c.waitReady(); err != nil {
			c.logger.Debug("[fcgi] conn %s from %s not ready: %s", c.id, rwc.RemoteAddr(), err.Error())
			c.close(true, false)
			continue
		}
		c.logger.Debug("[fcgi] conn %s accepted from %s", c.id, rwc.RemoteAddr())
		return c, nil
	}
}

// Close 强制关闭持有的连接
func (a *Acceptor) Close() {
	if a.c != nil {
		a.c.close(true, true)
		a.c = nil
	}
}
