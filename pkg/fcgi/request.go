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
	"fmt"
	"io"
	"time"
)

// reset 每轮解析开始前重置请求状态
func (c *Conn) reset() {
	c.requestID = 0
	c.role = 0
	c.keep = false
	c.ended = false
	c.stdin = c.stdin[:0]
	c.out = c.out[:0]
	c.open = -1
	c.env.Clear()
}

// readRequest 读取一个完整请求：begin-request -> params -> stdin。
// 收到get-values时回复后返回ErrNoRequest。
func (c *Conn) readRequest() error {
	c.reset()

	h, err := c.readHeader()
	if err != nil {
		return err
	}
	c.begin = time.Now()

	if h.Type == TypeGetValues {
		c.replyGetValues()
		return ErrNoRequest
	}
	if h.Type != TypeBeginRequest || h.ContentLength != BeginRequestBodyLen {
		return protocolError("read begin request",
			fmt.Errorf("%w: %s with content length %d", ErrUnexpectedRecord, h.Type, h.ContentLength))
	}

	body, err := c.readBody(h)
	if err != nil {
		return err
	}
	begin := DecodeBeginRequest(body)
	if !begin.Role.valid() {
		return protocolError("read begin request", fmt.Errorf("%w: %d", ErrUnknownRole, uint16(begin.Role)))
	}
	c.requestID = h.RequestID
	c.role = begin.Role
	c.keep = begin.KeepConn()
	c.env.Insert(RoleEnvName, begin.Role.String())

	// params
	if h, err = c.readHeader(); err != nil {
		return err
	}
	for h.Type == TypeParams && h.ContentLength > 0 {
		if body, err = c.readBody(h); err != nil {
			return err
		}
		pairs, err := DecodePairs(body[:h.ContentLength])
		if err != nil {
			return protocolError("read params", err)
		}
		for _, p := range pairs {
			c.env.Insert(p.Name, p.Value)
		}
		if h, err = c.readHeader(); err != nil {
			return err
		}
	}
	// 空params记录结束参数流，类型变化时该header属于stdin
	if h.Type == TypeParams {
		if err = c.discard(h.BodyLen()); err != nil {
			return err
		}
		if h, err = c.readHeader(); err != nil {
			return err
		}
	}

	// stdin
	for h.Type == TypeStdin && h.ContentLength > 0 {
		if len(c.stdin)+int(h.ContentLength) > c.opts.maxStdin {
			return resourceError("read stdin",
				fmt.Errorf("%w: more than %d bytes", ErrStdinTooLarge, c.opts.maxStdin))
		}
		if body, err = c.readBody(h); err != nil {
			return err
		}
		c.stdin = append(c.stdin, body[:h.ContentLength]...)
		if h, err = c.readHeader(); err != nil {
			return err
		}
	}
	// 结束stdin的记录整体丢弃，保证keep-alive连接上的下一个请求对齐
	return c.discard(h.BodyLen())
}

// readHeader 读取并校验一个header
func (c *Conn) readHeader() (Header, error) {
	if _, err := io.ReadFull(c.br, c.hdr[:]); err != nil {
		return Header{}, readError("read header", err)
	}
	h := DecodeHeader(c.hdr[:])
	if h.Version < Version1 {
		return h, protocolError("read header", fmt.Errorf("%w: %d", ErrBadVersion, h.Version))
	}
	if h.BodyLen() > MaxRecordLength {
		return h, protocolError("read header", fmt.Errorf("%w: %d", ErrRecordTooLarge, h.BodyLen()))
	}
	return h, nil
}

// readBody 读取content+padding，返回的切片在下一次读取前有效
func (c *Conn) readBody(h Header) ([]byte, error) {
	n := h.BodyLen()
	if cap(c.body) < n {
		c.body = make([]byte, n, MaxRecordLength)
	}
	c.body = c.body[:n]
	if _, err := io.ReadFull(c.br, c.body); err != nil {
		return nil, readError("read body", err)
	}
	return c.body, nil
}

func (c *Conn) discard(n int) error {
	if n == 0 {
		return nil
	}
	if _, err := c.br.Discard(n); err != nil {
		return readError("discard body", err)
	}
	return nil
}

// replyGetValues 回复一个空的get-values-result，写失败只取消keep-alive
func (c *Conn) replyGetValues() {
	c.l.stats.addManagement()
	countManagement(c.opts.name)

	var b [HeaderLen]byte
	NewHeader(TypeGetValuesResult, 0, 0).AppendTo(b[:0])
	if _, err := c.rwc.Write(b[:]); err != nil {
		c.keep = false
		c.logger.Warn("[fcgi] conn %s reply get values err: %s", c.id, err.Error())
	}
}

// readError 读不满视为失败，不做重试
func readError(op string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return transportError(op, fmt.Errorf("%w: %v", ErrShortRead, err))
	}
	return transportError(op, err)
}
