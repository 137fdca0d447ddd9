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
)

// Write 写stdout
func (c *Conn) Write(p []byte) (int, error) {
	return c.WriteStream(TypeStdout, p)
}

func (c *Conn) Printf(format string, args ...interface{}) (int, error) {
	return c.WriteStream(TypeStdout, []byte(fmt.Sprintf(format, args...)))
}

func (c *Conn) Stdout() io.Writer {
	return streamWriter{c: c, t: TypeStdout}
}

func (c *Conn) Stderr() io.Writer {
	return streamWriter{c: c, t: TypeStderr}
}

type streamWriter struct {
	c *Conn
	t RecordType
}

func (w streamWriter) Write(p []byte) (int, error) {
	return w.c.WriteStream(w.t, p)
}

// WriteStream 向stdout或stderr写数据。
// 任何一次socket写失败都会取消keep-alive并清空输出缓冲。
func (c *Conn) WriteStream(t RecordType, p []byte) (int, error) {
	if t != TypeStdout && t != TypeStderr {
		return 0, fmt.Errorf("%w: %s", ErrInvalidStream, t)
	}
	if c.closed {
		return 0, ErrConnClosed
	}
	if c.ended {
		return 0, ErrAlreadyFinalized
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := c.write(t, p)
	if err != nil {
		c.logger.Error("[fcgi] conn %s write %s err: %s", c.id, t, err.Error())
		c.l.stats.addFailure(err)
		countFailure(c.opts.name, err)
		return n, err
	}
	c.l.stats.addWritten(n)
	countWritten(c.opts.name, t, n)
	return n, nil
}

func (c *Conn) write(t RecordType, p []byte) (int, error) {
	if c.open >= 0 && c.openType != t {
		c.closePacket()
	}

	limit := outBufferSize - len(c.out)
	if c.open < 0 {
		limit -= HeaderLen
		if limit < 0 {
			limit = 0
		}
	}

	switch {
	case len(p) < limit:
		// 缓冲区放得下
		if c.open < 0 {
			c.openPacket(t)
		}
		c.out = append(c.out, p...)

	case len(p)-limit < outBufferSize-HeaderLen:
		// 填满缓冲区后写出，剩余部分放入新记录
		if limit > 0 {
			if c.open < 0 {
				c.openPacket(t)
			}
			c.out = append(c.out, p[:limit]...)
		}
		if err := c.flush(false); err != nil {
			return 0, err
		}
		if len(p) > limit {
			c.openPacket(t)
			c.out = append(c.out, p[limit:]...)
		}

	default:
		// 大块数据直接写socket，不足8字节的尾部留在缓冲区
		c.closePacket()
		pos := 0
		for len(p)-pos > MaxRecordLength {
			if err := c.writeDirect(t, p[pos:pos+maxChunk]); err != nil {
				return pos, err
			}
			pos += maxChunk
		}
		rest := len(p) - pos
		tail := rest % 8
		if err := c.writeDirect(t, p[pos:len(p)-tail]); err != nil {
			return pos, err
		}
		if tail > 0 {
			c.openPacket(t)
			c.out = append(c.out, p[len(p)-tail:]...)
		}
	}
	return len(p), nil
}

// writeDirect 写出缓冲区和一条记录的header，再直接写记录内容。content长度须为8的倍数
func (c *Conn) writeDirect(t RecordType, content []byte) error {
	c.out = NewHeader(t, c.requestID, len(content)).AppendTo(c.out)
	if err := c.flush(false); err != nil {
		return err
	}
	return c.writeAll(content)
}

func (c *Conn) openPacket(t RecordType) {
	c.open = len(c.out)
	c.openType = t
	c.out = NewHeader(t, c.requestID, 0).AppendTo(c.out)
}

// closePacket 回填未结束记录的长度并补齐padding
func (c *Conn) closePacket() {
	if c.open < 0 {
		return
	}
	n := len(c.out) - c.open - HeaderLen
	putLength(c.out[c.open:c.open+HeaderLen], n)
	c.out = append(c.out, make([]byte, paddingFor(n))...)
	c.open = -1
}

// Flush 写出已缓冲的输出
func (c *Conn) Flush() error {
	if c.closed {
		return ErrConnClosed
	}
	if c.ended {
		return ErrAlreadyFinalized
	}
	return c.flush(false)
}

// flush 结束未完成的记录并写出缓冲区，end为true时追加end-request记录。
// 无论成败缓冲区都会被清空。
func (c *Conn) flush(end bool) error {
	c.closePacket()
	if end {
		c.out = NewHeader(TypeEndRequest, c.requestID, EndRequestBodyLen).AppendTo(c.out)
		c.out = EndRequestBody{ProtocolStatus: StatusRequestComplete}.AppendTo(c.out)
	}
	err := c.writeAll(c.out)
	c.out = c.out[:0]
	return err
}

func (c *Conn) writeAll(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if _, err := c.rwc.Write(b); err != nil {
		c.keep = false
		c.out = c.out[:0]
		c.open = -1
		return transportError("write", err)
	}
	return nil
}

// Finalize 写出剩余输出和end-request记录，重复调用返回ErrAlreadyFinalized
func (c *Conn) Finalize() error {
	if c.closed {
		return ErrConnClosed
	}
	if c.ended {
		return ErrAlreadyFinalized
	}
	c.ended = true
	return c.flush(true)
}
