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
)

var (
	ErrBadVersion       = errors.New("unsupported record version")
	ErrUnexpectedRecord = errors.New("unexpected record")
	ErrUnknownRole      = errors.New("unknown role")
	ErrMalformedParams  = errors.New("malformed name-value pair")
	ErrRecordTooLarge   = errors.New("record exceeds protocol maximum")
	ErrStdinTooLarge    = errors.New("request body exceeds limit")
	ErrShortRead        = errors.New("short read")
	ErrInvalidStream    = errors.New("invalid output stream")

	// ErrNoRequest 处理了管理记录，本轮没有产生请求
	ErrNoRequest        = errors.New("no request produced")
	ErrAlreadyFinalized = errors.New("response already finalized")
	ErrConnClosed       = errors.New("connection closed")

	ErrPathTooLong = errors.New("socket path too long")
	ErrResolve     = errors.New("cannot resolve host")
	ErrBind        = errors.New("cannot bind")
)

type Kind int

const (
	KindTransport Kind = iota + 1
	KindProtocol
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Error 按传输/协议/资源三类区分的错误
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fcgi: %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func transportError(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

func protocolError(op string, err error) error {
	return &Error{Kind: KindProtocol, Op: op, Err: err}
}

func resourceError(op string, err error) error {
	return &Error{Kind: KindResource, Op: op, Err: err}
}

func kindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

func IsTransport(err error) bool {
	return kindOf(err) == KindTransport
}

func IsProtocol(err error) bool {
	return kindOf(err) == KindProtocol
}

func IsResource(err error) bool {
	return kindOf(err) == KindResource
}
