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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequest(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789"), 1000)
	pairs := []Pair{
		{Name: "REQUEST_METHOD", Value: "POST"},
		{Name: "SCRIPT_NAME", Value: "/index"},
		{Name: "HTTP_COOKIE", Value: strings.Repeat("c", 300)},
	}
	in := buildRequest(1, RoleResponder, false, pairs, body)

	c, _ := newTestConn(in)
	require.NoError(t, c.readRequest())

	assert.Equal(t, uint16(1), c.RequestID())
	assert.Equal(t, RoleResponder, c.Role())
	assert.False(t, c.KeepAlive())
	assert.Equal(t, body, c.Stdin())

	want := map[string]string{
		RoleEnvName:      "RESPONDER",
		"REQUEST_METHOD": "POST",
		"SCRIPT_NAME":    "/index",
		"HTTP_COOKIE":    strings.Repeat("c", 300),
	}
	if diff := cmp.Diff(want, c.Env().Map()); diff != "" {
		t.Errorf("env mismatch (-want +got):\n%s", diff)
	}
}

func TestReadRequestRoundTrip(t *testing.T) {
	pairs := []Pair{
		{Name: "A", Value: "1"},
		{Name: "B", Value: strings.Repeat("b", 200)},
		{Name: strings.Repeat("C", 130), Value: ""},
	}
	body := []byte("name=value&x=y")
	c, _ := newTestConn(buildRequest(9, RoleAuthorizer, true, pairs, body))
	require.NoError(t, c.readRequest())

	var got []Pair
	c.Env().Range(func(name, value string) bool {
		if name != RoleEnvName {
			got = append(got, Pair{Name: name, Value: value})
		}
		return true
	})

	// 用解析结果重新编码，再解析一次应得到相同的请求
	c2, _ := newTestConn(buildRequest(9, RoleAuthorizer, true, got, c.Stdin()))
	require.NoError(t, c2.readRequest())
	if diff := cmp.Diff(c.Env().Map(), c2.Env().Map()); diff != "" {
		t.Errorf("env mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, body, c2.Stdin())
	assert.Equal(t, "AUTHORIZER", c2.Getenv(RoleEnvName))
	assert.True(t, c2.KeepAlive())
}

func TestReadRequestDuplicateParams(t *testing.T) {
	var in []byte
	in = append(in, beginRecord(1, RoleResponder, false)...)
	in = append(in, paramsRecord(1, Pair{Name: "X", Value: "a"}, Pair{Name: RoleEnvName, Value: "FILTER"})...)
	in = append(in, paramsRecord(1, Pair{Name: "X", Value: "b"})...)
	in = append(in, AppendRecord(nil, TypeParams, 1, nil)...)
	in = append(in, streamRecords(TypeStdin, 1, nil, 10)...)

	c, _ := newTestConn(in)
	require.NoError(t, c.readRequest())
	assert.Equal(t, "a", c.Getenv("X"))
	assert.Equal(t, "RESPONDER", c.Getenv(RoleEnvName))
}

func TestReadRequestParamsEndedByStdin(t *testing.T) {
	// 没有空params记录，stdin记录直接结束参数流
	var in []byte
	in = append(in, beginRecord(1, RoleFilter, false)...)
	in = append(in, paramsRecord(1, Pair{Name: "A", Value: "1"})...)
	in = append(in, streamRecords(TypeStdin, 1, []byte("abc"), 2)...)

	c, _ := newTestConn(in)
	require.NoError(t, c.readRequest())
	assert.Equal(t, "1", c.Getenv("A"))
	assert.Equal(t, "abc", string(c.Stdin()))
}

func TestReadRequestStdinEndedByOtherRecord(t *testing.T) {
	var in []byte
	in = append(in, beginRecord(1, RoleResponder, true)...)
	in = append(in, AppendRecord(nil, TypeParams, 1, nil)...)
	in = append(in, AppendRecord(nil, TypeStdin, 1, []byte("abc"))...)
	in = append(in, AppendRecord(nil, TypeData, 1, []byte("ignored"))...)
	in = append(in, buildRequest(2, RoleResponder, false, nil, []byte("next"))...)

	c, _ := newTestConn(in)
	require.NoError(t, c.readRequest())
	assert.Equal(t, "abc", string(c.Stdin()))

	// 被丢弃的记录之后仍能读到下一个请求
	require.NoError(t, c.readRequest())
	assert.Equal(t, uint16(2), c.RequestID())
	assert.Equal(t, "next", string(c.Stdin()))
}

func TestReadRequestClearsEnvBetweenRequests(t *testing.T) {
	var in []byte
	in = append(in, buildRequest(1, RoleResponder, true, []Pair{{Name: "X", Value: "a"}, {Name: "ONLY_FIRST", Value: "1"}}, nil)...)
	in = append(in, buildRequest(2, RoleResponder, false, []Pair{{Name: "X", Value: "b"}}, nil)...)

	c, rwc := newTestConn(in)
	require.NoError(t, c.readRequest())
	assert.Equal(t, "a", c.Getenv("X"))
	require.NoError(t, c.Finish())
	assert.False(t, rwc.closed)

	require.NoError(t, c.readRequest())
	assert.Equal(t, "b", c.Getenv("X"))
	_, ok := c.Lookup("ONLY_FIRST")
	assert.False(t, ok)
}

func TestReadRequestMalformedParams(t *testing.T) {
	// 第一个pair合法，第二个pair声明的长度超出记录
	content := AppendPair(nil, "GOOD", "1")
	content = append(content, 0x05, 0x64, 'a', 'b', 'c')

	var in []byte
	in = append(in, beginRecord(1, RoleResponder, false)...)
	in = append(in, AppendRecord(nil, TypeParams, 1, content)...)
	in = append(in, AppendRecord(nil, TypeParams, 1, nil)...)

	c, _ := newTestConn(in)
	err := c.readRequest()
	assert.ErrorIs(t, err, ErrMalformedParams)
	assert.True(t, IsProtocol(err))

	_, ok := c.Lookup("GOOD")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Env().Len())
}

func TestReadRequestMalformedExtendedLength(t *testing.T) {
	var in []byte
	in = append(in, beginRecord(1, RoleResponder, false)...)
	in = append(in, AppendRecord(nil, TypeParams, 1, []byte{0x80, 0x00})...)

	c, _ := newTestConn(in)
	err := c.readRequest()
	assert.ErrorIs(t, err, ErrMalformedParams)
	assert.True(t, IsProtocol(err))
}

func TestReadRequestRejects(t *testing.T) {
	badVersion := beginRecord(1, RoleResponder, false)
	badVersion[0] = 0

	tooLarge := NewHeader(TypeParams, 1, 0).AppendTo(nil)
	putLength(tooLarge, 0xffff)
	tooLarge[6] = 1

	beginTooLong := AppendRecord(nil, TypeBeginRequest, 1, make([]byte, 9))

	cases := []struct {
		name string
		in   []byte
		want error
		kind Kind
	}{
		{name: "bad version", in: badVersion, want: ErrBadVersion, kind: KindProtocol},
		{name: "unknown role", in: beginRecord(1, Role(7), false), want: ErrUnknownRole, kind: KindProtocol},
		{name: "params before begin", in: paramsRecord(1, Pair{Name: "A", Value: "1"}), want: ErrUnexpectedRecord, kind: KindProtocol},
		{name: "begin body length", in: beginTooLong, want: ErrUnexpectedRecord, kind: KindProtocol},
		{name: "record too large", in: append(beginRecord(1, RoleResponder, false), tooLarge...), want: ErrRecordTooLarge, kind: KindProtocol},
		{name: "empty input", in: nil, want: ErrShortRead, kind: KindTransport},
		{name: "truncated header", in: beginRecord(1, RoleResponder, false)[:5], want: ErrShortRead, kind: KindTransport},
		{name: "truncated params", in: append(beginRecord(1, RoleResponder, false), paramsRecord(1, Pair{Name: "A", Value: "1"})[:12]...), want: ErrShortRead, kind: KindTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, rwc := newTestConn(tc.in)
			err := c.readRequest()
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.kind, kindOf(err))
			assert.Zero(t, rwc.w.Len(), "no response on failure")
		})
	}
}

func TestReadRequestStdinLimit(t *testing.T) {
	in := buildRequest(1, RoleResponder, false, nil, make([]byte, 100))

	c, _ := newTestConn(in, WithMaxStdin(64))
	err := c.readRequest()
	assert.ErrorIs(t, err, ErrStdinTooLarge)
	assert.True(t, IsResource(err))

	c, _ = newTestConn(in, WithMaxStdin(100))
	require.NoError(t, c.readRequest())
	assert.Len(t, c.Stdin(), 100)
}

func TestReadRequestGetValues(t *testing.T) {
	in := AppendRecord(nil, TypeGetValues, 0, AppendPair(nil, "FCGI_MAX_CONNS", ""))

	c, rwc := newTestConn(in)
	err := c.readRequest()
	assert.ErrorIs(t, err, ErrNoRequest)
	assert.Equal(t, Kind(0), kindOf(err))

	recs := parseRecords(t, rwc.w.Bytes())
	require.Len(t, recs, 1)
	assert.Equal(t, TypeGetValuesResult, recs[0].Type)
	assert.Equal(t, uint16(0), recs[0].RequestID)
	assert.Equal(t, uint16(0), recs[0].ContentLength)
	assert.Equal(t, uint64(1), c.l.Stats().Management)
}

func TestReplyGetValuesWriteFailure(t *testing.T) {
	c, rwc := newTestConn(nil)
	rwc.failWrites = true
	c.keep = true
	c.replyGetValues()
	assert.False(t, c.KeepAlive())
}
