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
	"encoding/binary"
	"fmt"
)

// Record = Header(8) + content[contentLength] + padding[paddingLength]
// Header = version(1) + type(1) + requestId(2) + contentLength(2) + paddingLength(1) + reserved(1)

const (
	Version1 uint8 = 1

	HeaderLen           = 8
	BeginRequestBodyLen = 8
	EndRequestBodyLen   = 8

	// MaxRecordLength content+padding上限
	MaxRecordLength = 65535

	// maxChunk 直写记录的内容长度，保持8字节对齐
	maxChunk = 0xfff8

	flagKeepConn = 1

	// RoleEnvName 请求角色写入环境变量时使用的名称
	RoleEnvName = "FCGI_ROLE"
)

type RecordType uint8

const (
	TypeBeginRequest    RecordType = 1
	TypeAbortRequest    RecordType = 2
	TypeEndRequest      RecordType = 3
	TypeParams          RecordType = 4
	TypeStdin           RecordType = 5
	TypeStdout          RecordType = 6
	TypeStderr          RecordType = 7
	TypeData            RecordType = 8
	TypeGetValues       RecordType = 9
	TypeGetValuesResult RecordType = 10
)

func (t RecordType) String() string {
	switch t {
	case TypeBeginRequest:
		return "FCGI_BEGIN_REQUEST"
	case TypeAbortRequest:
		return "FCGI_ABORT_REQUEST"
	case TypeEndRequest:
		return "FCGI_END_REQUEST"
	case TypeParams:
		return "FCGI_PARAMS"
	case TypeStdin:
		return "FCGI_STDIN"
	case TypeStdout:
		return "FCGI_STDOUT"
	case TypeStderr:
		return "FCGI_STDERR"
	case TypeData:
		return "FCGI_DATA"
	case TypeGetValues:
		return "FCGI_GET_VALUES"
	case TypeGetValuesResult:
		return "FCGI_GET_VALUES_RESULT"
	default:
		return fmt.Sprintf("FCGI_UNKNOWN_TYPE(%d)", uint8(t))
	}
}

type Role uint16

const (
	RoleResponder  Role = 1
	RoleAuthorizer Role = 2
	RoleFilter     Role = 3
)

func (r Role) String() string {
	switch r {
	case RoleResponder:
		return "RESPONDER"
	case RoleAuthorizer:
		return "AUTHORIZER"
	case RoleFilter:
		return "FILTER"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(r))
	}
}

func (r Role) valid() bool {
	return r >= RoleResponder && r <= RoleFilter
}

type ProtocolStatus uint8

const (
	StatusRequestComplete ProtocolStatus = iota
	StatusCantMultiplex
	StatusOverloaded
	StatusUnknownRole
)

type Header struct {
	Version       uint8
	Type          RecordType
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
	Reserved      uint8
}

// NewHeader 构造header，padding补齐到8的倍数
func NewHeader(t RecordType, requestID uint16, contentLength int) Header {
	return Header{
		Version:       Version1,
		Type:          t,
		RequestID:     requestID,
		ContentLength: uint16(contentLength),
		PaddingLength: uint8(paddingFor(contentLength)),
	}
}

func paddingFor(n int) int {
	return ((n + 7) &^ 7) - n
}

// BodyLen content+padding
func (h Header) BodyLen() int {
	return int(h.ContentLength) + int(h.PaddingLength)
}

func (h Header) AppendTo(dst []byte) []byte {
	return append(dst,
		h.Version,
		byte(h.Type),
		byte(h.RequestID>>8), byte(h.RequestID),
		byte(h.ContentLength>>8), byte(h.ContentLength),
		h.PaddingLength,
		h.Reserved,
	)
}

// putLength 回填已写入header的内容长度和padding
func putLength(hdr []byte, contentLength int) {
	binary.BigEndian.PutUint16(hdr[4:6], uint16(contentLength))
	hdr[6] = uint8(paddingFor(contentLength))
}

func DecodeHeader(b []byte) Header {
	_ = b[HeaderLen-1]
	return Header{
		Version:       b[0],
		Type:          RecordType(b[1]),
		RequestID:     binary.BigEndian.Uint16(b[2:4]),
		ContentLength: binary.BigEndian.Uint16(b[4:6]),
		PaddingLength: b[6],
		Reserved:      b[7],
	}
}

type BeginRequestBody struct {
	Role  Role
	Flags uint8
}

func (b BeginRequestBody) KeepConn() bool {
	return b.Flags&flagKeepConn != 0
}

func (b BeginRequestBody) AppendTo(dst []byte) []byte {
	return append(dst, byte(b.Role>>8), byte(b.Role), b.Flags, 0, 0, 0, 0, 0)
}

func DecodeBeginRequest(b []byte) BeginRequestBody {
	_ = b[BeginRequestBodyLen-1]
	return BeginRequestBody{
		Role:  Role(binary.BigEndian.Uint16(b[0:2])),
		Flags: b[2],
	}
}

type EndRequestBody struct {
	AppStatus      uint32
	ProtocolStatus ProtocolStatus
}

func (b EndRequestBody) AppendTo(dst []byte) []byte {
	return append(dst,
		byte(b.AppStatus>>24), byte(b.AppStatus>>16), byte(b.AppStatus>>8), byte(b.AppStatus),
		byte(b.ProtocolStatus), 0, 0, 0,
	)
}

func DecodeEndRequest(b []byte) EndRequestBody {
	_ = b[EndRequestBodyLen-1]
	return EndRequestBody{
		AppStatus:      binary.BigEndian.Uint32(b[0:4]),
		ProtocolStatus: ProtocolStatus(b[4]),
	}
}

// AppendRecord 追加一条完整记录，content不能超过65535字节
func AppendRecord(dst []byte, t RecordType, requestID uint16, content []byte) []byte {
	h := NewHeader(t, requestID, len(content))
	dst = h.AppendTo(dst)
	dst = append(dst, content...)
	return append(dst, make([]byte, h.PaddingLength)...)
}

type Pair struct {
	Name  string
	Value string
}

// AppendPair 编码一个name-value对，长度<128时占1字节，否则占4字节且最高位为1
func AppendPair(dst []byte, name, value string) []byte {
	dst = appendLength(dst, len(name))
	dst = appendLength(dst, len(value))
	dst = append(dst, name...)
	return append(dst, value...)
}

func appendLength(dst []byte, n int) []byte {
	if n < 128 {
		return append(dst, byte(n))
	}
	return append(dst, byte(n>>24)|0x80, byte(n>>16), byte(n>>8), byte(n))
}

// readLength 返回长度和占用的字节数
func readLength(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrMalformedParams
	}
	if b[0] < 128 {
		return uint32(b[0]), 1, nil
	}
	if len(b) < 4 {
		return 0, 0, ErrMalformedParams
	}
	return binary.BigEndian.Uint32(b[:4]) & 0x7fffffff, 4, nil
}

// DecodePairs 解码一条params记录的全部内容，任何一个pair不合法则整体失败
func DecodePairs(b []byte) ([]Pair, error) {
	var pairs []Pair
	for len(b) > 0 {
		nameLen, n, err := readLength(b)
		if err != nil {
			return nil, err
		}
		b = b[n:]
		valLen, n, err := readLength(b)
		if err != nil {
			return nil, err
		}
		b = b[n:]

		// 两个31位长度相加不会溢出uint64
		if uint64(nameLen)+uint64(valLen) > uint64(len(b)) {
			return nil, ErrMalformedParams
		}
		pairs = append(pairs, Pair{
			Name:  string(b[:nameLen]),
			Value: string(b[nameLen : nameLen+valLen]),
		})
		b = b[nameLen+valLen:]
	}
	return pairs, nil
}
