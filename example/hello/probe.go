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

package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/caiflower/fcgi-server/pkg/fcgi"
	"github.com/caiflower/fcgi-server/pkg/tools"
)

const probeRequestID = 1

// runProbe 作为前端发送一个请求，把stdout写到标准输出
func runProbe(cfg *fcgi.Config, path, body string) error {
	network, address := "tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Port)))
	if cfg.Path != "" {
		network, address = "unix", cfg.Path
	} else if cfg.Host == "" || cfg.Host == "*" {
		address = net.JoinHostPort("127.0.0.1", strconv.Itoa(int(cfg.Port)))
	}

	conn, err := net.DialTimeout(network, address, 5*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(30 * time.Second))

	if _, err = conn.Write(encodeRequest(path, []byte(body))); err != nil {
		return err
	}
	stdout, stderr, err := readResponse(bufio.NewReader(conn))
	if err != nil {
		return err
	}
	if len(stderr) > 0 {
		fmt.Fprintf(os.Stderr, "%s\n", stderr)
	}
	fmt.Printf("%s\n", stdout)
	fmt.Printf("body md5: %s\n", tools.MD5(body))
	return nil
}

func encodeRequest(path string, body []byte) []byte {
	begin := fcgi.BeginRequestBody{Role: fcgi.RoleResponder}.AppendTo(nil)
	b := fcgi.AppendRecord(nil, fcgi.TypeBeginRequest, probeRequestID, begin)

	var params []byte
	for _, p := range []fcgi.Pair{
		{Name: "REQUEST_METHOD", Value: "POST"},
		{Name: "SCRIPT_NAME", Value: path},
		{Name: "CONTENT_LENGTH", Value: strconv.Itoa(len(body))},
		{Name: "GATEWAY_INTERFACE", Value: "CGI/1.1"},
	} {
		params = fcgi.AppendPair(params, p.Name, p.Value)
	}
	b = fcgi.AppendRecord(b, fcgi.TypeParams, probeRequestID, params)
	b = fcgi.AppendRecord(b, fcgi.TypeParams, probeRequestID, nil)

	for len(body) > 0 {
		n := len(body)
		if n > fcgi.MaxRecordLength {
			n = fcgi.MaxRecordLength
		}
		b = fcgi.AppendRecord(b, fcgi.TypeStdin, probeRequestID, body[:n])
		body = body[n:]
	}
	return fcgi.AppendRecord(b, fcgi.TypeStdin, probeRequestID, nil)
}

// readResponse 读取记录直到end-request
func readResponse(r io.Reader) (stdout, stderr []byte, err error) {
	hdr := make([]byte, fcgi.HeaderLen)
	for {
		if _, err = io.ReadFull(r, hdr); err != nil {
			return nil, nil, err
		}
		h := fcgi.DecodeHeader(hdr)
		body := make([]byte, h.BodyLen())
		if _, err = io.ReadFull(r, body); err != nil {
			return nil, nil, err
		}
		content := body[:h.ContentLength]

		switch h.Type {
		case fcgi.TypeStdout:
			stdout = append(stdout, content...)
		case fcgi.TypeStderr:
			stderr = append(stderr, content...)
		case fcgi.TypeEndRequest:
			end := fcgi.DecodeEndRequest(content)
			if end.ProtocolStatus != fcgi.StatusRequestComplete {
				return stdout, stderr, fmt.Errorf("request not complete, protocol status %d", end.ProtocolStatus)
			}
			return stdout, stderr, nil
		}
	}
}
