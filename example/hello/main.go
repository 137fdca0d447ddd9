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
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/caiflower/fcgi-server/global"
	"github.com/caiflower/fcgi-server/global/config"
	"github.com/caiflower/fcgi-server/pkg/fcgi"
	"github.com/caiflower/fcgi-server/pkg/logger"
	"github.com/caiflower/fcgi-server/pkg/tools"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsAddr = flag.String("metrics", ":9100", "prometheus metrics listen address, empty to disable")
	probe       = flag.Bool("probe", false, "send one request to the configured endpoint and print the response")
	probePath   = flag.String("probe.path", "/", "SCRIPT_NAME of the probe request")
	probeBody   = flag.String("probe.body", "", "body of the probe request")
)

// response 返回给前端的json
type response struct {
	Role      string            `json:"role"`
	RequestID uint16            `json:"requestId"`
	KeepAlive bool              `json:"keepAlive"`
	BodyLen   int               `json:"bodyLen"`
	BodyMD5   string            `json:"bodyMd5"`
	Env       map[string]string `json:"env"`
}

func main() {
	flag.Parse()

	defaultConfig := config.DefaultConfig{}
	if err := config.LoadDefaultConfig(&defaultConfig); err != nil {
		fmt.Printf("load default config failed, use defaults. err: %s\n", err.Error())
		defaultConfig.FcgiConfig.SetDefaults()
	}
	logger.InitLogger(&defaultConfig.LoggerConfig)
	defer logger.DefaultLogger().Close()

	if *probe {
		if err := runProbe(&defaultConfig.FcgiConfig, *probePath, *probeBody); err != nil {
			logger.Error("probe failed. err: %s", err.Error())
			os.Exit(1)
		}
		return
	}

	server := fcgi.NewServer(&defaultConfig.FcgiConfig, hello)
	global.DefaultResourceManger.AddDaemon(server)
	if *metricsAddr != "" {
		global.DefaultResourceManger.AddDaemonWithOrder(newMetricsServer(*metricsAddr), 1)
	}
	global.DefaultResourceManger.Signal()
}

// hello 输出请求的环境变量和body摘要，前端支持时使用brotli压缩
func hello(c *fcgi.Conn) {
	if c.Role() == fcgi.RoleAuthorizer {
		_, _ = c.Printf("Status: 200 OK\r\n\r\n")
		return
	}

	body := c.Stdin()
	resp := response{
		Role:      c.Role().String(),
		RequestID: c.RequestID(),
		KeepAlive: c.KeepAlive(),
		BodyLen:   len(body),
		BodyMD5:   tools.MD5Bytes(body),
		Env:       c.Env().Map(),
	}

	data := []byte(tools.ToJson(resp))
	header := "Content-Type: application/json\r\n"
	if strings.Contains(c.Getenv("HTTP_ACCEPT_ENCODING"), "br") {
		compressed, err := tools.Brotli(data)
		if err != nil {
			logger.Warn("brotli compress failed. err: %s", err.Error())
		} else {
			data = compressed
			header += "Content-Encoding: br\r\n"
		}
	}
	if _, err := c.Printf("%sContent-Length: %d\r\n\r\n", header, len(data)); err != nil {
		return
	}
	if _, err := c.Write(data); err != nil {
		_, _ = fmt.Fprintf(c.Stderr(), "write response failed: %s", err.Error())
	}
}

type metricsServer struct {
	server *http.Server
}

func newMetricsServer(addr string) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &metricsServer{server: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}}
}

func (m *metricsServer) Name() string {
	return "METRICS"
}

func (m *metricsServer) Start() error {
	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped. err: %s", err.Error())
		}
	}()
	logger.Info("metrics server listening on %s", m.server.Addr)
	return nil
}

func (m *metricsServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.server.Shutdown(ctx)
}
