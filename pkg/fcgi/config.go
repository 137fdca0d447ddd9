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
	"reflect"
	"time"

	"github.com/caiflower/fcgi-server/pkg/logger"
	"github.com/caiflower/fcgi-server/pkg/tools"
)

const (
	defaultMaxStdin     = MaxRecordLength
	defaultDrainLimit   = 64 * 1024
	defaultDrainTimeout = time.Second

	// StatCronOff 关闭统计任务
	StatCronOff = "off"
)

type Config struct {
	Name         string        `yaml:"name" default:"fcgi"`
	// Path 非空时监听unix socket，忽略Host/Port
	Path         string        `yaml:"path"`
	// Host 空或*监听所有地址
	Host         string        `yaml:"host"`
	Port         uint16        `yaml:"port" default:"9000"`
	// MaxStdin 单个请求body上限
	MaxStdin     int           `yaml:"maxStdin" default:"65535"`
	// DrainLimit 优雅关闭时最多丢弃的入站字节
	DrainLimit   int           `yaml:"drainLimit" default:"65536"`
	// DrainTimeout 优雅关闭时等待对端的时间
	DrainTimeout time.Duration `yaml:"drainTimeout" default:"1s"`
	// ReadyTimeout 新连接等待可读的时间，0不限制
	ReadyTimeout time.Duration `yaml:"readyTimeout"`
	// Workers 并发acceptor数量
	Workers      int           `yaml:"workers" default:"1"`
	// AcceptRate 每秒accept周期上限，0不限制
	AcceptRate   int           `yaml:"acceptRate"`
	// StatCron 统计日志的cron表达式，off关闭
	StatCron     string        `yaml:"statCron" default:"@every 1m"`
}

// SetDefaults 填充default tag中的默认值
func (c *Config) SetDefaults() {
	tools.DoTagFunc(c, []func(reflect.StructField, reflect.Value){tools.SetDefaultValueIfNil})
}

func (c *Config) Endpoint() Endpoint {
	if c.Path != "" {
		return UnixEndpoint(c.Path)
	}
	return TCPEndpoint(c.Host, c.Port)
}

func (c *Config) Options() []Option {
	return []Option{
		WithName(c.Name),
		WithMaxStdin(c.MaxStdin),
		WithDrainLimit(c.DrainLimit),
		WithDrainTimeout(c.DrainTimeout),
		WithReadyTimeout(c.ReadyTimeout),
	}
}

type options struct {
	name         string
	logger       logger.ILog
	maxStdin     int
	drainLimit   int
	drainTimeout time.Duration
	readyTimeout time.Duration
}

type Option func(*options)

func defaultOptions() options {
	return options{
		name:         "fcgi",
		logger:       logger.DefaultLogger(),
		maxStdin:     defaultMaxStdin,
		drainLimit:   defaultDrainLimit,
		drainTimeout: defaultDrainTimeout,
	}
}

func WithLogger(l logger.ILog) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithName 用于日志和监控指标的名称
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

func WithMaxStdin(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxStdin = n
		}
	}
}

func WithDrainLimit(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.drainLimit = n
		}
	}
}

func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) {
		o.drainTimeout = d
	}
}

func WithReadyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.readyTimeout = d
	}
}
