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

package logger

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	golocalv1 "github.com/caiflower/fcgi-server/pkg/golocal/v1"
)

const (
	_trace = iota
	_debug
	_info
	_warn
	_error
	_fatal

	TraceLevel = "TRACE"
	DebugLevel = "DEBUG"
	InfoLevel  = "INFO"
	WarnLevel  = "WARN"
	ErrorLevel = "ERROR"
	FatalLevel = "FATAL"

	_timeFormat = "2006-01-02 15:04:05"
)

type ILog interface {
	Trace(text string, v ...interface{})
	Debug(text string, v ...interface{})
	Info(text string, v ...interface{})
	Warn(text string, v ...interface{})
	Error(text string, v ...interface{})
	Fatal(text string, v ...interface{})
}

type data struct {
	timestamp time.Time
	traceID   string
	position  string
	level     string
	content   string
}

type Config struct {
	Level       string `yaml:"level" default:"INFO"`        // 日志级别
	EnableTrace string `yaml:"trace"`                       // 是否输出TraceID, True/False。默认True
	QueueLength int    `yaml:"queueLength" default:"10000"` // 缓存队列大小
	TimeFormat  string `yaml:"timeFormat"`                  // 日志时间输出格式
	Path        string `yaml:"path"`                        // 日志存储目录，为空时输出到控制台
	FileName    string `yaml:"fileName" default:"fcgi.log"` // 日志文件名称
	MaxSize     string `yaml:"maxSize" default:"100MB"`     // 单个日志文件最大大小, 1MB, 10KB, 1GB
	EnableColor string `yaml:"color"`                       // 是否开启颜色
}

var defaultLogger = newLoggerHandler(&Config{})

func Trace(text string, v ...interface{}) {
	defaultLogger.log(TraceLevel, text, v...)
}
func Debug(text string, v ...interface{}) {
	defaultLogger.log(DebugLevel, text, v...)
}
func Info(text string, v ...interface{}) {
	defaultLogger.log(InfoLevel, text, v...)
}
func Warn(text string, v ...interface{}) {
	defaultLogger.log(WarnLevel, text, v...)
}
func Error(text string, v ...interface{}) {
	defaultLogger.log(ErrorLevel, text, v...)
}
func Fatal(text string, v ...interface{}) {
	defaultLogger.log(FatalLevel, text, v...)
}

type LoggerHandler struct {
	lock      sync.Mutex
	level     int
	dataQueue chan data
	appender  *appender
	wg        sync.WaitGroup
}

func DefaultLogger() *LoggerHandler {
	return defaultLogger
}

// InitLogger 替换默认logger，旧logger输出完剩余日志后关闭
func InitLogger(config *Config) {
	old := defaultLogger
	defaultLogger = newLoggerHandler(config)
	if old != nil {
		old.Close()
	}
}

func NewLogger(config *Config) *LoggerHandler {
	return newLoggerHandler(config)
}

func newLoggerHandler(config *Config) *LoggerHandler {
	if config.Level == "" {
		config.Level = InfoLevel
	}
	if config.QueueLength <= 0 {
		config.QueueLength = 10000
	}
	if config.TimeFormat == "" {
		config.TimeFormat = _timeFormat
	}
	if config.FileName == "" {
		config.FileName = "fcgi.log"
	}
	enableTrace := true
	if config.EnableTrace != "" {
		enableTrace, _ = strconv.ParseBool(config.EnableTrace)
	}
	enableColor := false
	if config.EnableColor != "" {
		enableColor, _ = strconv.ParseBool(config.EnableColor)
	}

	lh := &LoggerHandler{
		level:     getLevel(config.Level),
		dataQueue: make(chan data, config.QueueLength),
		appender:  newAppender(config.TimeFormat, config.Path, config.FileName, getMaxSize(config.MaxSize), enableTrace, enableColor),
	}

	// 单个输出协程，保证同一日志源的输出顺序
	lh.wg.Add(1)
	go func(queue chan data) {
		defer lh.wg.Done()
		for d := range queue {
			lh.appender.write(d)
		}
	}(lh.dataQueue)

	return lh
}

// Close 等待队列中的日志全部输出后关闭
func (lh *LoggerHandler) Close() {
	lh.lock.Lock()
	if lh.dataQueue != nil {
		close(lh.dataQueue)
		lh.dataQueue = nil
	}
	lh.lock.Unlock()

	lh.wg.Wait()
	lh.appender.close()
}

func (lh *LoggerHandler) Trace(text string, v ...interface{}) {
	lh.log(TraceLevel, text, v...)
}

func (lh *LoggerHandler) Debug(text string, v ...interface{}) {
	lh.log(DebugLevel, text, v...)
}

func (lh *LoggerHandler) Info(text string, v ...interface{}) {
	lh.log(InfoLevel, text, v...)
}

func (lh *LoggerHandler) Warn(text string, v ...interface{}) {
	lh.log(WarnLevel, text, v...)
}

func (lh *LoggerHandler) Error(text string, v ...interface{}) {
	lh.log(ErrorLevel, text, v...)
}

func (lh *LoggerHandler) Fatal(text string, v ...interface{}) {
	lh.log(FatalLevel, text, v...)
}

func getLevel(level string) int {
	switch level {
	case TraceLevel:
		return _trace
	case DebugLevel:
		return _debug
	case InfoLevel:
		return _info
	case WarnLevel:
		return _warn
	case ErrorLevel:
		return _error
	case FatalLevel:
		return _fatal
	default:
		return _trace
	}
}

func getLevelColor(level string) string {
	switch level {
	case TraceLevel:
		return "\033[1;37m" + level + "\033[0m"
	case DebugLevel:
		return "\033[1;36m" + level + "\033[0m"
	case InfoLevel:
		return "\033[1;32m" + level + "\033[0m"
	case WarnLevel:
		return "\033[1;33m" + level + "\033[0m"
	case ErrorLevel, FatalLevel:
		return "\033[1;31m" + level + "\033[0m"
	default:
		return level
	}
}

func (lh *LoggerHandler) log(level string, text string, v ...interface{}) {
	if lh.level > getLevel(level) {
		return
	}

	_, file, line, _ := runtime.Caller(2)
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			file = file[i+1:]
			break
		}
	}

	d := data{
		timestamp: time.Now(),
		level:     level,
		content:   fmt.Sprintf(text, v...),
		traceID:   golocalv1.GetTraceID(),
		position:  file + ":" + strconv.Itoa(line),
	}

	lh.lock.Lock()
	defer lh.lock.Unlock()
	if lh.dataQueue != nil {
		lh.dataQueue <- d
	}
}
