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
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/caiflower/fcgi-server/pkg/tools"
)

type appender struct {
	timeFormat  string
	enableTrace bool
	enableColor bool
	dir         string
	fileName    string
	maxSize     int64

	out      io.Writer
	logFile  *os.File
	filesize int64
	buf      strings.Builder
}

func newAppender(timeFormat, dir, fileName string, maxSize int64, enableTrace, enableColor bool) *appender {
	a := &appender{
		timeFormat:  timeFormat,
		enableTrace: enableTrace,
		enableColor: enableColor,
		dir:         dir,
		fileName:    fileName,
		maxSize:     maxSize,
		out:         os.Stdout,
	}

	if a.dir != "" {
		if err := tools.Mkdir(a.dir, 0755); err != nil {
			panic(fmt.Sprintf("[logger appender] mkdir err: %s\n", err))
		}
		a.openFile()
	}

	return a
}

func getMaxSize(maxSize string) int64 {
	if maxSize == "" {
		return 0
	}
	unit := int64(1)
	numStr := maxSize
	switch {
	case strings.HasSuffix(maxSize, "KB"):
		unit, numStr = 1024, strings.TrimSuffix(maxSize, "KB")
	case strings.HasSuffix(maxSize, "MB"):
		unit, numStr = 1024*1024, strings.TrimSuffix(maxSize, "MB")
	case strings.HasSuffix(maxSize, "GB"):
		unit, numStr = 1024*1024*1024, strings.TrimSuffix(maxSize, "GB")
	}
	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("[logger appender] maxSize unKnown %s", maxSize))
	}
	return num * unit
}

func (a *appender) openFile() {
	path := filepath.Join(a.dir, a.fileName)
	logfile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Errorf("[logger appender] open logfile err: %s\n", err))
	}
	a.logFile = logfile
	a.out = logfile
	if a.filesize, err = tools.FileSize(path); err != nil {
		fmt.Printf("[logger appender] get file size err: %s\n", err)
	}
}

// rolling 文件超过maxSize后重命名为 fileName-时间戳 并重新打开
func (a *appender) rolling() {
	if a.logFile == nil || a.maxSize <= 0 || a.filesize < a.maxSize {
		return
	}
	if err := a.logFile.Close(); err != nil {
		fmt.Printf("[logger appender] close logfile err: %s\n", err)
	}
	path := filepath.Join(a.dir, a.fileName)
	target := path + "-" + time.Now().Format("20060102150405")
	for i := 1; tools.FileExist(target); i++ {
		target = path + "-" + time.Now().Format("20060102150405") + "-" + strconv.Itoa(i)
	}
	if err := os.Rename(path, target); err != nil {
		fmt.Printf("[logger appender] rename logfile err: %s\n", err)
	}
	a.openFile()
}

func (a *appender) write(d data) {
	defer onError("[logger appender]")

	a.rolling()

	level := d.level
	if a.enableColor {
		level = getLevelColor(level)
	}
	a.buf.Reset()
	a.buf.WriteString(d.timestamp.Format(a.timeFormat))
	a.buf.WriteString(" [")
	a.buf.WriteString(level)
	a.buf.WriteString("] ")
	if a.enableTrace && d.traceID != "" {
		a.buf.WriteString("[")
		a.buf.WriteString(d.traceID)
		a.buf.WriteString("] ")
	}
	a.buf.WriteString(d.position)
	a.buf.WriteString(" - ")
	a.buf.WriteString(d.content)
	a.buf.WriteString("\n")

	n, err := io.WriteString(a.out, a.buf.String())
	if err != nil {
		fmt.Printf("[ERROR] - output err %s\n", err.Error())
	}
	a.filesize += int64(n)
}

func (a *appender) close() {
	if a.logFile != nil {
		if err := a.logFile.Sync(); err != nil {
			fmt.Printf("[logger close] sync log file err: %s\n", err)
		}
		if err := a.logFile.Close(); err != nil {
			fmt.Printf("[logger appender] close logfile err: %s\n", err)
		}
		a.logFile = nil
		a.out = io.Discard
	}
}

// 拦截panic
func onError(txt string) {
	if r := recover(); r != nil {
		fmt.Println(time.Now().Format(_timeFormat), "[ERROR] -", "Got a runtime error", txt, r, string(debug.Stack()))
	}
}
