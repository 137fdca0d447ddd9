package logger

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	golocalv1 "github.com/caiflower/fcgi-server/pkg/golocal/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerStdOut(t *testing.T) {
	logger := newLoggerHandler(&Config{
		Level:       TraceLevel,
		EnableTrace: "True",
	})
	group := sync.WaitGroup{}

	for i := 1; i <= 10; i++ {
		group.Add(1)
		go func(i int) {
			defer group.Done()
			golocalv1.PutTraceID("lt-" + strconv.Itoa(i))
			defer golocalv1.Clean()
			logger.Trace("trace" + strconv.Itoa(i))
			logger.Debug("debug" + strconv.Itoa(i))
			logger.Info("info" + strconv.Itoa(i))
			logger.Warn("warn" + strconv.Itoa(i))
			logger.Error("error" + strconv.Itoa(i))
			logger.Fatal("fatal" + strconv.Itoa(i))
		}(i)
	}

	group.Wait()
	logger.Close()
}

func TestLoggerFileOut(t *testing.T) {
	dir := t.TempDir()
	logger := newLoggerHandler(&Config{
		Level:       WarnLevel,
		EnableTrace: "True",
		Path:        dir,
		FileName:    "test.log",
	})

	golocalv1.PutTraceID("file-trace")
	defer golocalv1.Clean()
	logger.Info("dropped %d", 1)
	logger.Warn("kept %d", 2)
	logger.Close()

	content, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(content), "dropped 1")
	assert.Contains(t, string(content), "kept 2")
	assert.Contains(t, string(content), "[file-trace]")
	assert.Contains(t, string(content), "[WARN]")
}

func TestLoggerRolling(t *testing.T) {
	dir := t.TempDir()
	logger := newLoggerHandler(&Config{
		Level:    TraceLevel,
		Path:     dir,
		FileName: "roll.log",
		MaxSize:  "1KB",
	})

	for i := 0; i < 200; i++ {
		logger.Info("rolling line %s", strings.Repeat("x", 32))
	}
	logger.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Greater(t, len(entries), 1)
}

func TestGetMaxSize(t *testing.T) {
	assert.Equal(t, int64(0), getMaxSize(""))
	assert.Equal(t, int64(10*1024), getMaxSize("10KB"))
	assert.Equal(t, int64(2*1024*1024), getMaxSize("2MB"))
	assert.Equal(t, int64(1024*1024*1024), getMaxSize("1GB"))
	assert.Equal(t, int64(512), getMaxSize("512"))
	assert.Panics(t, func() { getMaxSize("tenMB") })
}

func closeWithin(t *testing.T, lh *LoggerHandler, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		lh.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("logger Close blocked")
	}
}

func TestLoggerCloseImmediately(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 20; i++ {
		// 输出协程可能还未开始运行
		closeWithin(t, newLoggerHandler(&Config{Path: dir, FileName: "close.log"}), 2*time.Second)
	}
}

func TestInitLoggerClosesPrevious(t *testing.T) {
	dir := t.TempDir()
	saved := defaultLogger
	old := newLoggerHandler(&Config{Path: dir, FileName: "old.log"})
	defaultLogger = old
	defer func() {
		current := defaultLogger
		defaultLogger = saved
		closeWithin(t, current, 2*time.Second)
	}()

	old.Warn("before %s", "init")
	InitLogger(&Config{Path: dir, FileName: "new.log"})
	assert.NotSame(t, old, DefaultLogger())

	old.lock.Lock()
	assert.Nil(t, old.dataQueue)
	old.lock.Unlock()

	content, err := os.ReadFile(filepath.Join(dir, "old.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "before init")
}
