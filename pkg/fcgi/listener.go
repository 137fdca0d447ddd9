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
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/caiflower/fcgi-server/pkg/logger"
	"github.com/caiflower/fcgi-server/pkg/syncx"
	"github.com/caiflower/fcgi-server/pkg/tools"
)

const (
	// maxUnixPath sockaddr_un.sun_path的长度
	maxUnixPath = 108
	maxFQDNLen  = 255
)

// lookupIP 测试中可替换
var lookupIP = func(ctx context.Context, host string) ([]net.IP, error) {
	return net.DefaultResolver.LookupIP(ctx, "ip4", host)
}

// Endpoint 监听地址：unix socket路径或IPv4 host:port
type Endpoint struct {
	path string
	host string
	port uint16
	unix bool
}

func UnixEndpoint(path string) Endpoint {
	return Endpoint{path: path, unix: true}
}

// TCPEndpoint host为空或*时监听所有地址
func TCPEndpoint(host string, port uint16) Endpoint {
	return Endpoint{host: host, port: port}
}

func (ep Endpoint) IsUnix() bool {
	return ep.unix
}

func (ep Endpoint) String() string {
	if ep.unix {
		return "unix:" + ep.path
	}
	return "tcp:" + net.JoinHostPort(ep.host, strconv.Itoa(int(ep.port)))
}

// resolve 返回network和可直接监听的address
func (ep Endpoint) resolve(ctx context.Context) (string, string, error) {
	if ep.unix {
		if len(ep.path) >= maxUnixPath {
			return "", "", ErrPathTooLong
		}
		return "unix", ep.path, nil
	}

	port := strconv.Itoa(int(ep.port))
	if ep.host == "" || ep.host == "*" {
		return "tcp4", net.JoinHostPort(net.IPv4zero.String(), port), nil
	}
	if ip := net.ParseIP(ep.host); ip != nil {
		if ip.To4() == nil {
			return "", "", fmt.Errorf("%w: %s is not an IPv4 address", ErrResolve, ep.host)
		}
		return "tcp4", net.JoinHostPort(ip.String(), port), nil
	}
	if len(ep.host) > maxFQDNLen {
		return "", "", fmt.Errorf("%w: host name too long", ErrResolve)
	}

	ips, err := lookupIP(ctx, ep.host)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s: %v", ErrResolve, ep.host, err)
	}
	if len(ips) != 1 {
		return "", "", fmt.Errorf("%w: %s resolves to %d addresses", ErrResolve, ep.host, len(ips))
	}
	return "tcp4", net.JoinHostPort(ips[0].String(), port), nil
}

// Listener 监听socket，同一时刻默认acceptor只持有一条连接
type Listener struct {
	endpoint Endpoint
	ln       net.Listener
	opts     options
	logger   logger.ILog
	stats    *stats

	acceptor *Acceptor
	lock     sync.Locker
	conns    map[*Conn]struct{}
	closed   int32
}

func ListenUnix(path string, opts ...Option) (*Listener, error) {
	return Listen(UnixEndpoint(path), opts...)
}

func ListenTCP(host string, port uint16, opts ...Option) (*Listener, error) {
	return Listen(TCPEndpoint(host, port), opts...)
}

// Listen 创建并监听socket，同时安装进程级信号处理（见setupSignals）。
// 注意：SIGPIPE被忽略后，调用方此前通过signal.Notify订阅的SIGPIPE也不再投递；
// 需要自行处理SIGPIPE的进程应在Listen之后重新Notify。
func Listen(ep Endpoint, opts ...Option) (*Listener, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	network, address, err := ep.resolve(context.Background())
	if err != nil {
		o.logger.Error("[fcgi] resolve %s err: %s", ep, err.Error())
		return nil, err
	}
	if ep.unix {
		if err = tools.RemoveIfExist(address); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBind, address, err)
		}
	}

	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(context.Background(), network, address)
	if err != nil {
		o.logger.Error("[fcgi] listen %s err: %s", ep, err.Error())
		return nil, fmt.Errorf("%w: %s: %v", ErrBind, address, err)
	}

	setupSignals()

	l := &Listener{
		endpoint: ep,
		ln:       ln,
		opts:     o,
		logger:   o.logger,
		stats:    &stats{},
		lock:     syncx.NewSpinLock(),
		conns:    make(map[*Conn]struct{}),
	}
	l.acceptor = l.NewAcceptor()
	l.logger.Info("[fcgi] listening on %s (%s)", ep, ln.Addr())
	return l, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) Endpoint() Endpoint {
	return l.endpoint
}

// Accept 阻塞直到得到一个完整的请求，见 Acceptor.Accept
func (l *Listener) Accept() (*Conn, error) {
	return l.acceptor.Accept()
}

// NewAcceptor 共享同一个socket的独立acceptor，每个只能在一个协程中使用
func (l *Listener) NewAcceptor() *Acceptor {
	return &Acceptor{l: l}
}

// Close 关闭监听socket，并关闭所有未结束的连接
func (l *Listener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	err := l.ln.Close()

	l.lock.Lock()
	for c := range l.conns {
		_ = c.rwc.Close()
	}
	l.lock.Unlock()

	l.logger.Info("[fcgi] listener %s closed", l.endpoint)
	return err
}

func (l *Listener) isClosed() bool {
	return atomic.LoadInt32(&l.closed) == 1
}

func (l *Listener) addConn(c *Conn) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.conns[c] = struct{}{}
}

func (l *Listener) removeConn(c *Conn) {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.conns, c)
}

func (l *Listener) ConnCount() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.conns)
}

var signalOnce sync.Once

// setupSignals 修改进程级信号处理，整个进程只执行一次：
// SIGTERM直接退出进程；SIGPIPE在未被忽略时忽略，写已关闭的对端只返回错误。
// 已通过signal.Notify订阅SIGPIPE的调用方无法被识别。
func setupSignals() {
	signalOnce.Do(func() {
		term := make(chan os.Signal, 1)
		signal.Notify(term, syscall.SIGTERM)
		go func() {
			<-term
			os.Exit(0)
		}()

		if !signal.Ignored(syscall.SIGPIPE) {
			signal.Ignore(syscall.SIGPIPE)
		}
	})
}
