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
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/caiflower/fcgi-server/pkg/crontab"
	"github.com/caiflower/fcgi-server/pkg/e"
	golocalv1 "github.com/caiflower/fcgi-server/pkg/golocal/v1"
	"github.com/caiflower/fcgi-server/pkg/limiter"
	"github.com/caiflower/fcgi-server/pkg/logger"
	"github.com/caiflower/fcgi-server/pkg/pool"
	"github.com/caiflower/fcgi-server/pkg/safego"
)

const acceptRetryInterval = 200 * time.Millisecond

// Handler 处理一个请求，返回后由Server调用Finish
type Handler func(c *Conn)

type IServer interface {
	Open() error
	Serve() error
	Close()
	Stats() Stats
}

// Server 在一个Listener上运行Workers个独立的acceptor
type Server struct {
	config   *Config
	handler  Handler
	logger   logger.ILog
	listener *Listener
	limiter  limiter.Limiter
	cron     *crontab.CronManger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed int32
}

func NewServer(config *Config, handler Handler) *Server {
	return NewServerWithLogger(config, logger.DefaultLogger(), handler)
}

func NewServerWithLogger(config *Config, logger logger.ILog, handler Handler) *Server {
	if logger == nil {
		panic("[fcgi] logger must not be nil. ")
	}
	if handler == nil {
		panic("[fcgi] handler must not be nil. ")
	}
	if config == nil {
		config = &Config{}
	}
	config.SetDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:  config,
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Server) Name() string {
	return "FCGI:" + s.config.Name
}

// Start 同Open，用于注册到资源管理器
func (s *Server) Start() error {
	return s.Open()
}

// Open 监听并在后台处理请求
func (s *Server) Open() error {
	if err := s.listen(); err != nil {
		return err
	}
	safego.Go(func() {
		_ = s.serve()
	})
	return nil
}

// Serve 监听并阻塞处理请求，直到Close
func (s *Server) Serve() error {
	if err := s.listen(); err != nil {
		return err
	}
	return s.serve()
}

func (s *Server) listen() error {
	if s.listener != nil {
		return errors.New("[fcgi] server already opened")
	}
	s.logger.Info("[fcgi] Open server %s on %s, workers=%d", s.config.Name, s.config.Endpoint(), s.config.Workers)

	l, err := Listen(s.config.Endpoint(), append(s.config.Options(), WithLogger(s.logger))...)
	if err != nil {
		s.logger.Error("[fcgi] Open server %s err: %s", s.config.Name, err.Error())
		return err
	}
	s.listener = l

	if s.config.AcceptRate > 0 {
		s.limiter = limiter.NewXTokenBucket(s.config.AcceptRate, s.config.AcceptRate)
	}
	if s.config.StatCron != "" && s.config.StatCron != StatCronOff {
		s.cron = crontab.NewCronTabManger(s.config.Name + "-stat")
		if _, err = s.cron.AddCronJob(s.config.StatCron, newStatJob(s.config.Name, l)); err != nil {
			_ = l.Close()
			s.listener = nil
			return err
		}
		s.cron.Start()
	}
	s.done = make(chan struct{})
	return nil
}

func (s *Server) serve() error {
	defer close(s.done)

	workers := make([]int, s.config.Workers)
	for i := range workers {
		workers[i] = i
	}
	return pool.DoFunc(len(workers), s.work, workers...)
}

func (s *Server) work(worker int) {
	golocalv1.PutTraceID(s.config.Name + "-acceptor")
	defer golocalv1.Clean()

	a := s.listener.NewAcceptor()
	defer a.Close()

	for {
		if s.limiter != nil && !s.limiter.TakeTokenWithContext(s.ctx) {
			s.logger.Info("[fcgi] worker %d stopped.", worker)
			return
		}

		c, err := a.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				s.logger.Info("[fcgi] worker %d stopped.", worker)
				return
			}
			s.logger.Error("[fcgi] worker %d accept err: %s", worker, err.Error())
			time.Sleep(acceptRetryInterval)
			continue
		}
		s.handle(c)
	}
}

func (s *Server) handle(c *Conn) {
	golocalv1.PutTraceID(c.ID())
	defer golocalv1.PutTraceID(s.config.Name + "-acceptor")

	handled := func() (ok bool) {
		defer e.OnErrorWith("fcgi handler", func(r interface{}) {
			_ = c.Close()
		})
		s.handler(c)
		return true
	}()
	if !handled {
		return
	}

	// handler自行调用Finish或者连接已关闭时忽略
	if err := c.Finish(); err != nil && !errors.Is(err, ErrAlreadyFinalized) && !errors.Is(err, ErrConnClosed) {
		s.logger.Warn("[fcgi] finish request %d err: %s", c.RequestID(), err.Error())
	}
}

func (s *Server) isClosed() bool {
	return atomic.LoadInt32(&s.closed) == 1
}

// Close 关闭监听和所有连接，等待worker退出
func (s *Server) Close() {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	s.logger.Info("[fcgi] Close server %s.", s.config.Name)

	s.cancel()
	if s.cron != nil {
		s.cron.Close()
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Warn("[fcgi] Close server %s err: %s", s.config.Name, err.Error())
		}
	}
	if s.done != nil {
		<-s.done
	}
	s.logger.Info("[fcgi] Close server %s success.", s.config.Name)
}

// Addr 未监听时返回nil
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Stats() Stats {
	if s.listener == nil {
		return Stats{}
	}
	return s.listener.Stats()
}
