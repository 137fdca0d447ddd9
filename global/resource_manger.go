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

package global

import (
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/caiflower/fcgi-server/pkg/logger"
	"github.com/caiflower/fcgi-server/pkg/syncx"
)

// DefaultResourceManger
// 用于守护进程的优雅退出，如FastCGI Server、定时任务、日志。
// SIGTERM由fcgi监听器处理，进程直接退出。

type Resource interface {
	Close()
}

type DaemonResource interface {
	Resource
	Name() string
	Start() error
}

const (
	defaultDaemonOrder   = 100000
	defaultResourceOrder = 1000000000
)

type orderedResource struct {
	resource Resource
	daemon   DaemonResource
	order    int
}

func (r *orderedResource) name() string {
	if r.daemon != nil {
		return r.daemon.Name()
	}
	return "resource"
}

func (r *orderedResource) start() error {
	if r.daemon != nil {
		return r.daemon.Start()
	}
	return nil
}

func (r *orderedResource) close() {
	if r.daemon != nil {
		r.daemon.Close()
	} else {
		r.resource.Close()
	}
}

type resourceManger struct {
	lock      sync.Locker
	resources []*orderedResource
	running   bool
	stop      chan os.Signal
}

var DefaultResourceManger = newResourceManger()

func newResourceManger() *resourceManger {
	return &resourceManger{lock: syncx.NewSpinLock(), stop: make(chan os.Signal, 1)}
}

func (rm *resourceManger) contains(v interface{}) bool {
	for _, r := range rm.resources {
		if (r.daemon != nil && r.daemon == v) || (r.resource != nil && r.resource == v) {
			return true
		}
	}
	return false
}

// Add 普通资源最先关闭
func (rm *resourceManger) Add(resource Resource) {
	rm.lock.Lock()
	defer rm.lock.Unlock()

	if rm.contains(resource) {
		return
	}
	rm.resources = append(rm.resources, &orderedResource{resource: resource, order: defaultResourceOrder})
}

// AddDaemonWithOrder order大的先启动、先关闭
func (rm *resourceManger) AddDaemonWithOrder(daemon DaemonResource, order int) {
	rm.lock.Lock()
	defer rm.lock.Unlock()

	if rm.contains(daemon) {
		return
	}
	rm.resources = append(rm.resources, &orderedResource{daemon: daemon, order: order})
}

func (rm *resourceManger) AddDaemon(daemon DaemonResource) {
	rm.AddDaemonWithOrder(daemon, defaultDaemonOrder)
}

// Signal 启动所有守护资源，阻塞直到收到SIGINT/SIGHUP/SIGQUIT后依次关闭
func (rm *resourceManger) Signal() {
	if !rm.start() {
		return
	}
	signal.Notify(rm.stop, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(rm.stop)

	s := <-rm.stop
	logger.Info("Accept signal %s. The application is shutting down...", s)
	rm.destroy()
}

func (rm *resourceManger) start() bool {
	rm.lock.Lock()
	defer rm.lock.Unlock()
	if rm.running {
		return false
	}
	rm.running = true

	sort.SliceStable(rm.resources, func(i, j int) bool {
		return rm.resources[i].order > rm.resources[j].order
	})
	for _, r := range rm.resources {
		if err := r.start(); err != nil {
			logger.Fatal("Signal failed. Start '%s' resource failed. Error: %s", r.name(), err.Error())
		}
	}
	return true
}

func (rm *resourceManger) destroy() {
	rm.lock.Lock()
	defer rm.lock.Unlock()

	for _, r := range rm.resources {
		r.close()
	}
	rm.running = false
}
