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
	"errors"
	"sync/atomic"

	"github.com/caiflower/fcgi-server/pkg/logger"
	"github.com/caiflower/fcgi-server/pkg/tools"
)

// Stats 监听器的累计计数
type Stats struct {
	Accepted        uint64 `json:"accepted"`
	Requests        uint64 `json:"requests"`
	Finished        uint64 `json:"finished"`
	Management      uint64 `json:"management"`
	ProtocolErrors  uint64 `json:"protocolErrors"`
	TransportErrors uint64 `json:"transportErrors"`
	ResourceErrors  uint64 `json:"resourceErrors"`
	WrittenBytes    uint64 `json:"writtenBytes"`
}

// Sub 两次快照的差值
func (s Stats) Sub(o Stats) Stats {
	return Stats{
		Accepted:        s.Accepted - o.Accepted,
		Requests:        s.Requests - o.Requests,
		Finished:        s.Finished - o.Finished,
		Management:      s.Management - o.Management,
		ProtocolErrors:  s.ProtocolErrors - o.ProtocolErrors,
		TransportErrors: s.TransportErrors - o.TransportErrors,
		ResourceErrors:  s.ResourceErrors - o.ResourceErrors,
		WrittenBytes:    s.WrittenBytes - o.WrittenBytes,
	}
}

type stats struct {
	accepted        uint64
	requests        uint64
	finished        uint64
	management      uint64
	protocolErrors  uint64
	transportErrors uint64
	resourceErrors  uint64
	writtenBytes    uint64
}

func (s *stats) addAccepted() {
	atomic.AddUint64(&s.accepted, 1)
}

func (s *stats) addRequest() {
	atomic.AddUint64(&s.requests, 1)
}

func (s *stats) addManagement() {
	atomic.AddUint64(&s.management, 1)
}

func (s *stats) addWritten(n int) {
	atomic.AddUint64(&s.writtenBytes, uint64(n))
}

func (s *stats) addFailure(err error) {
	switch kindOf(err) {
	case KindProtocol:
		atomic.AddUint64(&s.protocolErrors, 1)
	case KindTransport:
		atomic.AddUint64(&s.transportErrors, 1)
	case KindResource:
		atomic.AddUint64(&s.resourceErrors, 1)
	}
}

// finish 重复结束的请求不计数
func (s *stats) finish(err error) {
	if errors.Is(err, ErrAlreadyFinalized) {
		return
	}
	atomic.AddUint64(&s.finished, 1)
	if err != nil {
		s.addFailure(err)
	}
}

func (s *stats) snapshot() Stats {
	return Stats{
		Accepted:        atomic.LoadUint64(&s.accepted),
		Requests:        atomic.LoadUint64(&s.requests),
		Finished:        atomic.LoadUint64(&s.finished),
		Management:      atomic.LoadUint64(&s.management),
		ProtocolErrors:  atomic.LoadUint64(&s.protocolErrors),
		TransportErrors: atomic.LoadUint64(&s.transportErrors),
		ResourceErrors:  atomic.LoadUint64(&s.resourceErrors),
		WrittenBytes:    atomic.LoadUint64(&s.writtenBytes),
	}
}

func (l *Listener) Stats() Stats {
	return l.stats.snapshot()
}

// statJob 定时输出监听器在上一个周期内的计数
type statJob struct {
	name   string
	l      *Listener
	logger logger.ILog
	last   Stats
}

func newStatJob(name string, l *Listener) *statJob {
	return &statJob{name: name, l: l, logger: l.logger, last: l.Stats()}
}

func (j *statJob) Run() {
	cur := j.l.Stats()
	delta := cur.Sub(j.last)
	j.last = cur
	j.logger.Info("[fcgi] %s stat: %s, conns=%d", j.name, tools.ToJson(delta), j.l.ConnCount())
}
