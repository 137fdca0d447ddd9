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
	"time"

	"github.com/caiflower/fcgi-server/global/env"
	"github.com/prometheus/client_golang/prometheus"
)

var acceptedCount *prometheus.CounterVec              //accept的连接数
var requestCount *prometheus.CounterVec               //解析成功的请求数
var failureCount *prometheus.CounterVec               //失败次数
var managementCount *prometheus.CounterVec            //管理记录数
var writtenBytes *prometheus.CounterVec               //输出字节数
var requestDurationHistogram *prometheus.HistogramVec //请求处理耗时

func init() {
	constLabels := prometheus.Labels{"ip": env.GetLocalHostIP()}
	acceptedCount = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fcgi_accepted_count", Help: "Number of connections accepted by fcgi listener", ConstLabels: constLabels}, []string{"name"})
	requestCount = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fcgi_request_count", Help: "Number of requests decoded by fcgi listener", ConstLabels: constLabels}, []string{"name", "role"})
	failureCount = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fcgi_failure_count", Help: "Number of failed fcgi request cycles and writes", ConstLabels: constLabels}, []string{"name", "kind"})
	managementCount = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fcgi_management_count", Help: "Number of management records answered", ConstLabels: constLabels}, []string{"name"})
	writtenBytes = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "fcgi_written_bytes", Help: "Number of response bytes written by stream", ConstLabels: constLabels}, []string{"name", "stream"})
	requestDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "fcgi_request_duration_ms", Help: "Histogram of fcgi request durations in milliseconds.", Buckets: []float64{20, 50, 100, 200, 500, 1000, 2000, 5000, 10000}, ConstLabels: constLabels}, []string{"name", "role"})
	_ = prometheus.Register(acceptedCount)
	_ = prometheus.Register(requestCount)
	_ = prometheus.Register(failureCount)
	_ = prometheus.Register(managementCount)
	_ = prometheus.Register(writtenBytes)
	_ = prometheus.Register(requestDurationHistogram)
}

func countAccepted(name string) {
	acceptedCount.WithLabelValues(name).Inc()
}

func countRequest(name string, role Role) {
	requestCount.WithLabelValues(name, role.String()).Inc()
}

func countFailure(name string, err error) {
	failureCount.WithLabelValues(name, kindOf(err).String()).Inc()
}

func countManagement(name string) {
	managementCount.WithLabelValues(name).Inc()
}

func countWritten(name string, t RecordType, n int) {
	writtenBytes.WithLabelValues(name, t.String()).Add(float64(n))
}

func observeRequest(name string, role Role, begin time.Time) {
	if begin.IsZero() {
		return
	}
	requestDurationHistogram.WithLabelValues(name, role.String()).Observe(float64(time.Since(begin).Milliseconds()))
}
