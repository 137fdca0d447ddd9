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

// Env 请求的环境变量，同名变量只保留第一次写入的值
type Env struct {
	values map[string]string
	names  []string
}

func NewEnv() *Env {
	return &Env{values: make(map[string]string)}
}

// Insert 不存在时插入，已存在时忽略
func (e *Env) Insert(name, value string) {
	if _, ok := e.values[name]; ok {
		return
	}
	e.values[name] = value
	e.names = append(e.names, name)
}

func (e *Env) Lookup(name string) (string, bool) {
	v, ok := e.values[name]
	return v, ok
}

func (e *Env) Get(name string) string {
	return e.values[name]
}

func (e *Env) Len() int {
	return len(e.names)
}

// Range 按插入顺序遍历，fn返回false时停止
func (e *Env) Range(fn func(name, value string) bool) {
	for _, name := range e.names {
		if !fn(name, e.values[name]) {
			return
		}
	}
}

// Map 返回一份拷贝
func (e *Env) Map() map[string]string {
	m := make(map[string]string, len(e.values))
	for k, v := range e.values {
		m[k] = v
	}
	return m
}

func (e *Env) Clear() {
	for k := range e.values {
		delete(e.values, k)
	}
	e.names = e.names[:0]
}
