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
package pool

import (
	"fmt"
	"sync"
)

// DoFunc 使用poolSize个协程并发处理slices，全部处理完成后返回
func DoFunc[T any](poolSize int, fn func(T), slices ...T) error {
	if fn == nil {
		return fmt.Errorf("nil func error")
	}
	if len(slices) == 0 {
		return nil
	}

	waitGroup := sync.WaitGroup{}
	waitGroup.Add(len(slices))
	c := make(chan T, len(slices))
	for _, v := range slices {
		c <- v
	}
	close(c)

	if poolSize <= 0 || poolSize > len(slices) {
		poolSize = len(slices)
	}
	for i := 0; i < poolSize; i++ {
		go func() {
			for v := range c {
				fn(v)
				waitGroup.Done()
			}
		}()
	}

	waitGroup.Wait()
	return nil
}
