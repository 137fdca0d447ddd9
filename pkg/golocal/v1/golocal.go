//go:build go1.4
// +build go1.4

package v1

import (
	"sync"

	"github.com/modern-go/gls"
)

const (
	RequestID = "X-Request-ID"
)

// localMap goID -> *sync.Map，每个goroutine一份本地存储
var localMap sync.Map

func getMapByGoID(goID int64) *sync.Map {
	if value, ok := localMap.Load(goID); ok {
		return value.(*sync.Map)
	}
	value, _ := localMap.LoadOrStore(goID, &sync.Map{})
	return value.(*sync.Map)
}

func PutTraceID(value string) {
	Put(RequestID, value)
}

func GetTraceID() string {
	if v, ok := getMapByGoID(gls.GoID()).Load(RequestID); ok {
		return v.(string)
	}
	return ""
}

func Put(key string, value interface{}) {
	getMapByGoID(gls.GoID()).Store(key, value)
}

func Get(key string) interface{} {
	v, _ := getMapByGoID(gls.GoID()).Load(key)
	return v
}

// Clean goroutine退出前必须调用，否则本地存储不会被回收
func Clean() {
	localMap.Delete(gls.GoID())
}
