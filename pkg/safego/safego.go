package safego

import (
	"github.com/caiflower/fcgi-server/pkg/e"
	golocalv1 "github.com/caiflower/fcgi-server/pkg/golocal/v1"
)

// Go 启动协程，继承调用方的traceID并拦截panic
func Go(fn func()) {
	traceID := golocalv1.GetTraceID()
	go func() {
		if traceID != "" {
			golocalv1.PutTraceID(traceID)
		}
		defer golocalv1.Clean()
		defer e.OnError("safeGo")

		fn()
	}()
}
