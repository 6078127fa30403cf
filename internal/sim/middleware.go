package sim

import (
	"net/http"

	"github.com/xinkaiwang/chunkmgr/kcommon"
	"github.com/xinkaiwang/chunkmgr/kerror"
	"github.com/xinkaiwang/chunkmgr/klogging"
	"github.com/xinkaiwang/chunkmgr/util/json"
)

// ErrorHandlingMiddleware 统一错误处理：handler 里 panic 出来的 kerror
// 在这里恢复，ErrorCode 映射为 HTTP 状态码，错误信息以 JSON 返回。
func ErrorHandlingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		startMs := kcommon.GetMonoTimeMs()
		defer func() {
			elapsedMs := kcommon.GetMonoTimeMs() - startMs
			if err := recover(); err != nil {
				logger := klogging.Error(r.Context()).
					With("path", r.URL.Path).
					With("elapsedMs", elapsedMs)
				var ke *kerror.Kerror
				switch v := err.(type) {
				case *kerror.Kerror:
					ke = v
					logger.WithError(ke)
				case error:
					ke = kerror.Wrap(v, "InternalServerError", v.Error(), false).
						WithErrorCode(kerror.EC_UNKNOWN)
					logger.WithError(ke)
				default:
					ke = kerror.Create("UnknownPanic", "unexpected panic with non-error value").
						WithErrorCode(kerror.EC_UNKNOWN)
					logger.With("panicValue", v)
				}
				logger.Log("PanicRecovered", "panic recovered in http handler")

				w.WriteHeader(ke.ErrorCode.ToHttpErrorCode())
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error": ke.Type,
					"msg":   ke.Msg,
					"code":  ke.ErrorCode,
				})
			}
		}()

		next.ServeHTTP(w, r)
	})
}
