package sim

import (
	"net/http"

	"github.com/xinkaiwang/chunkmgr/internal/config"
	"github.com/xinkaiwang/chunkmgr/kerror"
	"github.com/xinkaiwang/chunkmgr/klogging"
	"github.com/xinkaiwang/chunkmgr/krunloop"
	"github.com/xinkaiwang/chunkmgr/util/json"
)

// Handler 处理诊断 HTTP 请求。所有查询都通过 run loop 事件读取状态，
// 避免与训练 step 并发访问。
type Handler struct {
	memCfg config.MemConfig
	simCfg SimConfig
	poster krunloop.EventPoster[*TrainSim]
}

func NewHandler(memCfg config.MemConfig, simCfg SimConfig, poster krunloop.EventPoster[*TrainSim]) *Handler {
	return &Handler{
		memCfg: memCfg,
		simCfg: simCfg,
		poster: poster,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/api/usage", ErrorHandlingMiddleware(http.HandlerFunc(h.UsageHandler)))
	mux.Handle("/api/config", ErrorHandlingMiddleware(http.HandlerFunc(h.ConfigHandler)))
	mux.Handle("/api/dump", ErrorHandlingMiddleware(http.HandlerFunc(h.DumpHandler)))
}

// UsageHandler 处理 /api/usage 请求
func (h *Handler) UsageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		panic(kerror.Create("MethodNotAllowed", "only GET is allowed").
			WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
	event := NewQueryEvent()
	h.poster.PostEvent(event)
	snapshot := <-event.RespChan

	klogging.Verbose(r.Context()).
		With("iteration", snapshot.Iteration).
		With("step", snapshot.Step).
		Log("UsageRequest", "")

	w.Header().Set("Content-Type", "application/json")
	writeJson(w, snapshot)
}

// ConfigHandler 处理 /api/config 请求
func (h *Handler) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"mem": h.memCfg,
		"sim": h.simCfg,
	}
	w.Header().Set("Content-Type", "application/json")
	writeJson(w, resp)
}

// DumpHandler 处理 /api/dump 请求：warm-up 用量曲线的纯文本 dump
func (h *Handler) DumpHandler(w http.ResponseWriter, r *http.Request) {
	event := NewDumpEvent()
	h.poster.PostEvent(event)
	text := <-event.RespChan

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(text))
}

func writeJson(w http.ResponseWriter, obj interface{}) {
	encoded, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		panic(kerror.Wrap(err, "MarshalFailed", "cannot encode response", false).
			WithErrorCode(kerror.EC_INTERNAL_ERROR))
	}
	w.Write(encoded)
}
