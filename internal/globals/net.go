package globals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	lua "github.com/yuin/gopher-lua"

	"github.com/me/luart/internal/luavm"
	"github.com/me/luart/internal/runtime"
	"github.com/me/luart/internal/scheduler"
)

// maxResponseBody bounds how much of an HTTP response a script can pull into
// memory through net.request.
const maxResponseBody = 16 << 20

// Net exposes HTTP and JSON to scripts: outbound requests as asynchronous
// capabilities, an embedded server that injects handler tasks into the
// scheduler, and a JSON codec over the value conversion layer.
type Net struct {
	env    *runtime.Env
	client *http.Client
}

// NewNet creates the network capability module.
func NewNet() *Net { return &Net{client: &http.Client{}} }

func (n *Net) Name() string { return "net" }

func (n *Net) Register(env *runtime.Env) (lua.LValue, error) {
	n.env = env
	L := env.L()

	tbl := L.NewTable()
	request, err := env.Async(n.request)
	if err != nil {
		return nil, fmt.Errorf("wrap net.request: %w", err)
	}
	tbl.RawSetString("request", request)
	tbl.RawSetString("jsonEncode", L.NewFunction(n.jsonEncode))
	tbl.RawSetString("jsonDecode", L.NewFunction(n.jsonDecode))
	tbl.RawSetString("serve", L.NewFunction(n.serve))
	return tbl, nil
}

// requestSpec is the decoded argument of net.request: either a bare URL
// string or a table with url, method, headers, and body fields.
type requestSpec struct {
	url     string
	method  string
	headers map[string]string
	body    string
}

func (n *Net) checkRequestSpec(L *lua.LState) requestSpec {
	spec := requestSpec{method: http.MethodGet}
	switch arg := L.Get(1).(type) {
	case lua.LString:
		spec.url = string(arg)
	case *lua.LTable:
		spec.url = lua.LVAsString(arg.RawGetString("url"))
		if m, ok := arg.RawGetString("method").(lua.LString); ok {
			spec.method = strings.ToUpper(string(m))
		}
		if h, ok := arg.RawGetString("headers").(*lua.LTable); ok {
			spec.headers = make(map[string]string)
			h.ForEach(func(k, v lua.LValue) {
				spec.headers[lua.LVAsString(k)] = lua.LVAsString(v)
			})
		}
		if b, ok := arg.RawGetString("body").(lua.LString); ok {
			spec.body = string(b)
		}
	default:
		L.ArgError(1, "string or table expected")
	}
	if spec.url == "" {
		L.ArgError(1, "request url missing")
	}
	return spec
}

// request performs an HTTP request. The calling task suspends; transport
// failures raise at the call site, while HTTP-level errors come back in the
// response table with ok=false. Suspending: installed through the async shim.
func (n *Net) request(L *lua.LState) int {
	spec := n.checkRequestSpec(L)

	ctx, cancel := context.WithTimeout(n.env.Sched.Context(), n.env.HTTPTimeout)
	p := n.env.Sched.RegisterPending(cancel)
	go func() {
		defer cancel()
		resp, err := n.doRequest(ctx, spec)
		if err != nil {
			p.Fail(err)
			return
		}
		p.Resolve(resp)
	}()
	return L.Yield()
}

func (n *Net) doRequest(ctx context.Context, spec requestSpec) (map[string]any, error) {
	var body io.Reader
	if spec.body != "" {
		body = strings.NewReader(spec.body)
	}
	req, err := http.NewRequestWithContext(ctx, spec.method, spec.url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range spec.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", spec.method, spec.url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	headers := make(map[string]any, len(resp.Header))
	for k, vs := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	message := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode)))
	return map[string]any{
		"ok":            resp.StatusCode >= 200 && resp.StatusCode < 300,
		"statusCode":    resp.StatusCode,
		"statusMessage": message,
		"headers":       headers,
		"body":          string(data),
	}, nil
}

// jsonEncode serializes a value to JSON. An optional second argument enables
// indented output.
func (n *Net) jsonEncode(L *lua.LState) int {
	v := luavm.ToGo(L.CheckAny(1))
	pretty := L.OptBool(2, false)

	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		L.RaiseError("jsonEncode: %s", err.Error())
	}
	L.Push(lua.LString(data))
	return 1
}

// jsonDecode parses a JSON document into tables, strings, numbers, and
// booleans.
func (n *Net) jsonDecode(L *lua.LState) int {
	var v any
	if err := json.Unmarshal([]byte(L.CheckString(1)), &v); err != nil {
		L.RaiseError("jsonDecode: %s", err.Error())
	}
	L.Push(luavm.ToLua(L, v))
	return 1
}

// serveReply is the handler outcome crossing back to the HTTP goroutine.
type serveReply struct {
	status  int
	headers map[string]string
	body    string
}

// serve starts an HTTP server on the given port. Each incoming request is
// injected into the scheduler as a new task running the handler function;
// the connection goroutine blocks until that task settles. Binding errors
// raise immediately. Returns a handle table with the bound port and a stop()
// function; port 0 picks a free port.
func (n *Net) serve(L *lua.LState) int {
	port := L.CheckInt(1)
	handler := L.CheckFunction(2)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		L.RaiseError("serve: %s", err.Error())
	}
	boundPort := ln.Addr().(*net.TCPAddr).Port

	runCtx := n.env.Sched.Context()
	router := chi.NewRouter()
	router.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		n.handleServeRequest(w, r, handler, runCtx)
	})
	srv := &http.Server{Handler: router}

	n.env.Sched.AddExternalSource()
	n.env.Logger.Info("http server listening", "addr", ln.Addr().String())
	go func() {
		if serr := srv.Serve(ln); serr != nil && serr != http.ErrServerClosed {
			n.env.Logger.Error("http server stopped", "error", serr)
		}
	}()

	stopped := false
	stop := func(L *lua.LState) int {
		if stopped {
			return 0
		}
		stopped = true
		srv.Close()
		n.env.Sched.RemoveExternalSource()
		n.env.Logger.Info("http server stopped", "addr", ln.Addr().String())
		return 0
	}

	h := L.NewTable()
	h.RawSetString("port", lua.LNumber(boundPort))
	h.RawSetString("stop", L.NewFunction(stop))
	L.Push(h)
	return 1
}

// handleServeRequest runs on the HTTP connection goroutine. It ships the
// request into the scheduler and waits for the handler task to settle.
func (n *Net) handleServeRequest(w http.ResponseWriter, r *http.Request, handler *lua.LFunction, runCtx context.Context) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	headers := make(map[string]any, len(r.Header))
	for k, vs := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	query := make(map[string]any)
	for k, vs := range r.URL.Query() {
		query[k] = strings.Join(vs, ", ")
	}
	req := map[string]any{
		"method":  r.Method,
		"path":    r.URL.Path,
		"query":   query,
		"headers": headers,
		"body":    string(body),
	}

	reply := make(chan serveReply, 1)
	n.env.Sched.SubmitExternal(func() {
		h := n.env.Sched.Spawn(n.env.VM.NewCoroutine(handler), []any{req})
		h.OnDone(func(state scheduler.State, results []any, err error) {
			reply <- handlerReply(state, results, err)
		})
	})

	select {
	case rep := <-reply:
		for k, v := range rep.headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(rep.status)
		io.WriteString(w, rep.body)
	case <-runCtx.Done():
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
	case <-r.Context().Done():
	}
}

// handlerReply converts a settled handler task into an HTTP response. A plain
// string result is a 200 text body; a table result may carry status, headers,
// and body fields; a failed or empty handler is a 500.
func handlerReply(state scheduler.State, results []any, err error) serveReply {
	if state != scheduler.StateCompleted || len(results) == 0 {
		msg := "handler failed"
		if err != nil {
			msg = err.Error()
		}
		return serveReply{status: http.StatusInternalServerError, body: msg}
	}

	switch res := results[0].(type) {
	case lua.LString:
		return serveReply{status: http.StatusOK, body: string(res)}
	case *lua.LTable:
		rep := serveReply{status: http.StatusOK}
		if s, ok := res.RawGetString("status").(lua.LNumber); ok {
			rep.status = int(s)
		}
		if b, ok := res.RawGetString("body").(lua.LString); ok {
			rep.body = string(b)
		}
		if h, ok := res.RawGetString("headers").(*lua.LTable); ok {
			rep.headers = make(map[string]string)
			h.ForEach(func(k, v lua.LValue) {
				rep.headers[lua.LVAsString(k)] = lua.LVAsString(v)
			})
		}
		return rep
	default:
		return serveReply{status: http.StatusInternalServerError, body: "handler returned unsupported response type"}
	}
}
