package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type routeKey struct {
	handler string
	method  string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type httpCollector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	errors   map[routeKey]uint64
	latency  map[routeKey]*histogram
}

func newHTTPCollector() *httpCollector {
	return &httpCollector{
		requests: make(map[requestKey]uint64),
		errors:   make(map[routeKey]uint64),
		latency:  make(map[routeKey]*histogram),
	}
}

// ObserveHTTPRequest 记录一次 HTTP 请求的状态码与耗时。
func (r *Registry) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	r.http.observe(handler, method, status, duration)
}

// Middleware 包装 next，按 handler 名称记录请求指标。
func (r *Registry) Middleware(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		r.ObserveHTTPRequest(handler, req.Method, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (c *httpCollector) observe(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
	route := routeKey{handler: handler, method: method}
	if status >= 500 {
		c.errors[route]++
	}
	hist := c.latency[route]
	if hist == nil {
		hist = newHistogram()
		c.latency[route] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	return &histogram{buckets: buckets, counts: make([]uint64, len(buckets))}
}

// observe 累加落入的桶；超过最大桶的值只计入 +Inf（即 count）。
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

func (c *httpCollector) render(b *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqs := make([]requestKey, 0, len(c.requests))
	for key := range c.requests {
		reqs = append(reqs, key)
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].handler != reqs[j].handler {
			return reqs[i].handler < reqs[j].handler
		}
		if reqs[i].method != reqs[j].method {
			return reqs[i].method < reqs[j].method
		}
		return reqs[i].code < reqs[j].code
	})
	routes := make([]routeKey, 0, len(c.latency))
	for key := range c.latency {
		routes = append(routes, key)
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].handler != routes[j].handler {
			return routes[i].handler < routes[j].handler
		}
		return routes[i].method < routes[j].method
	})

	header(b, "aspec_http_requests_total", "counter", "Total number of HTTP requests processed.")
	for _, k := range reqs {
		fmt.Fprintf(b, "aspec_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(k.handler), escape(k.method), k.code, c.requests[k])
	}

	header(b, "aspec_http_request_errors_total", "counter", "Total number of HTTP requests that resulted in a server error.")
	for _, k := range routes {
		if n := c.errors[k]; n > 0 {
			fmt.Fprintf(b, "aspec_http_request_errors_total{handler=\"%s\",method=\"%s\"} %d\n",
				escape(k.handler), escape(k.method), n)
		}
	}

	header(b, "aspec_http_request_duration_seconds", "histogram", "HTTP request duration in seconds.")
	for _, k := range routes {
		h := c.latency[k]
		labels := fmt.Sprintf("handler=\"%s\",method=\"%s\"", escape(k.handler), escape(k.method))
		for idx, bound := range h.buckets {
			fmt.Fprintf(b, "aspec_http_request_duration_seconds_bucket{%s,le=\"%s\"} %d\n", labels, formatFloat(bound), h.counts[idx])
		}
		fmt.Fprintf(b, "aspec_http_request_duration_seconds_bucket{%s,le=\"+Inf\"} %d\n", labels, h.count)
		fmt.Fprintf(b, "aspec_http_request_duration_seconds_sum{%s} %s\n", labels, formatFloat(h.sum))
		fmt.Fprintf(b, "aspec_http_request_duration_seconds_count{%s} %d\n", labels, h.count)
	}
}

func header(b *strings.Builder, name, kind, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return strings.ReplaceAll(value, "\n", "")
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
