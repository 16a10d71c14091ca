// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RouteFunc returns the low-cardinality route label for a request, such as
// a router pattern. The URL path is used when it is nil or returns "".
type RouteFunc func(r *http.Request) string

// HTTPMiddleware opens a server span per request and records the request
// counter and latency histogram. Either tracer or metrics may be nil.
func HTTPMiddleware(tracer *Tracer, metrics *Metrics, route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx, span := tracer.Start(r.Context(), SpanHTTPRequest,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attribute.String(AttrHTTPMethod, r.Method)),
			)
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			r = r.WithContext(ctx)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			// The router fills in the pattern while serving.
			label := r.URL.Path
			if route != nil {
				if p := route(r); p != "" {
					label = p
				}
			}

			span.SetName(r.Method + " " + label)
			span.SetAttributes(
				attribute.String(AttrHTTPPath, label),
				attribute.Int(AttrHTTPStatusCode, status),
				attribute.Int(AttrHTTPResponseSize, ww.BytesWritten()),
			)
			switch {
			case status >= 500:
				span.SetStatus(codes.Error, http.StatusText(status))
				span.SetAttributes(attribute.String(AttrErrorType, strconv.Itoa(status)))
			case status >= 400:
				span.SetAttributes(attribute.String(AttrErrorType, strconv.Itoa(status)))
			}

			metrics.RecordHTTPRequest(ctx, r.Method, label, status, time.Since(start), int64(ww.BytesWritten()))
		})
	}
}
