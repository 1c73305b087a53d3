package executor

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/pkg/logger"
	"github.com/dagrun/dagrun/pkg/tplengine"
)

// maxBodyExcerpt caps the response body carried inside error details.
const maxBodyExcerpt = 512

var httpMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodHead:    {},
	http.MethodOptions: {},
}

func (e *Executor) executeHTTP(ctx context.Context, req *Request) (*core.Output, *core.Error) {
	log := logger.FromContext(ctx)
	call := req.HTTP
	if call == nil {
		return nil, core.Errorf(core.ErrConfiguration, "task %s: http payload is missing", req.TaskRef)
	}
	method, err := call.normalize(req.TaskRef)
	if err != nil {
		return nil, err
	}

	r := e.client.R().SetContext(ctx)
	if len(call.Headers) > 0 {
		r.SetHeaders(call.Headers)
	}
	if call.Body != nil {
		r.SetBody(call.Body)
	}

	resp, sendErr := send(r, method, call.URL)
	if sendErr != nil {
		return nil, classifyTransport(sendErr, call.URL)
	}
	log.Debug("http task completed", "task", req.TaskRef, "method", method, "status", resp.StatusCode())
	if resp.IsSuccess() {
		return shapeHTTPOutput(resp), nil
	}
	return nil, classifyStatus(resp, call.URL)
}

// normalize validates the call and returns the effective method.
func (h *HTTPRequest) normalize(taskRef string) (string, *core.Error) {
	if strings.TrimSpace(h.URL) == "" {
		return "", core.Errorf(core.ErrConfiguration, "task %s: http url is required", taskRef)
	}
	method := strings.ToUpper(strings.TrimSpace(h.Method))
	if method == "" {
		method = http.MethodGet
	}
	if _, ok := httpMethods[method]; !ok {
		return "", core.Errorf(core.ErrConfiguration, "task %s: unsupported http method %q", taskRef, h.Method)
	}
	return method, nil
}

func send(r *resty.Request, method, rawURL string) (*resty.Response, error) {
	switch method {
	case http.MethodGet:
		return r.Get(rawURL)
	case http.MethodPost:
		return r.Post(rawURL)
	case http.MethodPut:
		return r.Put(rawURL)
	case http.MethodPatch:
		return r.Patch(rawURL)
	case http.MethodDelete:
		return r.Delete(rawURL)
	case http.MethodHead:
		return r.Head(rawURL)
	case http.MethodOptions:
		return r.Options(rawURL)
	}
	return nil, errors.New("unsupported http method " + method)
}

// -----------------------------------------------------------------------------
// Response shaping
// -----------------------------------------------------------------------------

// shapeHTTPOutput turns a 2xx response into the task output. JSON objects
// become the output map directly, other JSON values nest under the output
// key, and anything unparseable is kept verbatim under rawBody.
func shapeHTTPOutput(resp *resty.Response) *core.Output {
	body := resp.Body()
	if len(bytes.TrimSpace(body)) == 0 {
		return &core.Output{}
	}
	if !resty.IsJSONType(resp.Header().Get("Content-Type")) {
		return rawBodyOutput(string(body))
	}
	parsed, err := tplengine.ParseJSONWithPrecision(string(body))
	if err != nil {
		return rawBodyOutput(string(body))
	}
	return shapeOutput(parsed)
}

func rawBodyOutput(s string) *core.Output {
	out := core.Output{"rawBody": s}
	return &out
}

// -----------------------------------------------------------------------------
// Error classification
// -----------------------------------------------------------------------------

func classifyTransport(err error, rawURL string) *core.Error {
	host := hostOf(rawURL)
	var coreErr *core.Error
	switch {
	case errors.Is(err, context.Canceled):
		coreErr = core.NewError(err, core.ErrCanceled, nil)
	case errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err):
		coreErr = core.NewError(err, core.ErrTimeout, map[string]any{"host": host})
	default:
		coreErr = core.NewError(err, core.ErrNetwork, map[string]any{"host": host})
	}
	coreErr.ServiceHost = host
	return coreErr
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func classifyStatus(resp *resty.Response, rawURL string) *core.Error {
	status := resp.StatusCode()
	host := hostOf(rawURL)
	var coreErr *core.Error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		coreErr = core.Errorf(core.ErrAuthentication, "request to %s was rejected with status %d", host, status)
	case status == http.StatusTooManyRequests:
		coreErr = core.Errorf(core.ErrRateLimit, "request to %s was rate limited", host)
	default:
		coreErr = core.Errorf(core.ErrHTTP, "request to %s failed with status %d", host, status)
	}
	coreErr.HTTPStatus = status
	coreErr.ServiceHost = host
	if excerpt := bodyExcerpt(resp.String()); excerpt != "" {
		coreErr.WithDetail("body", excerpt)
	}
	return coreErr
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

func bodyExcerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxBodyExcerpt {
		return s
	}
	return s[:maxBodyExcerpt] + "..."
}
