package executor_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagrun/dagrun/engine/core"
	"github.com/dagrun/dagrun/engine/executor"
	"github.com/dagrun/dagrun/engine/task"
	"github.com/dagrun/dagrun/engine/transform"
)

func httpRequest(srvURL string) *executor.Request {
	return &executor.Request{
		StepID:  "call",
		TaskRef: "call-api",
		Type:    task.TypeHTTP,
		HTTP:    &executor.HTTPRequest{URL: srvURL},
	}
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func TestExecuteHTTP(t *testing.T) {
	exec := executor.New()

	t.Run("Should return JSON object body as the output", func(t *testing.T) {
		srv := httptest.NewServer(jsonHandler(http.StatusOK, `{"v":7,"tags":["x"]}`))
		defer srv.Close()
		resp := exec.Execute(context.Background(), httpRequest(srv.URL))
		require.True(t, resp.Success(), "error: %v", resp.Error)
		out := resp.Output.AsMap()
		assert.Equal(t, int64(7), out["v"])
		assert.Equal(t, []any{"x"}, out["tags"])
	})
	t.Run("Should nest non-object JSON under the output key", func(t *testing.T) {
		srv := httptest.NewServer(jsonHandler(http.StatusOK, `[1,2]`))
		defer srv.Close()
		resp := exec.Execute(context.Background(), httpRequest(srv.URL))
		require.True(t, resp.Success())
		assert.Equal(t, []any{int64(1), int64(2)}, resp.Output.Prop("output"))
	})
	t.Run("Should keep non-JSON bodies under rawBody", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			io.WriteString(w, "pong")
		}))
		defer srv.Close()
		resp := exec.Execute(context.Background(), httpRequest(srv.URL))
		require.True(t, resp.Success())
		assert.Equal(t, "pong", resp.Output.Prop("rawBody"))
	})
	t.Run("Should keep unparseable JSON under rawBody", func(t *testing.T) {
		srv := httptest.NewServer(jsonHandler(http.StatusOK, `{"broken":`))
		defer srv.Close()
		resp := exec.Execute(context.Background(), httpRequest(srv.URL))
		require.True(t, resp.Success())
		assert.Equal(t, `{"broken":`, resp.Output.Prop("rawBody"))
	})
	t.Run("Should treat an empty body as an empty output", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()
		resp := exec.Execute(context.Background(), httpRequest(srv.URL))
		require.True(t, resp.Success())
		assert.Empty(t, resp.Output.AsMap())
	})
	t.Run("Should send resolved method, headers and body", func(t *testing.T) {
		var gotMethod, gotToken string
		var gotBody map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotToken = r.Header.Get("X-Token")
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			jsonHandler(http.StatusOK, `{"ok":true}`)(w, r)
		}))
		defer srv.Close()
		req := httpRequest(srv.URL)
		req.HTTP.Method = "post"
		req.HTTP.Headers = map[string]string{"X-Token": "abc"}
		req.HTTP.Body = map[string]any{"a": 1}
		resp := exec.Execute(context.Background(), req)
		require.True(t, resp.Success())
		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Equal(t, "abc", gotToken)
		assert.Equal(t, map[string]any{"a": float64(1)}, gotBody)
		assert.Equal(t, true, resp.Output.Prop("ok"))
	})
	t.Run("Should record attempt timestamps", func(t *testing.T) {
		srv := httptest.NewServer(jsonHandler(http.StatusOK, `{}`))
		defer srv.Close()
		resp := exec.Execute(context.Background(), httpRequest(srv.URL))
		require.True(t, resp.Success())
		assert.False(t, resp.StartedAt.IsZero())
		assert.False(t, resp.CompletedAt.Before(resp.StartedAt))
		assert.GreaterOrEqual(t, resp.Duration(), time.Duration(0))
	})
}

func TestExecuteHTTPErrors(t *testing.T) {
	exec := executor.New()

	statusCase := func(t *testing.T, status int, wantCode core.ErrorCode, retryable bool) *core.Error {
		t.Helper()
		srv := httptest.NewServer(jsonHandler(status, `{"error":"nope"}`))
		defer srv.Close()
		resp := exec.Execute(context.Background(), httpRequest(srv.URL))
		require.False(t, resp.Success())
		assert.Equal(t, wantCode, resp.Error.Code)
		assert.Equal(t, status, resp.Error.HTTPStatus)
		assert.Equal(t, retryable, resp.Error.Retryable())
		return resp.Error
	}

	t.Run("Should classify 401 and 403 as authentication failures", func(t *testing.T) {
		statusCase(t, http.StatusUnauthorized, core.ErrAuthentication, false)
		statusCase(t, http.StatusForbidden, core.ErrAuthentication, false)
	})
	t.Run("Should classify 429 as a retryable rate limit", func(t *testing.T) {
		statusCase(t, http.StatusTooManyRequests, core.ErrRateLimit, true)
	})
	t.Run("Should classify 5xx as retryable http errors with a body excerpt", func(t *testing.T) {
		coreErr := statusCase(t, http.StatusInternalServerError, core.ErrHTTP, true)
		assert.Contains(t, coreErr.Details["body"], "nope")
		assert.NotEmpty(t, coreErr.ServiceHost)
	})
	t.Run("Should keep 4xx http errors non-retryable", func(t *testing.T) {
		statusCase(t, http.StatusBadRequest, core.ErrHTTP, false)
	})
	t.Run("Should keep 408 retryable", func(t *testing.T) {
		statusCase(t, http.StatusRequestTimeout, core.ErrHTTP, true)
	})
	t.Run("Should fail configuration when the url is missing", func(t *testing.T) {
		req := httpRequest("")
		resp := exec.Execute(context.Background(), req)
		require.False(t, resp.Success())
		assert.Equal(t, core.ErrConfiguration, resp.Error.Code)
	})
	t.Run("Should fail configuration for an unsupported method", func(t *testing.T) {
		req := httpRequest("http://localhost:1")
		req.HTTP.Method = "FETCH"
		resp := exec.Execute(context.Background(), req)
		require.False(t, resp.Success())
		assert.Equal(t, core.ErrConfiguration, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "FETCH")
	})
	t.Run("Should classify connection failures as network errors", func(t *testing.T) {
		srv := httptest.NewServer(jsonHandler(http.StatusOK, `{}`))
		target := srv.URL
		srv.Close()
		resp := exec.Execute(context.Background(), httpRequest(target))
		require.False(t, resp.Success())
		assert.Equal(t, core.ErrNetwork, resp.Error.Code)
		assert.True(t, resp.Error.Retryable())
	})
	t.Run("Should classify an exceeded deadline as a timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()
		req := httpRequest(srv.URL)
		req.Timeout = 50 * time.Millisecond
		resp := exec.Execute(context.Background(), req)
		require.False(t, resp.Success())
		assert.Equal(t, core.ErrTimeout, resp.Error.Code)
		assert.True(t, resp.Error.Retryable())
		assert.False(t, resp.Error.OccurredAt.IsZero())
	})
	t.Run("Should classify caller cancellation as cancelled", func(t *testing.T) {
		srv := httptest.NewServer(jsonHandler(http.StatusOK, `{}`))
		defer srv.Close()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		resp := exec.Execute(ctx, httpRequest(srv.URL))
		require.False(t, resp.Success())
		assert.Equal(t, core.ErrCanceled, resp.Error.Code)
	})
}

func TestExecuteTransform(t *testing.T) {
	exec := executor.New()

	compile := func(t *testing.T, ops ...map[string]any) *transform.Pipeline {
		t.Helper()
		p, err := transform.Compile(ops)
		require.NoError(t, err)
		return p
	}
	transformRequest := func(p *transform.Pipeline, dataset any) *executor.Request {
		return &executor.Request{
			StepID:    "shape",
			TaskRef:   "shape-data",
			Type:      task.TypeTransform,
			Transform: &executor.TransformRequest{Pipeline: p, Dataset: dataset},
		}
	}

	t.Run("Should apply the pipeline and nest the array under output", func(t *testing.T) {
		p := compile(t,
			map[string]any{"operation": "filter", "field": "ok", "operator": "==", "value": true},
			map[string]any{"operation": "select", "fields": []string{"id"}},
		)
		dataset := []any{
			map[string]any{"id": "a", "ok": true},
			map[string]any{"id": "b", "ok": false},
		}
		resp := exec.Execute(context.Background(), transformRequest(p, dataset))
		require.True(t, resp.Success(), "error: %v", resp.Error)
		assert.Equal(t, []any{map[string]any{"id": "a"}}, resp.Output.Prop("output"))
	})
	t.Run("Should return a record result as the output map", func(t *testing.T) {
		p := compile(t, map[string]any{
			"operation":    "aggregate",
			"aggregations": map[string]any{"total": map[string]any{"op": "sum", "field": "n"}},
		})
		dataset := []any{map[string]any{"n": 2}, map[string]any{"n": 3}}
		resp := exec.Execute(context.Background(), transformRequest(p, dataset))
		require.True(t, resp.Success(), "error: %v", resp.Error)
		assert.Equal(t, int64(5), resp.Output.Prop("total"))
	})
	t.Run("Should fail validation when the dataset is not an array", func(t *testing.T) {
		p := compile(t, map[string]any{"operation": "reverse"})
		resp := exec.Execute(context.Background(), transformRequest(p, "not-an-array"))
		require.False(t, resp.Success())
		assert.Equal(t, core.ErrValidation, resp.Error.Code)
	})
	t.Run("Should fail configuration when the pipeline is missing", func(t *testing.T) {
		req := &executor.Request{TaskRef: "shape-data", Type: task.TypeTransform}
		resp := exec.Execute(context.Background(), req)
		require.False(t, resp.Success())
		assert.Equal(t, core.ErrConfiguration, resp.Error.Code)
	})
}

func TestExecuteInline(t *testing.T) {
	t.Run("Should invoke the registered handler with resolved input", func(t *testing.T) {
		exec := executor.New()
		require.NoError(t, exec.Register("double", func(_ context.Context, input *core.Input) (*core.Output, error) {
			n, _ := core.ParseAnyInt(input.Prop("n"))
			return &core.Output{"doubled": n * 2}, nil
		}))
		resp := exec.Execute(context.Background(), &executor.Request{
			TaskRef: "double-it",
			Type:    task.TypeInline,
			Handler: "double",
			Input:   core.NewInput(map[string]any{"n": 21}),
		})
		require.True(t, resp.Success(), "error: %v", resp.Error)
		assert.Equal(t, 42, resp.Output.Prop("doubled"))
	})
	t.Run("Should fail configuration for an unknown handler", func(t *testing.T) {
		exec := executor.New()
		resp := exec.Execute(context.Background(), &executor.Request{
			TaskRef: "ghost",
			Type:    task.TypeInline,
			Handler: "ghost",
		})
		require.False(t, resp.Success())
		assert.Equal(t, core.ErrConfiguration, resp.Error.Code)
	})
	t.Run("Should keep structured failures from handlers", func(t *testing.T) {
		exec := executor.New()
		require.NoError(t, exec.Register("reject", func(context.Context, *core.Input) (*core.Output, error) {
			return nil, core.Errorf(core.ErrValidation, "payload rejected")
		}))
		resp := exec.Execute(context.Background(), &executor.Request{
			TaskRef: "reject-it",
			Type:    task.TypeInline,
			Handler: "reject",
		})
		require.False(t, resp.Success())
		assert.Equal(t, core.ErrValidation, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "payload rejected")
	})
	t.Run("Should honor the attempt timeout", func(t *testing.T) {
		exec := executor.New()
		require.NoError(t, exec.Register("slow", func(ctx context.Context, _ *core.Input) (*core.Output, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
				return &core.Output{}, nil
			}
		}))
		resp := exec.Execute(context.Background(), &executor.Request{
			TaskRef: "slow-it",
			Type:    task.TypeInline,
			Handler: "slow",
			Timeout: 20 * time.Millisecond,
		})
		require.False(t, resp.Success())
		assert.Equal(t, core.ErrTimeout, resp.Error.Code)
	})
	t.Run("Should reject duplicate registrations", func(t *testing.T) {
		exec := executor.New()
		fn := func(context.Context, *core.Input) (*core.Output, error) { return &core.Output{}, nil }
		require.NoError(t, exec.Register("once", fn))
		assert.Error(t, exec.Register("once", fn))
		assert.Error(t, exec.Register("", fn))
		assert.Error(t, exec.Register("nil-fn", nil))
	})
}

func TestExecuteDispatch(t *testing.T) {
	t.Run("Should fail configuration for an unsupported task type", func(t *testing.T) {
		exec := executor.New()
		resp := exec.Execute(context.Background(), &executor.Request{TaskRef: "weird", Type: task.Type("weird")})
		require.False(t, resp.Success())
		assert.Equal(t, core.ErrConfiguration, resp.Error.Code)
	})
}
