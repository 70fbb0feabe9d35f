package dispatch

import (
	"encoding/json"
	"fmt"

	pkgerrors "github.com/bondai/universal-reporter/pkg/errors"
	"github.com/bondai/universal-reporter/pkg/hub"
)

// ErrorDetail is one entry of Result.Errors.
type ErrorDetail struct {
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// Result is what the status callback receives after every send attempt.
type Result struct {
	OK     bool          `json:"ok"`
	Data   any           `json:"data"`
	Errors []ErrorDetail `json:"errors"`
}

// MissingIdentifier describes a send aborted before any network call.
func MissingIdentifier() ErrorDetail {
	return ErrorDetail{Message: pkgerrors.MetadataFor(pkgerrors.CodeMissingIdentifier).PublicMessage}
}

// NetworkError wraps a failure to obtain any response.
func NetworkError(err error) Result {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return Result{Errors: []ErrorDetail{{
		Message: pkgerrors.MetadataFor(pkgerrors.CodeTransport).PublicMessage,
		Detail:  detail,
	}}}
}

// Interpret maps a raw response onto a Result. Success needs a 2xx status and a
// JSON object whose "success" (hub) or "ok" (relay) flag is true.
func Interpret(resp hub.Response) Result {
	var body map[string]any
	if err := json.Unmarshal(resp.Body, &body); err != nil || body == nil {
		return Result{Errors: []ErrorDetail{{
			Message: pkgerrors.MetadataFor(pkgerrors.CodeUpstream).PublicMessage,
			Detail:  truncate(string(resp.Body), 512),
			Status:  resp.StatusCode,
		}}}
	}

	ok := resp.OK() && (truthy(body["success"]) || truthy(body["ok"]))
	res := Result{OK: ok, Data: body["data"], Errors: decodeErrors(body["errors"])}
	if !ok && len(res.Errors) == 0 {
		res.Errors = []ErrorDetail{{
			Message: pkgerrors.MetadataFor(pkgerrors.CodeUpstream).PublicMessage,
			Status:  resp.StatusCode,
		}}
	}
	if res.Errors == nil {
		res.Errors = []ErrorDetail{}
	}
	return res
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// decodeErrors accepts the shapes seen in practice: a list of objects, a list
// of strings, a single object or a single string.
func decodeErrors(raw any) []ErrorDetail {
	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		out := make([]ErrorDetail, 0, len(v))
		for _, item := range v {
			out = append(out, decodeError(item))
		}
		return out
	default:
		return []ErrorDetail{decodeError(v)}
	}
}

func decodeError(item any) ErrorDetail {
	switch v := item.(type) {
	case string:
		return ErrorDetail{Message: v}
	case map[string]any:
		detail := ErrorDetail{Detail: v["detail"]}
		if msg, ok := v["message"].(string); ok {
			detail.Message = msg
		} else {
			detail.Message = fmt.Sprint(v)
		}
		if status, ok := v["status"].(float64); ok {
			detail.Status = int(status)
		}
		if detail.Detail == nil {
			detail.Detail = v["data"]
		}
		return detail
	default:
		return ErrorDetail{Message: fmt.Sprint(v)}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
