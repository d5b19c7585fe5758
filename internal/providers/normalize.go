package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// StatusVocabulary maps folded vendor status strings onto the three logical
// outcomes. Vendors may extend it through Normalizer.
type StatusVocabulary map[string]Status

// DefaultVocabulary covers the status words used by the vendors we talk to.
var DefaultVocabulary = StatusVocabulary{
	"pending":     StatusRunning,
	"queued":      StatusRunning,
	"queuing":     StatusRunning,
	"submitted":   StatusRunning,
	"created":     StatusRunning,
	"starting":    StatusRunning,
	"started":     StatusRunning,
	"running":     StatusRunning,
	"processing":  StatusRunning,
	"in_progress": StatusRunning,
	"generating":  StatusRunning,
	"succeeded":   StatusSucceeded,
	"success":     StatusSucceeded,
	"successful":  StatusSucceeded,
	"completed":   StatusSucceeded,
	"complete":    StatusSucceeded,
	"done":        StatusSucceeded,
	"finished":    StatusSucceeded,
	"ready":       StatusSucceeded,
	"failed":      StatusFailed,
	"failure":     StatusFailed,
	"error":       StatusFailed,
	"errored":     StatusFailed,
	"canceled":    StatusFailed,
	"cancelled":   StatusFailed,
	"rejected":    StatusFailed,
	"expired":     StatusFailed,
	"timeout":     StatusFailed,
}

// Lookup folds raw and resolves it. Spaces and dashes are treated as
// underscores so "In Progress" and "in-progress" resolve alike.
func (v StatusVocabulary) Lookup(raw string) (Status, bool) {
	key := cases.Fold().String(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	status, ok := v[key]
	return status, ok
}

// Normalized is a vendor payload reduced to the uniform task record.
type Normalized struct {
	TaskID    string
	RawStatus string
	Status    Status
	Outputs   []string
	ErrorCode string
	Error     string
}

// Result converts the record into a PollResult.
func (n Normalized) Result() PollResult {
	return PollResult{Status: n.Status, Outputs: n.Outputs, Error: n.Error}
}

var (
	envelopeKeys = []string{"output", "data", "result", "task", "response"}
	statusKeys   = []string{"task_status", "status", "state"}
	taskIDKeys   = []string{"task_id", "id", "job_id", "generation_id"}
	outputKeys   = []string{"results", "images", "videos", "outputs", "urls", "image_urls", "video_urls", "media", "choices", "video_url", "image_url", "url", "uri", "image"}
	urlKeys      = []string{"url", "uri", "image", "image_url", "video_url", "src", "href"}
	nestedKeys   = []string{"message", "content"}
)

// Normalizer turns arbitrary vendor JSON into a Normalized record.
type Normalizer struct {
	Vocabulary StatusVocabulary
}

// Normalize runs the default normalizer over body.
func Normalize(body []byte) (Normalized, error) {
	return Normalizer{Vocabulary: DefaultVocabulary}.Normalize(body)
}

// Normalize decodes body and applies the mapping table plus fallback rules:
// an unknown or missing status resolves to succeeded when outputs are present,
// failed when only an error is present, and running otherwise.
func (n Normalizer) Normalize(body []byte) (Normalized, error) {
	vocab := n.Vocabulary
	if vocab == nil {
		vocab = DefaultVocabulary
	}
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return Normalized{}, fmt.Errorf("decode vendor payload: %w", err)
	}

	scopes := []map[string]any{root}
	for _, key := range envelopeKeys {
		if nested, ok := lookup(root, key).(map[string]any); ok {
			scopes = append(scopes, nested)
		}
	}

	var out Normalized
	for _, scope := range scopes {
		if out.TaskID == "" {
			out.TaskID = firstString(scope, taskIDKeys...)
		}
		if out.RawStatus == "" {
			out.RawStatus = firstString(scope, statusKeys...)
		}
		for _, key := range outputKeys {
			if v := lookup(scope, key); v != nil {
				out.Outputs = appendURLs(out.Outputs, v)
			}
		}
	}
	out.Outputs = dedupe(out.Outputs)
	out.ErrorCode, out.Error = extractErrorFrom(scopes)

	status, known := vocab.Lookup(out.RawStatus)
	switch {
	case known:
		out.Status = status
	case len(out.Outputs) > 0:
		out.Status = StatusSucceeded
	case out.Error != "":
		out.Status = StatusFailed
	default:
		out.Status = StatusRunning
	}
	if out.Status == StatusFailed && out.Error == "" {
		out.Error = "provider reported " + strings.ToLower(out.RawStatus)
	}
	if out.Status != StatusSucceeded {
		out.Outputs = nil
	}
	return out, nil
}

// ExtractError pulls a vendor error code and message out of a JSON body.
func ExtractError(body []byte) (string, string) {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return "", ""
	}
	scopes := []map[string]any{root}
	for _, key := range envelopeKeys {
		if nested, ok := lookup(root, key).(map[string]any); ok {
			scopes = append(scopes, nested)
		}
	}
	return extractErrorFrom(scopes)
}

func extractErrorFrom(scopes []map[string]any) (string, string) {
	var code, message string
	for _, scope := range scopes {
		switch v := lookup(scope, "error").(type) {
		case string:
			if message == "" {
				message = strings.TrimSpace(v)
			}
		case map[string]any:
			if message == "" {
				message = firstString(v, "message", "detail", "msg")
			}
			if code == "" {
				code = firstString(v, "code", "type")
			}
		}
		if message == "" {
			message = firstString(scope, "error_message", "fail_reason", "failure_reason", "message", "msg")
		}
		if code == "" {
			code = firstString(scope, "error_code", "code")
		}
	}
	return code, message
}

// lookup finds key in m ignoring case, underscores and dashes, so task_status,
// taskStatus and TASK-STATUS all match.
func lookup(m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	want := canonicalKey(key)
	for k, v := range m {
		if canonicalKey(k) == want {
			return v
		}
	}
	return nil
}

func canonicalKey(k string) string {
	return strings.NewReplacer("_", "", "-", "").Replace(cases.Fold().String(k))
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := lookup(m, key).(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// appendURLs collects URLs from a plain string, an array of strings or
// objects, or an object with a URL-like field. Chat-style payloads nest the
// URL under message.content[].
func appendURLs(dst []string, v any) []string {
	switch item := v.(type) {
	case string:
		if s := strings.TrimSpace(item); looksLikeURL(s) {
			dst = append(dst, s)
		}
	case []any:
		for _, el := range item {
			dst = appendURLs(dst, el)
		}
	case map[string]any:
		found := false
		for _, key := range urlKeys {
			if s, ok := lookup(item, key).(string); ok && looksLikeURL(strings.TrimSpace(s)) {
				dst = append(dst, strings.TrimSpace(s))
				found = true
				break
			}
		}
		if !found {
			for _, key := range nestedKeys {
				if nested := lookup(item, key); nested != nil {
					dst = appendURLs(dst, nested)
				}
			}
		}
	}
	return dst
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "data:")
}

func dedupe(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
