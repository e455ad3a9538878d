package normalize

import (
	"encoding/json"
	"fmt"
	"mime"
	"strings"
)

// Options selects which rewrites may fire.
type Options struct {
	// ModelOverride replaces the body's "model" value when non-empty.
	ModelOverride string
}

// Event records one rewrite that fired, in the form it appears in the audit
// trail.
type Event string

// Apply rewrites a known subset of JSON keys in body and returns the new
// bytes together with the rewrites that fired. Non-JSON content types and
// empty bodies pass through untouched with no events. A body that fails to
// parse as JSON also passes through byte-identical; that is reported as an
// event, never as an error.
//
// The rewrites apply independently, in order, on the same parsed object:
// model override, system-array hoist, legacy tools reshape, tool_choice
// simplification. Each is a no-op on a body it has already been applied to.
func Apply(contentType string, body []byte, opts Options) ([]byte, []Event) {
	if len(body) == 0 || !IsJSONContentType(contentType) {
		return body, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return body, []Event{"non-JSON body, passed through unchanged"}
	}

	var events []Event
	if opts.ModelOverride != "" {
		if _, ok := payload["model"]; ok {
			payload["model"] = opts.ModelOverride
			events = append(events, Event(fmt.Sprintf("model renamed to %q", opts.ModelOverride)))
		}
	}
	if sys, ok := payload["system"].([]any); ok {
		entry := map[string]any{"role": "system", "content": sys}
		if msgs, ok := payload["messages"].([]any); ok {
			payload["messages"] = append([]any{entry}, msgs...)
		} else {
			// No messages array in the body: create one holding only the
			// synthesized system message.
			payload["messages"] = []any{entry}
		}
		delete(payload, "system")
		events = append(events, "system array hoisted to messages[0]")
	}
	if tools, ok := payload["tools"].([]any); ok && len(tools) > 0 && looksLegacyToolList(tools) {
		wrapped := make([]any, 0, len(tools))
		for _, raw := range tools {
			entry, ok := raw.(map[string]any)
			if !ok {
				wrapped = append(wrapped, raw)
				continue
			}
			if schema, ok := entry["input_schema"]; ok {
				entry["parameters"] = schema
				delete(entry, "input_schema")
			}
			wrapped = append(wrapped, map[string]any{"type": "function", "function": entry})
		}
		payload["tools"] = wrapped
		events = append(events, Event(fmt.Sprintf("tools reshaped: %d entries", len(wrapped))))
	}
	if tc, ok := payload["tool_choice"].(map[string]any); ok {
		if typ, ok := tc["type"].(string); ok {
			payload["tool_choice"] = typ
			events = append(events, Event(fmt.Sprintf("tool_choice simplified to %q", typ)))
		}
	}

	if len(events) == 0 {
		return body, nil
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return body, append(events, "re-encode failed, original body forwarded")
	}
	return out, events
}

// looksLegacyToolList reports whether the first entry carries a top-level
// string "name", in which case the whole list is assumed to use the legacy
// schema. Already-wrapped entries expose "function" instead and are left
// alone.
func looksLegacyToolList(tools []any) bool {
	first, ok := tools[0].(map[string]any)
	if !ok {
		return false
	}
	_, ok = first["name"].(string)
	return ok
}

// IsJSONContentType reports whether a Content-Type header names a JSON media
// type, including suffixed types like application/problem+json.
func IsJSONContentType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
