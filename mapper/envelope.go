package mapper

import (
	"encoding/json"
	nethttp "net/http"

	"github.com/tidwall/gjson"
)

// Envelope is the normalized form of every backend response.
type Envelope struct {
	Data    json.RawMessage
	Meta    json.RawMessage
	Status  int
	Headers nethttp.Header
}

// Unwrap normalizes a response body. Bodies shaped {"data": ..., "meta": ...}
// are unwrapped; any other body becomes Data unchanged.
func Unwrap(status int, headers nethttp.Header, body []byte) Envelope {
	env := Envelope{Status: status, Headers: headers}
	if len(body) == 0 {
		return env
	}

	parsed := gjson.ParseBytes(body)
	if parsed.IsObject() {
		if data := parsed.Get("data"); data.Exists() && isEnvelope(parsed) {
			env.Data = json.RawMessage(data.Raw)
			if meta := parsed.Get("meta"); meta.Exists() {
				env.Meta = json.RawMessage(meta.Raw)
			}
			return env
		}
	}
	env.Data = json.RawMessage(body)
	return env
}

// isEnvelope reports whether every top-level key belongs to the envelope.
func isEnvelope(obj gjson.Result) bool {
	ok := true
	obj.ForEach(func(key, _ gjson.Result) bool {
		switch key.String() {
		case "data", "meta", "error":
		default:
			ok = false
		}
		return ok
	})
	return ok
}
