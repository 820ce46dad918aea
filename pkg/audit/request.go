package audit

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// maxRequestBody bounds how much of a request body is read for the audit trail
const maxRequestBody = 1 << 20

// ClientIP returns the first X-Forwarded-For entry when it parses as an IP,
// else the peer address without its port
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestData parses a JSON or form body for POST, PUT and PATCH requests and
// restores r.Body so the handler still sees it. Anything that cannot be parsed
// becomes {"_unparsed": "<content-type>"}.
func requestData(r *http.Request) interface{} {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil
	}
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
	if err != nil || len(body) > maxRequestBody {
		return unparsed(contentType)
	}
	if len(body) == 0 {
		return nil
	}

	switch mediaType {
	case "application/json":
		var data interface{}
		if err := json.Unmarshal(body, &data); err != nil {
			return unparsed(contentType)
		}
		return data
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return unparsed(contentType)
		}
		return flattenValues(values)
	default:
		return unparsed(contentType)
	}
}

func unparsed(contentType string) map[string]interface{} {
	return map[string]interface{}{"_unparsed": contentType}
}

// flattenValues keeps single values as strings and repeated keys as lists
func flattenValues(values url.Values) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		if len(v) == 1 {
			out[k] = v[0]
			continue
		}
		list := make([]interface{}, len(v))
		for i, s := range v {
			list[i] = s
		}
		out[k] = list
	}
	return out
}
