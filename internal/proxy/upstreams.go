package proxy

import "net/http" // Request type

const anthropicVersion = "2023-06-01"

// Bearer sets an Authorization bearer token.
func Bearer(key string) func(*http.Request) {
	return func(r *http.Request) {
		if key != "" {
			r.Header.Set("Authorization", "Bearer "+key)
		}
	}
}

// Anthropic sets the x-api-key header and a default anthropic-version.
func Anthropic(key string) func(*http.Request) {
	return func(r *http.Request) {
		if key != "" {
			r.Header.Set("x-api-key", key)
		}
		if r.Header.Get("anthropic-version") == "" {
			r.Header.Set("anthropic-version", anthropicVersion)
		}
	}
}

// QueryKey sets the key query parameter, as Google APIs expect.
func QueryKey(key string) func(*http.Request) {
	return func(r *http.Request) {
		if key == "" {
			return
		}
		q := r.URL.Query()
		q.Set("key", key)
		r.URL.RawQuery = q.Encode()
	}
}
