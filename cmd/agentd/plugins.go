package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sentrakit/agentcore/internal/registry"
)

const httpGetBodyLimit = 1 << 20

// builtinPlugins is the in-process tool set every deployment starts with.
// Embedders extend or replace it through Registry.RegisterPlugins.
func builtinPlugins() []registry.LocalPlugin {
	return []registry.LocalPlugin{
		{
			Name:        "current_time",
			Description: "Returns the current UTC time in RFC 3339 format.",
			InputSchema: map[string]interface{}{
				"type":                 "object",
				"properties":           map[string]interface{}{},
				"additionalProperties": false,
			},
			Build: func(map[string]string) registry.Handler {
				return func(ctx context.Context, args map[string]interface{}, opts registry.CallOptions) (interface{}, error) {
					return map[string]interface{}{"time": time.Now().UTC().Format(time.RFC3339)}, nil
				}
			},
		},
		{
			Name:        "http_get",
			Description: "Fetches a URL over HTTP GET and returns the response body as text.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"url": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"url"},
			},
			Build: func(env map[string]string) registry.Handler {
				// AUTH_HEADER is plugin env so rotated credentials take
				// effect through the envs reload endpoint.
				auth := env["AUTH_HEADER"]
				client := &http.Client{Timeout: 30 * time.Second}
				return func(ctx context.Context, args map[string]interface{}, opts registry.CallOptions) (interface{}, error) {
					url, _ := args["url"].(string)
					if url == "" {
						return nil, fmt.Errorf("url is required")
					}
					req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
					if err != nil {
						return nil, err
					}
					if auth != "" {
						req.Header.Set("Authorization", auth)
					}
					resp, err := client.Do(req)
					if err != nil {
						return nil, err
					}
					defer resp.Body.Close()
					body, err := io.ReadAll(io.LimitReader(resp.Body, httpGetBodyLimit))
					if err != nil {
						return nil, err
					}
					if resp.StatusCode >= 400 {
						return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
					}
					return map[string]interface{}{"status": resp.StatusCode, "body": string(body)}, nil
				}
			},
		},
	}
}
