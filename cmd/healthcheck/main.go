// Command healthcheck is the container health check. It exits non-zero unless the
// panel's liveness endpoint answers 200.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"
)

func main() {
	os.Exit(run(healthURL()))
}

func healthURL() string {
	if v := os.Getenv("HEALTHCHECK_URL"); v != "" {
		return v
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "5000"
	}
	return "http://localhost:" + port + "/healthz"
}

func run(url string) int {
	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		slog.Error("healthcheck: bad url", slog.String("url", url), slog.Any("err", err))
		return 1
	}
	resp, err := client.Do(req)
	if err != nil {
		slog.Error("healthcheck: request failed", slog.Any("err", err))
		return 1
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		slog.Error("healthcheck: unhealthy", slog.Int("status", resp.StatusCode))
		return 1
	}
	return 0
}
