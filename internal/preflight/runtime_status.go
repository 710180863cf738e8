package preflight

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"quacwatch/internal/config"
)

// CheckMetricsFromConfig probes the daemon's metrics endpoint health route.
func CheckMetricsFromConfig(ctx context.Context, cfg *config.Config) Result {
	const name = "Metrics endpoint"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	bind := strings.TrimSpace(cfg.Metrics.Bind)
	if bind == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	return CheckHealthz(ctx, name, bind)
}

// CheckHealthz performs a GET against http://<bind>/healthz.
func CheckHealthz(ctx context.Context, name, bind string) Result {
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid bind %q (%v)", bind, err)}
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	url := "http://" + net.JoinHostPort(host, port) + "/healthz"
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: "Not running"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Serving on " + bind}
}
