package dispatch

import (
	"context"
	"net/http"
	"time"
)

// HealthReport is the outcome of probing the model hosts.
type HealthReport struct {
	LocalReachable bool   `json:"local_reachable"`
	DGXReachable   bool   `json:"dgx_reachable"`
	DGXHost        string `json:"dgx_host,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// healthProbeTimeout bounds each host probe.
const healthProbeTimeout = 3 * time.Second

// RunHealthCheck probes the local and DGX model hosts and updates provider
// availability: unreachable DGX marks dgx-tagged providers unavailable;
// recovery marks them available again.
func (d *Dispatcher) RunHealthCheck(ctx context.Context, localHost, dgxHost string) HealthReport {
	report := HealthReport{
		DGXHost:   dgxHost,
		CheckedAt: time.Now(),
	}
	report.LocalReachable = probe(ctx, localHost)
	if dgxHost != "" {
		report.DGXReachable = probe(ctx, dgxHost)
	}

	if d.providers != nil && dgxHost != "" {
		for _, e := range d.providers.List() {
			if !e.HasTag("dgx") {
				continue
			}
			if report.DGXReachable {
				d.providers.MarkAvailable(e.Name)
			} else {
				d.providers.MarkUnavailable(e.Name)
			}
		}
	}
	return report
}

// probe issues a short GET against the host's tags endpoint.
func probe(ctx context.Context, host string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
