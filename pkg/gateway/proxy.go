package gateway

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/normanking/nexus/pkg/logging"
	"github.com/normanking/nexus/pkg/metrics"
)

// proxyClient is shared across requests; backends are trusted LAN/cluster
// endpoints so a generous timeout favors correctness over fast failure —
// the health checker, not this client, is responsible for detecting dead
// backends.
var proxyClient = &http.Client{Timeout: 120 * time.Second}

// proxyRequest forwards body to upstreamURL+path with a JSON Content-Type
// (the client's other request headers are not forwarded), copying response
// headers/status/body out, flushing after every chunk so
// SSE framing survives the hop (spec §6: "streaming is passed through").
// This is the thin reverse-proxy dispatcher SPEC_FULL.md calls for in lieu
// of a full out-of-scope proxy layer, grounded on the teacher's
// streaming.go chunked-flush loop. backendID/model feed the per-dispatch
// request metric (spec §2: "the core only emits named events/counters").
func proxyRequest(w http.ResponseWriter, r *http.Request, backendID, upstreamURL, path, model string, body []byte) {
	start := time.Now()

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL+path, bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build upstream request", "internal_error")
		metrics.RecordRequest(backendID, model, "error", time.Since(start).Seconds())
		return
	}
	upstreamReq.Header.Set("Content-Type", "application/json")

	resp, err := proxyClient.Do(upstreamReq)
	if err != nil {
		logging.Error("upstream request failed", zap.String("upstream", upstreamURL), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream request failed: "+err.Error(), "upstream_error")
		metrics.RecordRequest(backendID, model, "error", time.Since(start).Seconds())
		return
	}
	defer resp.Body.Close()

	outcome := "success"
	if resp.StatusCode >= 400 {
		outcome = "error"
	}
	defer func() { metrics.RecordRequest(backendID, model, outcome, time.Since(start).Seconds()) }()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return
		}
		if readErr != nil {
			logging.Error("upstream stream read error", zap.Error(readErr))
			return
		}
	}
}
