// Package api_test provides tests for the API server.
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quantlab/portfolio-backend/internal/api"
	"github.com/quantlab/portfolio-backend/internal/pricedata"
	"github.com/quantlab/portfolio-backend/internal/registry"
	"github.com/quantlab/portfolio-backend/pkg/types"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("Failed to parse date %q: %v", s, err)
	}
	return d
}

func setupTestServer(t *testing.T) (*api.Server, *httptest.Server) {
	return setupTestServerWith(t, nil)
}

// setupTestServerWith serves one year of weekday prices: a rising trend with
// a 10-day 10% dip every 50 trading days, so drawdown episodes exist.
func setupTestServerWith(t *testing.T, batchConfig *types.BatchConfig) (*api.Server, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()

	earliest, _ := time.Parse("2006-01-02", "2000-01-03")
	reg := registry.NewWith([]types.Instrument{
		{Symbol: "AAA", Name: "Asset A", Market: types.MarketUS, Category: types.CategoryETF, EarliestDate: earliest},
		{Symbol: "BBB", Name: "Asset B", Market: types.MarketUS, Category: types.CategoryETF, EarliestDate: earliest},
	})

	provider := pricedata.NewMemoryProvider()
	for d, i := date(t, "2023-01-02"), 0; !d.After(date(t, "2023-12-29")); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		dip := 1.0
		if cycle := i % 50; cycle >= 20 && cycle < 30 {
			dip = 0.9
		}
		provider.Add("AAA", pricedata.PricePoint{Date: d, Close: 100 * (1 + 0.0005*float64(i)) * dip})
		provider.Add("BBB", pricedata.PricePoint{Date: d, Close: 50 * (1 + 0.0002*float64(i)) * dip})
		i++
	}

	config := &types.ServerConfig{
		Host:          "localhost",
		Port:          0,
		WebSocketPath: "/ws",
		EnableMetrics: true,
	}
	server := api.NewServer(logger, config, batchConfig, provider, reg)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return server, ts
}

func runRequest() map[string]any {
	return map[string]any{
		"targetPercentage":  map[string]float64{"AAA": 0.6, "BBB": 0.4},
		"startDate":         "2023-01-02",
		"endDate":           "2023-12-29",
		"initialTotalValue": 10000,
		"rebalanceStrategy": "NO_REBALANCE",
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %v", result["status"])
	}
}

func TestInstrumentsEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/instruments")
	if err != nil {
		t.Fatalf("Instruments request failed: %v", err)
	}
	defer resp.Body.Close()

	var instruments []types.Instrument
	if err := json.NewDecoder(resp.Body).Decode(&instruments); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(instruments) != 2 {
		t.Errorf("Expected 2 instruments, got %d", len(instruments))
	}
}

func TestRunBacktestLifecycle(t *testing.T) {
	_, ts := setupTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/backtest/run", runRequest())
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", resp.StatusCode)
	}
	var accepted map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	id := accepted["id"]
	if id == "" {
		t.Fatal("Expected a run ID")
	}

	// Poll until the asynchronous run completes.
	deadline := time.Now().Add(5 * time.Second)
	var status map[string]any
	for {
		getResp, err := http.Get(ts.URL + "/api/v1/backtest/" + id)
		if err != nil {
			t.Fatalf("Status request failed: %v", err)
		}
		err = json.NewDecoder(getResp.Body).Decode(&status)
		getResp.Body.Close()
		if err != nil {
			t.Fatalf("Failed to decode status: %v", err)
		}
		if status["status"] != "running" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Backtest did not finish in time")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if status["status"] != "completed" {
		t.Fatalf("Expected completed run, got %v (error: %v)", status["status"], status["error"])
	}
	if status["result"] == nil {
		t.Fatal("Expected a result payload")
	}
}

// pollBacktest polls the status endpoint until the run leaves the running
// state, then returns the decoded terminal response.
func pollBacktest(t *testing.T, ts *httptest.Server, id string) (string, *types.BacktestResult, string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/api/v1/backtest/" + id)
		if err != nil {
			t.Fatalf("Status request failed: %v", err)
		}
		var status struct {
			Status string                `json:"status"`
			Result *types.BacktestResult `json:"result"`
			Error  string                `json:"error"`
		}
		err = json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("Failed to decode status: %v", err)
		}
		if status.Status != "running" {
			return status.Status, status.Result, status.Error
		}
		if time.Now().After(deadline) {
			t.Fatal("Backtest did not finish in time")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestGetBacktestConcurrentPolling(t *testing.T) {
	_, ts := setupTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/backtest/run", runRequest())
	var accepted map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	resp.Body.Close()
	id := accepted["id"]

	// Several pollers race the run goroutine's completion write; each must
	// observe a coherent terminal state, never completed-without-result.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deadline := time.Now().Add(5 * time.Second)
			for {
				getResp, err := http.Get(ts.URL + "/api/v1/backtest/" + id)
				if err != nil {
					t.Errorf("Status request failed: %v", err)
					return
				}
				var status struct {
					Status string                `json:"status"`
					Result *types.BacktestResult `json:"result"`
					Error  string                `json:"error"`
				}
				err = json.NewDecoder(getResp.Body).Decode(&status)
				getResp.Body.Close()
				if err != nil {
					t.Errorf("Failed to decode status: %v", err)
					return
				}
				switch status.Status {
				case "running":
					if time.Now().After(deadline) {
						t.Error("Backtest did not finish in time")
						return
					}
				case "completed":
					if status.Result == nil {
						t.Error("Completed status served without a result")
					}
					return
				default:
					t.Errorf("Unexpected status %q (error: %s)", status.Status, status.Error)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestConfiguredDrawdownDefault(t *testing.T) {
	_, ts := setupTestServerWith(t, &types.BatchConfig{DrawdownTopN: 1, MaxWorkers: 2})

	// A request without drawdownTopN falls back to the configured default.
	resp := postJSON(t, ts.URL+"/api/v1/backtest/run", runRequest())
	var accepted map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	resp.Body.Close()

	status, result, errMsg := pollBacktest(t, ts, accepted["id"])
	if status != "completed" {
		t.Fatalf("Expected completed run, got %s (error: %s)", status, errMsg)
	}
	if len(result.DrawdownEpisodes) != 1 {
		t.Errorf("Expected 1 episode from the configured default, got %d", len(result.DrawdownEpisodes))
	}

	// An explicit request value still wins over the default.
	req := runRequest()
	req["drawdownTopN"] = 2
	resp = postJSON(t, ts.URL+"/api/v1/backtest/run", req)
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	resp.Body.Close()

	status, result, errMsg = pollBacktest(t, ts, accepted["id"])
	if status != "completed" {
		t.Fatalf("Expected completed run, got %s (error: %s)", status, errMsg)
	}
	if len(result.DrawdownEpisodes) != 2 {
		t.Errorf("Expected 2 episodes from the request override, got %d", len(result.DrawdownEpisodes))
	}
}

func TestRunBacktestBadRequest(t *testing.T) {
	_, ts := setupTestServer(t)

	req := runRequest()
	req["startDate"] = "not-a-date"
	resp := postJSON(t, ts.URL+"/api/v1/backtest/run", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestGetUnknownBacktest(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/backtest/no-such-id")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}

func TestCompareEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)

	good := runRequest()
	annual := runRequest()
	annual["rebalanceStrategy"] = "ANNUAL_REBALANCE"
	bad := runRequest()
	bad["rebalanceStrategy"] = "QUARTERLY"

	resp := postJSON(t, ts.URL+"/api/v1/backtest/compare", []any{good, annual, bad})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var entries []struct {
		Result *types.BacktestResult `json:"result"`
		Error  string                `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].Error != "" || entries[0].Result == nil {
		t.Errorf("Expected first entry to succeed: %+v", entries[0])
	}
	if entries[1].Error != "" || entries[1].Result == nil {
		t.Errorf("Expected second entry to succeed: %+v", entries[1])
	}
	if entries[2].Error == "" {
		t.Error("Expected third entry to fail with unknown strategy")
	}
}

func TestRollingWindowEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)

	base := runRequest()
	req := map[string]any{
		"base":        base,
		"firstStart":  "2023-01-02",
		"lastStart":   "2023-06-01",
		"stepMonths":  5,
		"windowYears": 0,
	}
	resp := postJSON(t, ts.URL+"/api/v1/backtest/rolling", req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for zero window years, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("Metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestWebSocketProgress(t *testing.T) {
	_, ts := setupTestServer(t)

	wsURL := "ws" + ts.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	defer conn.Close()

	resp := postJSON(t, ts.URL+"/api/v1/backtest/run", runRequest())
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed to read progress message: %v", err)
		}
		if msg.Type != string(api.MsgTypeProgress) {
			continue
		}
		var progress types.BacktestProgress
		if err := json.Unmarshal(msg.Data, &progress); err != nil {
			t.Fatalf("Failed to decode progress payload: %v", err)
		}
		if progress.Status == "completed" {
			return
		}
		if progress.Status == "failed" {
			t.Fatalf("Backtest failed: %s", progress.Error)
		}
	}
}
