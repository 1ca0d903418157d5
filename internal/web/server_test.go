package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/home-dashboard/internal/dashboard"
	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/gate"
	"github.com/sweeney/home-dashboard/internal/history"
	"github.com/sweeney/home-dashboard/internal/logging"
	"github.com/sweeney/home-dashboard/internal/metrics"
	"github.com/sweeney/home-dashboard/internal/presence"
	"github.com/sweeney/home-dashboard/internal/scheduler"
	"github.com/sweeney/home-dashboard/internal/status"
	"github.com/sweeney/home-dashboard/internal/weather"
)

type testEnv struct {
	ts      *httptest.Server
	svc     *dashboard.Service
	source  *device.FakeSource
	disp    *device.FakeDispatcher
	fetcher *weather.FakeFetcher
	now     time.Time
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	env := &testEnv{
		source:  device.NewFakeSource(),
		disp:    device.NewFakeDispatcher(),
		fetcher: weather.NewFakeFetcher(weather.Weather{Temperature: 29.4, Humidity: 74}),
		now:     now,
	}
	cfg := status.Config{
		DeviceAddr:  "http://192.168.100.43",
		Source:      "http",
		Channel:     "http",
		City:        "Jakarta",
		PollMs:      3000,
		ThresholdMs: 30000,
		CacheTTLMs:  600000,
		HTTPAddr:    ":8080",
	}
	tracker := status.NewTracker(now.Add(-time.Hour), time.UTC, cfg)
	tracker.SetClock(clock)
	m := metrics.New(nil)

	env.svc = dashboard.New(dashboard.Deps{
		Source:     env.source,
		Dispatcher: env.disp,
		Weather:    weather.NewCache(env.fetcher, weather.Location{City: "Jakarta"}, weather.DefaultTTL, weather.WithClock(clock)),
		Evaluator:  presence.NewEvaluator(30*time.Second, time.UTC),
		Tracker:    tracker,
		History:    history.NewMemory(10),
		Metrics:    m,
		Logger:     logging.Discard(),
		Now:        clock,
	})
	srv := New(":0", env.svc, WithMetrics(m), WithLogger(logging.Discard()))
	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func (e *testEnv) online(t *testing.T) {
	t.Helper()
	e.source.SetLastSeen(e.now.Add(-2 * time.Second).UnixMilli())
	e.source.SetReading(&device.SensorReading{Temperature: 24.5, Humidity: 55, LightLevel: 700, Timestamp: e.now.Unix()})
	st := &device.Status{}
	st.LED.On = true
	st.RGB.Mode = "RAINBOW"
	st.System.UptimeMs = 3723000
	st.Network.Signal = -55
	e.source.SetStatus(st)
	if err := e.svc.PollOnce(context.Background(), scheduler.ModeFull); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
}

func (e *testEnv) offline(t *testing.T) {
	t.Helper()
	e.source.SetLastSeen(e.now.Add(-45 * time.Second).UnixMilli())
	if err := e.svc.PollOnce(context.Background(), scheduler.ModeFull); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
}

func TestJSONEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.online(t)

	resp := get(t, env.ts.URL+"/index.json")
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var dj status.DashboardJSON
	decodeBody(t, resp, &dj)
	if dj.Connection.Status != presence.StatusOnline {
		t.Errorf("connection: got %q, want online", dj.Connection.Status)
	}
	if dj.Sensors == nil || dj.Sensors.Temperature != 24.5 {
		t.Errorf("sensors: got %+v", dj.Sensors)
	}
	if dj.Device == nil || dj.Device.SignalStrength != "Good" || dj.Device.UptimeFormatted != "1h 2m 3s" {
		t.Errorf("device: got %+v", dj.Device)
	}
	if dj.Weather.City != "Jakarta" {
		t.Errorf("weather city: got %q", dj.Weather.City)
	}
	if dj.UptimeSeconds != 3600 {
		t.Errorf("uptime: got %d, want 3600", dj.UptimeSeconds)
	}
}

func TestConnectionEndpointNeverSeen(t *testing.T) {
	env := newTestServer(t)

	resp := get(t, env.ts.URL+"/api/connection")
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"status":"unknown"`)) || !bytes.Contains(body, []byte(`"timeSinceLastSeenMs":null`)) {
		t.Errorf("unexpected body %s", body)
	}
}

func TestSensorsAndStatusBeforeFirstTick(t *testing.T) {
	env := newTestServer(t)

	for _, path := range []string{"/api/sensors", "/api/status"} {
		resp := get(t, env.ts.URL+path)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s: got %d, want 503", path, resp.StatusCode)
		}
	}
}

func TestSensorsOfflineFallback(t *testing.T) {
	env := newTestServer(t)
	env.offline(t)

	resp := get(t, env.ts.URL+"/api/sensors")
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["fromFallback"] != true || body["temperature"] != 29.4 {
		t.Errorf("expected fallback reading, got %v", body)
	}
	conn, _ := body["connectionStatus"].(map[string]any)
	if conn["status"] != "offline" || conn["secondsOffline"] != float64(45) {
		t.Errorf("unexpected connectionStatus %v", conn)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.online(t)

	resp := get(t, env.ts.URL+"/api/status")
	var body map[string]any
	decodeBody(t, resp, &body)
	led, _ := body["led"].(map[string]any)
	if led["builtin"] != true {
		t.Errorf("led: got %v", body["led"])
	}
	if body["signalStrength"] != "Good" {
		t.Errorf("signalStrength: got %v", body["signalStrength"])
	}
}

func TestControlOnline(t *testing.T) {
	env := newTestServer(t)
	env.online(t)
	env.disp.Ack = device.Ack{Success: true}

	tests := []struct {
		path string
		body string
		want string
		kind device.Kind
	}{
		{"/api/control/led", `{"state":false}`, "LED turned OFF", device.KindLED},
		{"/api/control/servo", `{"angle":90}`, "Servo moved to 90°", device.KindServo},
		{"/api/control/rgb", `{"mode":"BLUE"}`, "RGB mode set to BLUE", device.KindRGB},
		{"/api/control/rgb", `{"mode":"rainbow"}`, "RGB mode set to RAINBOW", device.KindRGB},
	}
	for i, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := post(t, env.ts.URL+tt.path, tt.body)
			if resp.StatusCode != 200 {
				t.Fatalf("status: got %d, want 200", resp.StatusCode)
			}
			var res gate.Result
			decodeBody(t, resp, &res)
			if !res.Success || res.Message != tt.want {
				t.Errorf("got %+v, want success %q", res, tt.want)
			}
			cmds := env.disp.Commands()
			if len(cmds) != i+1 || cmds[i].Kind != tt.kind {
				t.Errorf("unexpected commands %+v", cmds)
			}
		})
	}
}

func TestControlOfflineRejected(t *testing.T) {
	env := newTestServer(t)
	env.offline(t)

	resp := post(t, env.ts.URL+"/api/control/led", `{"state":true}`)
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	var res gate.Result
	decodeBody(t, resp, &res)
	if res.Success || !strings.Contains(res.Message, "45s") {
		t.Errorf("unexpected result %+v", res)
	}
	if len(env.disp.Commands()) != 0 {
		t.Error("command reached the transport")
	}
}

func TestControlBadRequests(t *testing.T) {
	env := newTestServer(t)
	env.online(t)

	tests := []struct {
		path string
		body string
		code int
	}{
		{"/api/control/led", `not json`, http.StatusBadRequest},
		{"/api/control/led", `{}`, http.StatusBadRequest},
		{"/api/control/servo", `{}`, http.StatusBadRequest},
		{"/api/control/servo", `{"angle":270}`, http.StatusBadRequest},
		{"/api/control/rgb", `{"mode":"PURPLE"}`, http.StatusBadRequest},
		{"/api/control/rgb", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp := post(t, env.ts.URL+tt.path, tt.body)
		if resp.StatusCode != tt.code {
			t.Errorf("%s %s: got %d, want %d", tt.path, tt.body, resp.StatusCode, tt.code)
		}
	}
	if len(env.disp.Commands()) != 0 {
		t.Error("invalid intents reached the transport")
	}
}

func TestControlMethodNotAllowed(t *testing.T) {
	env := newTestServer(t)
	resp := get(t, env.ts.URL+"/api/control/led")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("got %d, want 405", resp.StatusCode)
	}
}

func TestServoToggle(t *testing.T) {
	env := newTestServer(t)
	env.online(t)

	resp := post(t, env.ts.URL+"/api/control/servo/toggle", "")
	var res gate.Result
	decodeBody(t, resp, &res)
	if !res.Success {
		t.Errorf("unexpected result %+v", res)
	}
	if cmds := env.disp.Commands(); len(cmds) != 1 || cmds[0].Angle != 0 {
		t.Errorf("closed door should toggle to 0, got %+v", cmds)
	}
}

func TestWeatherRefresh(t *testing.T) {
	env := newTestServer(t)

	resp := post(t, env.ts.URL+"/api/weather/refresh", "")
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if env.fetcher.Calls() != 1 {
		t.Errorf("got %d fetches, want 1", env.fetcher.Calls())
	}

	env.fetcher.SetErr(errors.New("quota"))
	resp = post(t, env.ts.URL+"/api/weather/refresh", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status: got %d, want 502", resp.StatusCode)
	}
	var res gate.Result
	decodeBody(t, resp, &res)
	if res.Success || res.Message != "Failed to refresh weather data" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.online(t)
	env.offline(t)

	resp := get(t, env.ts.URL+"/api/history/presence?limit=1")
	var entries []history.Entry
	decodeBody(t, resp, &entries)
	if len(entries) != 1 || entries[0].To != presence.StatusOffline {
		t.Errorf("unexpected entries %+v", entries)
	}

	resp = get(t, env.ts.URL+"/api/history/presence?limit=zero")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got %d, want 400", resp.StatusCode)
	}
}

func TestHTMLEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.offline(t)

	resp := get(t, env.ts.URL+"/")
	if ct := resp.Header.Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type: got %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	html := string(body)
	for _, want := range []string{
		"Home Dashboard",
		"Device offline for 45s",
		`class="offline"`,
		"(weather)",
		"Jakarta",
		"1h 0m 0s",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
}

func TestHTMLShowsDeviceStatus(t *testing.T) {
	env := newTestServer(t)
	env.online(t)

	resp := get(t, env.ts.URL+"/index.html")
	body, _ := io.ReadAll(resp.Body)
	html := string(body)
	for _, want := range []string{"RAINBOW", "1h 2m 3s", "Good", "24.5 °C"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "(weather)") {
		t.Error("device reading should not be badged as weather")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestServer(t)
	env.online(t)
	io.ReadAll(get(t, env.ts.URL+"/api/connection").Body)

	resp := get(t, env.ts.URL+"/health")
	if resp.StatusCode != 200 {
		t.Errorf("health: got %d", resp.StatusCode)
	}

	resp = get(t, env.ts.URL+"/metrics")
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`home_dashboard_http_requests_total{route="/api/connection",status="200"} 1`,
		"home_dashboard_device_presence",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+"/api/control/led", nil)
	req.Header.Set("Origin", "http://example.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin: got %q, want *", got)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestServer(t)
	resp := get(t, env.ts.URL+"/nonexistent")
	if resp.StatusCode != 404 {
		t.Errorf("got %d, want 404", resp.StatusCode)
	}
}

func TestWebsocketPushesSnapshots(t *testing.T) {
	env := newTestServer(t)

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first status.DashboardJSON
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if first.Connection.Status != presence.StatusUnknown {
		t.Errorf("initial: got %q, want unknown", first.Connection.Status)
	}

	env.online(t)

	// Apply may notify more than once; read until the online snapshot arrives.
	for {
		var next status.DashboardJSON
		if err := conn.ReadJSON(&next); err != nil {
			t.Fatalf("read pushed snapshot: %v", err)
		}
		if next.Connection.Status == presence.StatusOnline {
			break
		}
	}
}
