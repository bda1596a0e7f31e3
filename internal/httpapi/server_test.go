package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/match"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/service"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store/memory"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
	"github.com/BrandonDHaskell/Portunus/gate/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/gate/internal/peripheral"
)

// ── Fixtures ─────────────────────────────────────────────────────────────────

// camera serves a fixed snapshot and an encoder that reports whatever face
// the test is currently showing.
type camera struct {
	mu   sync.Mutex
	face []float64
}

func (c *camera) show(fill float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.face = make([]float64, types.VectorLength)
	for i := range c.face {
		c.face[i] = fill
	}
}

func (c *camera) snapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write([]byte{0xff, 0xd8, 0xff})
}

func (c *camera) encode(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string][][]float64{"encodings": {}}
	if c.face != nil {
		out["encodings"] = [][]float64{c.face}
	}
	json.NewEncoder(w).Encode(out)
}

// cardReader hands out the queued UID after the next buffer reset, the way
// a person taps a card after the prompt.
type cardReader struct {
	mu      sync.Mutex
	queued  string
	pending string
}

func (r *cardReader) tap(uid string) {
	r.mu.Lock()
	r.queued = uid
	r.mu.Unlock()
}

func (r *cardReader) Poll() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == "" {
		return "", false
	}
	line := "UID: " + r.pending
	r.pending = ""
	return line, true
}

func (r *cardReader) ResetBuffers() {
	r.mu.Lock()
	r.pending, r.queued = r.queued, ""
	r.mu.Unlock()
}

func (r *cardReader) Present() bool { return true }

type fixture struct {
	ts     *httptest.Server
	camera *camera
	reader *cardReader
}

// newTestServer wires up the full dependency graph using the in-memory
// store, HTTP capture and extraction against local test servers, and a
// scripted card reader.
func newTestServer(t *testing.T, limiter *rate.Limiter) *fixture {
	t.Helper()

	cam := &camera{}
	mux := http.NewServeMux()
	mux.HandleFunc("/snapshot.jpg", cam.snapshot)
	mux.HandleFunc("/encode", cam.encode)
	peripherals := httptest.NewServer(mux)
	t.Cleanup(peripherals.Close)

	reader := &cardReader{}
	poller, err := service.NewCardPoller(reader, service.PollerConfig{
		Interval:    time.Millisecond,
		SettleDelay: time.Millisecond,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("poller: %v", err)
	}
	poller.Start(context.Background())
	t.Cleanup(poller.Stop)

	matcher, err := match.New(match.DefaultTolerance, match.PolicyFirst, types.VectorLength)
	if err != nil {
		t.Fatalf("matcher: %v", err)
	}

	registry := prometheus.NewRegistry()
	engine := service.NewEngine(service.Deps{
		Store:     memory.New(),
		Matcher:   matcher,
		Capture:   peripheral.NewHTTPCapture(peripherals.Client(), peripherals.URL+"/snapshot.jpg"),
		Extractor: peripheral.NewHTTPExtractor(peripherals.Client(), peripherals.URL+"/encode", 0),
		Poller:    poller,
		Lock:      peripheral.LogLock{},
		Metrics:   service.NewMetrics(registry),
		Logger:    zap.NewNop(),
	}, service.EngineConfig{CardWaitTimeout: 200 * time.Millisecond})

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:        zap.NewNop(),
		Addr:          ":0",
		Gate:          engine,
		Registry:      registry,
		UnlockLimiter: limiter,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, camera: cam, reader: reader}
}

func postJSON(t *testing.T, url, body string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func (f *fixture) enroll(t *testing.T, label string, fill float64) types.EnrollResult {
	t.Helper()
	f.camera.show(fill)
	var res types.EnrollResult
	body := fmt.Sprintf(`{"label":%q}`, label)
	if code := postJSON(t, f.ts.URL+"/v1/enroll", body, &res); code != http.StatusOK {
		t.Fatalf("enroll: expected 200, got %d", code)
	}
	return res
}

// ── Enroll ───────────────────────────────────────────────────────────────────

func TestEnroll_WithoutCard_Created(t *testing.T) {
	f := newTestServer(t, nil)

	res := f.enroll(t, "alice.jpg", 0.1)
	if res.Status != types.EnrollCreatedWithoutCard {
		t.Fatalf("expected created_without_card, got %q (%s)", res.Status, res.Reason)
	}
	if res.IdentityID != "alice" {
		t.Errorf("expected identity_id=alice, got %q", res.IdentityID)
	}
	if res.ServerTime == "" {
		t.Error("expected server_time to be set")
	}
}

func TestEnroll_Duplicate_Rejected(t *testing.T) {
	f := newTestServer(t, nil)
	f.enroll(t, "alice", 0.1)

	res := f.enroll(t, "alice", 0.9)
	if res.Status != types.EnrollRejected || res.Reason != types.ReasonDuplicate {
		t.Fatalf("expected rejected/%s, got %s/%s", types.ReasonDuplicate, res.Status, res.Reason)
	}
}

func TestEnroll_UnknownField_BadRequest(t *testing.T) {
	f := newTestServer(t, nil)

	code := postJSON(t, f.ts.URL+"/v1/enroll", `{"label":"alice","admin":true}`, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

// ── Unlock ───────────────────────────────────────────────────────────────────

func TestUnlock_BindThenToggle(t *testing.T) {
	f := newTestServer(t, nil)
	f.enroll(t, "alice", 0.1)

	f.camera.show(0.1)
	f.reader.tap("04A1B2C3")
	var res types.UnlockResult
	if code := postJSON(t, f.ts.URL+"/v1/unlock", `{"bind_if_unbound":true}`, &res); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if res.Status != types.UnlockGranted || !res.CardBound || res.Presence != types.PresenceInside {
		t.Fatalf("expected granted+bound+inside, got %+v", res)
	}

	f.reader.tap("04A1B2C3")
	if code := postJSON(t, f.ts.URL+"/v1/unlock", `{}`, &res); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if res.Status != types.UnlockGranted || res.Presence != types.PresenceOutside {
		t.Fatalf("expected granted+outside, got %+v", res)
	}

	var summary types.IdentitySummary
	if code := getJSON(t, f.ts.URL+"/v1/identities/alice", &summary); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !summary.HasBinding || summary.CardUIDSuffix != "…B2C3" {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestUnlock_EmptyBody_DeclinesBind(t *testing.T) {
	f := newTestServer(t, nil)
	f.enroll(t, "alice", 0.1)

	f.camera.show(0.1)
	f.reader.tap("04A1B2C3")
	resp, err := http.Post(f.ts.URL+"/v1/unlock", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var res types.UnlockResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Status != types.UnlockCancelled || res.Reason != types.ReasonBindDeclined {
		t.Fatalf("expected cancelled/bind_declined, got %s/%s", res.Status, res.Reason)
	}
}

func TestUnlock_NoCard_DeniedAndAudited(t *testing.T) {
	f := newTestServer(t, nil)
	f.enroll(t, "alice", 0.1)

	f.camera.show(0.1)
	var res types.UnlockResult
	postJSON(t, f.ts.URL+"/v1/unlock", `{}`, &res)
	if res.Status != types.UnlockDenied || res.Reason != types.ReasonNoCard {
		t.Fatalf("expected denied/no_card, got %s/%s", res.Status, res.Reason)
	}

	var audit struct {
		Entries []types.AuditEntry `json:"entries"`
	}
	if code := getJSON(t, f.ts.URL+"/v1/audit?limit=1", &audit); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(audit.Entries) != 1 || audit.Entries[0].Kind != types.KindDenied {
		t.Fatalf("expected one denied entry, got %+v", audit.Entries)
	}
}

func TestUnlock_Throttled(t *testing.T) {
	f := newTestServer(t, rate.NewLimiter(rate.Every(time.Hour), 1))

	f.camera.show(0.9)
	if code := postJSON(t, f.ts.URL+"/v1/unlock", `{}`, nil); code != http.StatusOK {
		t.Fatalf("expected first unlock 200, got %d", code)
	}
	if code := postJSON(t, f.ts.URL+"/v1/unlock", `{}`, nil); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

// ── Identities ───────────────────────────────────────────────────────────────

func TestIdentities_ListFilterAndRemove(t *testing.T) {
	f := newTestServer(t, nil)
	f.enroll(t, "alice", 0.1)
	f.enroll(t, "bob", 0.9)

	var list struct {
		Identities []types.IdentitySummary `json:"identities"`
	}
	getJSON(t, f.ts.URL+"/v1/identities?q=BO", &list)
	if len(list.Identities) != 1 || list.Identities[0].ID != "bob" {
		t.Fatalf("expected only bob, got %+v", list.Identities)
	}

	req, _ := http.NewRequest(http.MethodDelete, f.ts.URL+"/v1/identities/bob", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	var removed types.RemoveResult
	json.NewDecoder(resp.Body).Decode(&removed)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || removed.Status != types.RemoveRemoved {
		t.Fatalf("expected removed, got %d %+v", resp.StatusCode, removed)
	}

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	json.NewDecoder(resp.Body).Decode(&removed)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || removed.Status != types.RemoveNotFound {
		t.Fatalf("expected not_found on second remove, got %d %+v", resp.StatusCode, removed)
	}

	if code := getJSON(t, f.ts.URL+"/v1/identities/bob", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestIdentities_PhotoServedUntilRemoved(t *testing.T) {
	f := newTestServer(t, nil)
	f.enroll(t, "alice", 0.1)

	var summary types.IdentitySummary
	if code := getJSON(t, f.ts.URL+"/v1/identities/alice", &summary); code != http.StatusOK || !summary.HasPhoto {
		t.Fatalf("expected alice with a photo, got %d %+v", code, summary)
	}

	resp, err := http.Get(f.ts.URL + "/v1/identities/alice/photo")
	if err != nil {
		t.Fatalf("get photo: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %q", ct)
	}
	if !bytes.Equal(data, []byte{0xff, 0xd8, 0xff}) {
		t.Fatalf("expected the enrollment frame, got %x", data)
	}

	req, _ := http.NewRequest(http.MethodDelete, f.ts.URL+"/v1/identities/alice", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	var removed types.RemoveResult
	json.NewDecoder(resp.Body).Decode(&removed)
	resp.Body.Close()
	if removed.Status != types.RemoveRemoved || !removed.PhotoRemoved {
		t.Fatalf("expected removal to drop the photo, got %+v", removed)
	}

	if code := getJSON(t, f.ts.URL+"/v1/identities/alice/photo", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 after remove, got %d", code)
	}
}

func TestAudit_BadLimit(t *testing.T) {
	f := newTestServer(t, nil)
	if code := getJSON(t, f.ts.URL+"/v1/audit?limit=ten", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

// ── Status, cancel, metrics ──────────────────────────────────────────────────

func TestStatus(t *testing.T) {
	f := newTestServer(t, nil)
	f.enroll(t, "alice", 0.1)

	var st types.Status
	if code := getJSON(t, f.ts.URL+"/v1/status", &st); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if st.Identities != 1 || !st.ReaderPresent || st.MatchPolicy != "first" {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestCancel_NothingWaiting(t *testing.T) {
	f := newTestServer(t, nil)

	var out map[string]bool
	if code := postJSON(t, f.ts.URL+"/v1/cancel", "", &out); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if out["cancelled"] {
		t.Error("expected cancelled=false with no wait in progress")
	}
}

func TestMetrics_Exposed(t *testing.T) {
	f := newTestServer(t, nil)
	f.enroll(t, "alice", 0.1)

	resp, err := http.Get(f.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"gate_workflow_outcomes_total", "gate_http_requests_total"} {
		if !bytes.Contains(body, []byte(name)) {
			t.Errorf("expected %s in /metrics output", name)
		}
	}
}

// ── Protobuf ─────────────────────────────────────────────────────────────────

func TestEnroll_Protobuf(t *testing.T) {
	f := newTestServer(t, nil)
	f.camera.show(0.1)

	reqMsg, err := structpb.NewStruct(map[string]any{"label": "carol.png"})
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	payload, err := proto.Marshal(reqMsg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resp, err := http.Post(f.ts.URL+"/v1/enroll", "application/x-protobuf", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("expected protobuf response, got %q", ct)
	}
	raw, _ := io.ReadAll(resp.Body)
	var out structpb.Struct
	if err := proto.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	fields := out.AsMap()
	if fields["status"] != string(types.EnrollCreatedWithoutCard) || fields["identity_id"] != "carol" {
		t.Fatalf("unexpected response %v", fields)
	}
}
