package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"popchain/pkg/consensus"
	"popchain/pkg/file"
	"popchain/pkg/pinned"
	"popchain/pkg/proof"
	"popchain/pkg/reward"
)

type stubRunner struct {
	called int
	err    error
}

func (r *stubRunner) RunRound() error {
	r.called++
	return r.err
}

type apiFixture struct {
	engine  *consensus.Engine
	rewards *reward.Scheduler
	pins    *pinned.Registry
	runner  *stubRunner
	ts      *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	fs := file.NewMemoryFileSystemAdapter()
	contents := make([]byte, 10000)
	for i := range contents {
		contents[i] = byte(i % 249)
	}
	fs.Files["/pins/video.bin"] = contents

	engCfg := consensus.NewEngineConfig()
	engCfg.Logger = log
	engine := consensus.NewEngine(fs, engCfg)

	rwCfg := reward.NewSchedulerConfig()
	rwCfg.Logger = log
	rewards, err := reward.NewScheduler(rwCfg)
	require.NoError(t, err)

	pins, err := pinned.NewRegistry("", log)
	require.NoError(t, err)

	runner := &stubRunner{}
	srv := NewServer("127.0.0.1:0", engine, rewards, pins, runner, log)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &apiFixture{engine: engine, rewards: rewards, pins: pins, runner: runner, ts: ts}
}

func (f *apiFixture) get(t *testing.T, path string) (int, APIResponse) {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func (f *apiFixture) post(t *testing.T, path string, payload interface{}) (int, APIResponse) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := http.Post(f.ts.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	code, body := f.get(t, "/api/health")
	require.Equal(t, http.StatusOK, code)
	require.True(t, body.Success)
}

func TestActiveRoundEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.get(t, "/api/v1/consensus/round")
	require.Equal(t, http.StatusOK, code)
	data := body.Data.(map[string]interface{})
	require.Equal(t, false, data["active"])

	_, err := f.engine.IssueChallengeAt("cid-video", "/pins/video.bin", []int{0, 2})
	require.NoError(t, err)

	code, body = f.get(t, "/api/v1/consensus/round")
	require.Equal(t, http.StatusOK, code)
	data = body.Data.(map[string]interface{})
	require.Equal(t, true, data["active"])
	challenge := data["challenge"].(map[string]interface{})
	require.Equal(t, "cid-video", challenge["cid"])
}

func TestHistoryAndPassingEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	ch, err := f.engine.IssueChallengeAt("cid-video", "/pins/video.bin", []int{0, 1})
	require.NoError(t, err)

	contents := make([]byte, 10000)
	for i := range contents {
		contents[i] = byte(i % 249)
	}
	blob, err := proof.BuildFromBytes(contents, ch.ChunkSize, ch.Offsets)
	require.NoError(t, err)
	require.NoError(t, f.engine.CollectResponse("node1", blob.Encode()))
	require.True(t, f.engine.ValidateResponses())

	code, body := f.get(t, "/api/v1/consensus/history")
	require.Equal(t, http.StatusOK, code)
	data := body.Data.(map[string]interface{})
	require.Equal(t, float64(1), data["count"])

	code, body = f.get(t, "/api/v1/consensus/passing")
	require.Equal(t, http.StatusOK, code)
	data = body.Data.(map[string]interface{})
	require.Equal(t, float64(1), data["count"])
	require.Equal(t, "node1", data["nodes"].([]interface{})[0])
}

func TestTriggerEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.post(t, "/api/v1/consensus/trigger", nil)
	require.Equal(t, http.StatusOK, code)
	require.True(t, body.Success)
	require.Equal(t, 1, f.runner.called)
}

func TestRewardEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	f.rewards.RecordPassingNodes([]string{"nodeA", "nodeB"})
	f.rewards.RecordPassingNodes([]string{"nodeA"})
	require.True(t, f.rewards.Distribute())

	code, body := f.get(t, "/api/v1/rewards/pool")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(0), body.Data.(map[string]interface{})["pool"])

	code, body = f.get(t, "/api/v1/rewards/balance/nodeA")
	require.Equal(t, http.StatusOK, code)
	data := body.Data.(map[string]interface{})
	require.Equal(t, float64(133), data["balance"])
	require.Equal(t, float64(2), data["streak"])

	code, body = f.get(t, "/api/v1/rewards/nodes")
	require.Equal(t, http.StatusOK, code)
	data = body.Data.(map[string]interface{})
	require.Equal(t, float64(2), data["count"])
}

func TestPinEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.post(t, "/api/v1/pinned", map[string]string{"cid": "QmCidA", "path": "/pins/a.bin"})
	require.Equal(t, http.StatusOK, code)
	require.True(t, body.Success)

	// 缺少路径的登记被拒绝
	code, body = f.post(t, "/api/v1/pinned", map[string]string{"cid": "QmCidB"})
	require.Equal(t, http.StatusBadRequest, code)
	require.False(t, body.Success)

	code, body = f.get(t, "/api/v1/pinned")
	require.Equal(t, http.StatusOK, code)
	data := body.Data.(map[string]interface{})
	require.Equal(t, float64(1), data["count"])

	req, err := http.NewRequest(http.MethodDelete, f.ts.URL+"/api/v1/pinned/QmCidA", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 0, f.pins.Count())
}

func TestCORSPreflights(t *testing.T) {
	f := newAPIFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/api/health", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
