package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fractal-lba/bouncer/internal/api"
	"github.com/fractal-lba/bouncer/internal/monitor"
	"github.com/fractal-lba/bouncer/internal/sigmadelta"
	"github.com/fractal-lba/bouncer/internal/wal"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("BOUNCER_CONFIG", "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func request(id string, pos bool, u, kick float64) api.TransitionRequest {
	before := sigmadelta.State{X: [3]float64{0.001, -0.002, 0.003}, Pos: pos}
	after := sigmadelta.Step(before, u, sigmadelta.DefaultParams())
	obs := make(map[string]monitor.Observation, len(sigmadelta.Signals))
	for i, name := range sigmadelta.Signals {
		obs[name] = monitor.Observation{Before: before.X[i], After: after.X[i]}
	}
	o := obs["x0"]
	o.After += kick
	obs["x0"] = o
	return api.TransitionRequest{ID: id, Source: "bench", Observations: obs}
}

func decodeRecords(t *testing.T, out string) []api.VerdictRecord {
	t.Helper()
	var recs []api.VerdictRecord
	dec := json.NewDecoder(strings.NewReader(out))
	for dec.More() {
		var rec api.VerdictRecord
		require.NoError(t, dec.Decode(&rec))
		recs = append(recs, rec)
	}
	return recs
}

func TestDescribe(t *testing.T) {
	out, err := execute(t, "", "describe", "--delta", "0.01")
	require.NoError(t, err)
	require.Contains(t, out, "Delta: 0.01")
	require.Contains(t, out, "Possible worlds: 4")
	require.Contains(t, out, "World 3:")
}

func TestBench(t *testing.T) {
	metricsFile := filepath.Join(t.TempDir(), "bench.prom")

	out, err := execute(t, "", "bench", "--dataset", "C,LPE", "--trajectories", "2", "--steps", "3",
		"--seed", "5", "--metrics-out", metricsFile)
	require.NoError(t, err)
	require.Contains(t, out, "C: 6 transitions")
	require.Contains(t, out, "LPE: 6 transitions")
	require.Contains(t, out, "Separation C vs LPE")
	require.NotContains(t, out, "Separation C vs SPE")

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	require.Contains(t, string(data), `bouncer_benchmark_transitions{dataset="C"} 6`)
	require.Contains(t, string(data), `bouncer_benchmark_transitions{dataset="LPE"} 6`)
}

func TestBenchUnknownDataset(t *testing.T) {
	_, err := execute(t, "", "bench", "--dataset", "XL", "--trajectories", "1", "--steps", "1")
	require.ErrorContains(t, err, `unknown dataset "XL"`)
}

func TestEvaluate(t *testing.T) {
	reqs := []api.TransitionRequest{request("a", true, 0.25, 0), request("", false, -0.1, 0), request("c", true, 0.25, 1)}
	body, err := json.Marshal(reqs)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "in.json")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	out, err := execute(t, "", "evaluate", "--file", path)
	require.NoError(t, err)

	recs := decodeRecords(t, out)
	require.Len(t, recs, 3)
	require.Equal(t, "a", recs[0].ID)
	require.True(t, recs[0].Inlier)
	require.Equal(t, recs[1].Digest, recs[1].ID)
	require.True(t, recs[1].Inlier)
	require.Equal(t, "c", recs[2].ID)
	require.False(t, recs[2].Inlier)
	require.Equal(t, -1, recs[2].World)
}

func TestEvaluateStdinRejectsInvalid(t *testing.T) {
	_, err := execute(t, `{"id":"empty","observations":{}}`, "evaluate")
	require.ErrorIs(t, err, api.ErrNoObservations)

	_, err = execute(t, `{"id":"partial","observations":{"x0":{"before":0,"after":0}}}`, "evaluate")
	require.ErrorIs(t, err, monitor.ErrMissingSignal)
}

func TestDecodeRequests(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantIDs []string
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"single", `{"id":"a","observations":{}}`, []string{"a"}, false},
		{"array", `[{"id":"a"},{"id":"b"}]`, []string{"a", "b"}, false},
		{"stream", "{\"id\":\"a\"}\n{\"id\":\"b\"}\n[{\"id\":\"c\"}]", []string{"a", "b", "c"}, false},
		{"garbage", `{"id":`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqs, err := decodeRequests(strings.NewReader(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			var ids []string
			for _, r := range reqs {
				ids = append(ids, r.ID)
			}
			require.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestReplay(t *testing.T) {
	w, err := wal.NewInboxWAL(t.TempDir())
	require.NoError(t, err)

	for _, req := range []api.TransitionRequest{request("in", true, 0.25, 0), request("out", true, 0.25, 1)} {
		body, err := json.Marshal(req)
		require.NoError(t, err)
		require.NoError(t, w.Append(body))
	}
	require.NoError(t, w.Append([]byte("not json")))
	require.NoError(t, w.Append([]byte(`{"observations":{}}`)))
	require.NoError(t, w.Close())

	sqlitePath := filepath.Join(t.TempDir(), "verdicts.db")
	t.Setenv("VERDICT_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", sqlitePath)

	out, err := execute(t, "", "replay", "--wal", w.Path(), "--persist")
	require.NoError(t, err)
	require.Contains(t, out, "Replayed 4 submissions: 1 inliers, 1 outliers, 1 rejected, 1 malformed, 0 torn lines")

	info, err := os.Stat(sqlitePath)
	require.NoError(t, err)
	require.NotZero(t, info.Size())
}

func TestVerdicts(t *testing.T) {
	w, err := wal.NewInboxWAL(t.TempDir())
	require.NoError(t, err)
	for _, req := range []api.TransitionRequest{request("in", true, 0.25, 0), request("out", false, -0.25, 1)} {
		body, err := json.Marshal(req)
		require.NoError(t, err)
		require.NoError(t, w.Append(body))
	}
	require.NoError(t, w.Close())

	t.Setenv("VERDICT_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "verdicts.db"))

	_, err = execute(t, "", "replay", "--wal", w.Path(), "--persist")
	require.NoError(t, err)

	out, err := execute(t, "", "verdicts")
	require.NoError(t, err)
	require.Contains(t, out, "Stored verdicts: 1 inliers, 1 outliers")
	recs := decodeRecords(t, out[:strings.Index(out, "Stored verdicts")])
	require.Len(t, recs, 2)

	out, err = execute(t, "", "verdicts", "--counts")
	require.NoError(t, err)
	require.Equal(t, "Stored verdicts: 1 inliers, 1 outliers\n", out)
}

func TestVerdictsNeedsListingBackend(t *testing.T) {
	t.Setenv("VERDICT_BACKEND", "memory")
	_, err := execute(t, "", "verdicts")
	require.ErrorContains(t, err, "does not support listing")
}

func TestReplayRequiresWAL(t *testing.T) {
	_, err := execute(t, "", "replay")
	require.ErrorContains(t, err, "--wal")
}
