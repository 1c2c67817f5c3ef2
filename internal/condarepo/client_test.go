package condarepo_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bilusteknoloji/flux/internal/condarepo"
)

func newTestRepodata() condarepo.Repodata {
	return condarepo.Repodata{
		Info: condarepo.RepodataInfo{Subdir: "linux-64"},
		Conda: map[string]condarepo.Record{
			"numpy-1.26.0-py312h_0.conda": {
				Name: "numpy", Version: "1.26.0", Build: "py312h_0",
				Depends: []string{"python >=3.12", "libgcc >=12"},
				SHA256:  "abc123",
			},
		},
		Packages: map[string]condarepo.Record{
			"numpy-1.25.0-py311h_0.tar.bz2": {
				Name: "numpy", Version: "1.25.0", Build: "py311h_0",
			},
		},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (condarepo.Client, string) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return condarepo.New(condarepo.WithHTTPClient(srv.Client())), srv.URL
}

func TestFetchRepodata(t *testing.T) {
	rd := newTestRepodata()

	client, baseURL := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conda-forge/linux-64/repodata.json" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		_ = json.NewEncoder(w).Encode(rd)
	})

	got, err := client.FetchRepodata(context.Background(), baseURL+"/conda-forge", "linux-64")
	if err != nil {
		t.Fatalf("FetchRepodata: %v", err)
	}

	if got.Info.Subdir != "linux-64" {
		t.Errorf("unexpected subdir: %+v", got.Info)
	}

	if len(got.Conda) != 1 {
		t.Errorf("expected 1 conda record, got %d", len(got.Conda))
	}
}

func TestCandidatesReturnsBothFormatsSorted(t *testing.T) {
	rd := newTestRepodata()

	client, baseURL := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rd)
	})

	candidates, err := client.Candidates(context.Background(), baseURL+"/conda-forge", "linux-64", "numpy")
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(candidates), candidates)
	}

	if candidates[0].Filename > candidates[1].Filename {
		t.Errorf("candidates not sorted: %+v", candidates)
	}
}

func TestFetchRepodataCachesWithinService(t *testing.T) {
	rd := newTestRepodata()

	requests := 0

	client, baseURL := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		_ = json.NewEncoder(w).Encode(rd)
	})

	ctx := context.Background()

	if _, err := client.FetchRepodata(ctx, baseURL+"/conda-forge", "linux-64"); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	if _, err := client.FetchRepodata(ctx, baseURL+"/conda-forge", "linux-64"); err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if requests != 1 {
		t.Errorf("expected repodata to be fetched once and cached, got %d requests", requests)
	}
}

func TestFetchRepodataNotFound(t *testing.T) {
	client, baseURL := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.FetchRepodata(context.Background(), baseURL+"/conda-forge", "linux-64")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
}
