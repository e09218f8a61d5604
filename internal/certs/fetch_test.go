package certs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_FetchCA_FirstPeerWins(t *testing.T) {
	mgr, _ := newTestManager(t)

	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("FIRST-CA"))
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("SECOND-CA"))
	}))
	defer second.Close()

	mgr.client = first.Client()
	require.NoError(t, mgr.FetchCA(context.Background(), first.URL+"/ca.crt", second.URL+"/ca.crt"))

	data, err := os.ReadFile(mgr.Paths().CACert)
	require.NoError(t, err)
	assert.Equal(t, "FIRST-CA", string(data))
	assert.Equal(t, HasCA, mgr.State())
}

func TestManager_FetchCA_FallsThroughToNextPeer(t *testing.T) {
	mgr, _ := newTestManager(t)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("GOOD-CA"))
	}))
	defer good.Close()

	mgr.client = good.Client()
	require.NoError(t, mgr.FetchCA(context.Background(), bad.URL+"/ca.crt", good.URL+"/ca.crt"))

	data, err := os.ReadFile(mgr.Paths().CACert)
	require.NoError(t, err)
	assert.Equal(t, "GOOD-CA", string(data))
}

func TestManager_FetchCA_AllPeersFail(t *testing.T) {
	mgr, _ := newTestManager(t)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer bad.Close()

	mgr.client = bad.Client()
	err := mgr.FetchCA(context.Background(), bad.URL+"/ca.crt")
	assert.ErrorIs(t, err, ErrPeerUnreachable)
	assert.Equal(t, NoCerts, mgr.State())
}

func TestManager_FetchCAFromPeers_NoPeersConfigured(t *testing.T) {
	mgr, _ := newTestManager(t)

	err := mgr.FetchCAFromPeers(context.Background())
	assert.ErrorIs(t, err, ErrPeerUnreachable)
}
