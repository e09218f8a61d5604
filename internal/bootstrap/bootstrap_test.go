package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astranet/astranetctl/internal/certs"
	"github.com/astranet/astranetctl/internal/config"
)

type fakeCerts struct {
	state   certs.State
	ops     []string
	failOp  string
	failErr error
}

func (f *fakeCerts) State() certs.State { return f.state }

func (f *fakeCerts) do(op string, next certs.State) error {
	f.ops = append(f.ops, op)
	if op == f.failOp {
		return f.failErr
	}
	f.state = next
	return nil
}

func (f *fakeCerts) CreateCA(context.Context, bool) error {
	return f.do("create-ca", certs.HasCA)
}

func (f *fakeCerts) FetchCAFromPeers(context.Context) error {
	return f.do("fetch-ca", certs.HasCA)
}

func (f *fakeCerts) IssueNodeCert(context.Context) error {
	return f.do("node-cert", certs.HasNodeCert)
}

func (f *fakeCerts) IssueClientCert(context.Context) error {
	return f.do("client-cert", certs.HasClientCert)
}

type fakeDB struct {
	ops       []string
	startErr  error
	initErr   error
	firstNode bool
}

func (f *fakeDB) Start(_ context.Context, isFirstNode bool) error {
	f.ops = append(f.ops, "start")
	f.firstNode = isFirstNode
	return f.startErr
}

func (f *fakeDB) InitCluster(context.Context) error {
	f.ops = append(f.ops, "init")
	return f.initErr
}

func writePlan(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func newStore(t *testing.T) *config.Store {
	t.Helper()
	return config.NewStore(filepath.Join(t.TempDir(), "config.json"))
}

func TestLoadPlan(t *testing.T) {
	path := writePlan(t, `
config:
  sql_port: 26257
  http_port: 8080
  domain: node1.local
  cluster_nodes: ["node2.local:26257"]
  database_name: astranetdb
  admin_user: admin
  admin_password: secret
  ca_server_port: 8443
first_node: true
`)
	plan, err := LoadPlan(path)
	require.NoError(t, err)
	assert.True(t, plan.FirstNode)
	assert.False(t, plan.FetchCA)
	assert.Equal(t, "node1.local", plan.Config.Domain)
	assert.Equal(t, []string{"node2.local:26257"}, plan.Config.ClusterNodes)
}

func TestLoadPlan_FetchCARequiresPeers(t *testing.T) {
	path := writePlan(t, `
config:
  sql_port: 26257
  http_port: 8080
  domain: node2.local
  database_name: astranetdb
  admin_user: admin
  admin_password: secret
  ca_server_port: 8443
fetch_ca: true
`)
	_, err := LoadPlan(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cluster_nodes")
}

func TestLoadPlan_FirstNodeAndFetchCAExclusive(t *testing.T) {
	path := writePlan(t, `
config:
  sql_port: 26257
  http_port: 8080
  domain: node2.local
  cluster_nodes: ["node1.local:26257"]
  database_name: astranetdb
  admin_user: admin
  admin_password: secret
  ca_server_port: 8443
first_node: true
fetch_ca: true
`)
	_, err := LoadPlan(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestLoadPlan_Malformed(t *testing.T) {
	path := writePlan(t, "config: [not a mapping")
	_, err := LoadPlan(path)
	assert.Error(t, err)
}

func TestApply_FirstNodeFullSequence(t *testing.T) {
	fc := &fakeCerts{state: certs.NoCerts}
	fd := &fakeDB{}
	r := NewRunner(zerolog.Nop(), newStore(t), fc, fd)

	plan := Plan{Config: config.Defaults(), FirstNode: true}
	require.NoError(t, r.Apply(context.Background(), plan))

	assert.Equal(t, []string{"create-ca", "node-cert", "client-cert"}, fc.ops)
	assert.Equal(t, []string{"start", "init"}, fd.ops)
	assert.True(t, fd.firstNode)
}

func TestApply_JoiningNodeFetchesCA(t *testing.T) {
	fc := &fakeCerts{state: certs.NoCerts}
	fd := &fakeDB{}
	r := NewRunner(zerolog.Nop(), newStore(t), fc, fd)

	cfg := config.Defaults()
	cfg.ClusterNodes = []string{"node1.local:26257"}
	plan := Plan{Config: cfg, FetchCA: true}
	require.NoError(t, r.Apply(context.Background(), plan))

	assert.Equal(t, []string{"fetch-ca", "node-cert", "client-cert"}, fc.ops)
	assert.Equal(t, []string{"start"}, fd.ops)
	assert.False(t, fd.firstNode)
}

func TestApply_FallsBackToLocalCAWhenPeersUnreachable(t *testing.T) {
	fc := &fakeCerts{state: certs.NoCerts, failOp: "fetch-ca", failErr: certs.ErrPeerUnreachable}
	fd := &fakeDB{}
	r := NewRunner(zerolog.Nop(), newStore(t), fc, fd)

	cfg := config.Defaults()
	cfg.ClusterNodes = []string{"node1.local:26257"}
	require.NoError(t, r.Apply(context.Background(), Plan{Config: cfg, FetchCA: true}))

	assert.Equal(t, []string{"fetch-ca", "create-ca", "node-cert", "client-cert"}, fc.ops)
	assert.Equal(t, []string{"start"}, fd.ops)
}

func TestApply_ResumesFromExistingCerts(t *testing.T) {
	fc := &fakeCerts{state: certs.HasNodeCert}
	fd := &fakeDB{}
	r := NewRunner(zerolog.Nop(), newStore(t), fc, fd)

	require.NoError(t, r.Apply(context.Background(), Plan{Config: config.Defaults()}))
	assert.Equal(t, []string{"client-cert"}, fc.ops)
}

func TestApply_SkipsCertsWhenComplete(t *testing.T) {
	fc := &fakeCerts{state: certs.HasClientCert}
	fd := &fakeDB{}
	r := NewRunner(zerolog.Nop(), newStore(t), fc, fd)

	require.NoError(t, r.Apply(context.Background(), Plan{Config: config.Defaults()}))
	assert.Empty(t, fc.ops)
	assert.Equal(t, []string{"start"}, fd.ops)
}

func TestApply_FailFastOnCertError(t *testing.T) {
	fc := &fakeCerts{state: certs.NoCerts, failOp: "node-cert", failErr: errors.New("tool exploded")}
	fd := &fakeDB{}
	r := NewRunner(zerolog.Nop(), newStore(t), fc, fd)

	err := r.Apply(context.Background(), Plan{Config: config.Defaults(), FirstNode: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node certificate")
	assert.Empty(t, fd.ops)
}

func TestApply_FailFastOnStartError(t *testing.T) {
	fc := &fakeCerts{state: certs.HasClientCert}
	fd := &fakeDB{startErr: errors.New("port in use")}
	r := NewRunner(zerolog.Nop(), newStore(t), fc, fd)

	err := r.Apply(context.Background(), Plan{Config: config.Defaults(), FirstNode: true})
	require.Error(t, err)
	assert.Equal(t, []string{"start"}, fd.ops)
}

func TestApply_PersistsConfig(t *testing.T) {
	store := newStore(t)
	fc := &fakeCerts{state: certs.HasClientCert}
	r := NewRunner(zerolog.Nop(), store, fc, &fakeDB{})

	cfg := config.Defaults()
	cfg.Domain = "node7.local"
	require.NoError(t, r.Apply(context.Background(), Plan{Config: cfg}))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "node7.local", got.Domain)
}
