package driver

import (
	"context"
	"testing"
	"time"

	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRESTTestDriver(t *testing.T, srv *fakeRESTServer) *Core {
	t.Helper()
	d, err := NewRESTDriver(RESTOptions{
		BaseURL:    srv.URL,
		Graph:      "cpg",
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	return d
}

func TestRESTDriver_Contract(t *testing.T) {
	runDriverContract(t, func(t *testing.T) Driver {
		return newRESTTestDriver(t, newFakeRESTServer(t))
	})
}

func TestRESTBackend_RetriesTransientFailures(t *testing.T) {
	srv := newFakeRESTServer(t)
	d := newRESTTestDriver(t, srv)
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx))

	srv.failNext.Store(4)
	before := srv.requests.Load()
	v := graph.NewVertex(graph.LabelMetaData, nil)
	require.NoError(t, d.AddVertex(ctx, v))

	// The existence check is skipped for unwritten vertices, so the four
	// failures and the successful attempt all belong to the create request.
	assert.Equal(t, int64(5), srv.requests.Load()-before)
	ok, err := d.VertexExists(ctx, v)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRESTBackend_ExhaustedRetriesReportUnavailable(t *testing.T) {
	srv := newFakeRESTServer(t)
	d := newRESTTestDriver(t, srv)
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx))

	srv.failNext.Store(5)
	v := graph.NewVertex(graph.LabelMetaData, nil)
	err := d.AddVertex(ctx, v)

	require.ErrorIs(t, err, graph.ErrBackendUnavailable)
	assert.False(t, v.Written(), "identifier must be released after a failed write")
}

func TestRESTBackend_EnvelopeErrorIsNotRetried(t *testing.T) {
	srv := newFakeRESTServer(t)
	b, err := NewRESTBackend(RESTOptions{BaseURL: srv.URL, Graph: "cpg", RetryDelay: time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()

	before := srv.requests.Load()
	_, err = b.query(ctx, "noSuchQuery", nil)

	require.ErrorIs(t, err, graph.ErrTransactionFailure)
	assert.Equal(t, int64(1), srv.requests.Load()-before)
}

func TestRESTDriver_CounterRestartsAboveStoredMaximum(t *testing.T) {
	srv := newFakeRESTServer(t)
	srv.vertices[41] = restVertex{ID: 41, Label: string(graph.LabelMetaData), Props: "{}"}

	d := newRESTTestDriver(t, srv)
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx))

	v := graph.NewVertex(graph.LabelFile, nil)
	require.NoError(t, d.AddVertex(ctx, v))
	assert.Equal(t, int64(42), v.ID)

	meta, err := d.GetMetaData(ctx)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, int64(41), meta.ID)
}

func TestNewRESTBackend_Validation(t *testing.T) {
	_, err := NewRESTBackend(RESTOptions{BaseURL: "not a url", Graph: "cpg"})
	assert.Error(t, err)

	_, err = NewRESTBackend(RESTOptions{BaseURL: "http://localhost:9000"})
	assert.Error(t, err)
}
