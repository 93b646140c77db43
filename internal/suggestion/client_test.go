package suggestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-messenger/internal/domain"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Lookup(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat-suggestions/id", r.URL.Path)
		switch r.URL.Query().Get("id") {
		case "s-1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"reply":"Sure, it ships tomorrow","type":"text"}`))
		case "blank":
			_, _ = w.Write([]byte(`{"reply":"   "}`))
		case "boom":
			w.WriteHeader(http.StatusInternalServerError)
		case "garbage":
			_, _ = w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	c := NewClient(srv.URL+"/", time.Second)
	ctx := context.Background()

	reply, err := c.Lookup(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "Sure, it ships tomorrow", reply.Reply)
	assert.Equal(t, "text", reply.Type)

	reply, err = c.Lookup(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, reply)

	reply, err = c.Lookup(ctx, "blank")
	require.NoError(t, err)
	assert.Nil(t, reply)

	_, err = c.Lookup(ctx, "boom")
	assert.ErrorIs(t, err, domain.ErrExternalService)

	_, err = c.Lookup(ctx, "garbage")
	assert.ErrorIs(t, err, domain.ErrExternalService)
}

func TestClient_LookupTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	c := NewClient(srv.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := c.Lookup(context.Background(), "slow")
	assert.ErrorIs(t, err, domain.ErrExternalService)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNew_DisabledWithoutBaseURL(t *testing.T) {
	l := New("", time.Second)
	reply, err := l.Lookup(context.Background(), "anything")
	assert.NoError(t, err)
	assert.Nil(t, reply)
	assert.IsType(t, Disabled{}, l)
}
