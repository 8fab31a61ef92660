package llm

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/models"
)

// stubProvider 把请求发往测试服务器，响应体原样返回
type stubProvider struct {
	url   string
	panic bool
}

func (s *stubProvider) Initialize(map[string]string) error { return nil }
func (s *stubProvider) GetName() string { return "stub" }
func (s *stubProvider) GetSupportedModels() []string { return nil }

func (s *stubProvider) FormatPayload(messages []models.ChatMessage) Payload {
	return MergeLeadingSystem(DropErrors(messages))
}

func (s *stubProvider) BuildRequest(ctx context.Context, payload Payload, params RequestParams) (*http.Request, error) {
	return NewJSONRequest(ctx, s.url, payload, nil)
}

func (s *stubProvider) BuildTestRequest(ctx context.Context, apiKey, model string) (*http.Request, error) {
	return NewJSONRequest(ctx, s.url, map[string]string{"model": model}, nil)
}

func (s *stubProvider) ParseResponse(body []byte) string {
	if s.panic {
		panic("boom")
	}
	return string(body)
}

func TestCallSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte("reply"))
	}))
	defer srv.Close()

	d := NewDispatcher(srv.Client())
	text, err := d.Call(context.Background(), &stubProvider{url: srv.URL}, MessageList{}, RequestParams{})
	require.NoError(t, err)
	assert.Equal(t, "reply", text)
	assert.False(t, d.InFlight())
}

func TestCallNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	d := NewDispatcher(nil)
	_, err := d.Call(context.Background(), &stubProvider{url: srv.URL}, MessageList{}, RequestParams{})
	require.Error(t, err)
	assert.True(t, errors.IsTransportError(err))
	assert.Equal(t, "API 錯誤 (429): slow down", err.Error())
}

func TestCallRecoversFromParserPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	d := NewDispatcher(nil)
	text, err := d.Call(context.Background(), &stubProvider{url: srv.URL, panic: true}, MessageList{}, RequestParams{})
	require.NoError(t, err)
	assert.Equal(t, WarnMalformed, text)
}

// blockingServer 请求到达后一直挂起，直到客户端断开或测试结束
func blockingServer(t *testing.T) (*httptest.Server, <-chan struct{}) {
	arrived := make(chan struct{}, 4)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv, arrived
}

func TestAbort(t *testing.T) {
	srv, arrived := blockingServer(t)
	d := NewDispatcher(nil)
	assert.False(t, d.Abort())

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Call(context.Background(), &stubProvider{url: srv.URL}, MessageList{}, RequestParams{})
		errCh <- err
	}()

	<-arrived
	assert.True(t, d.InFlight())
	assert.True(t, d.Abort())

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, ErrAborted))
	case <-time.After(5 * time.Second):
		t.Fatal("aborted call did not return")
	}
	assert.False(t, d.InFlight())
}

func TestNewCallSupersedesPrevious(t *testing.T) {
	srv, arrived := blockingServer(t)
	d := NewDispatcher(nil)
	p := &stubProvider{url: srv.URL}

	var wg sync.WaitGroup
	wg.Add(1)
	var first error
	go func() {
		defer wg.Done()
		_, first = d.Call(context.Background(), p, MessageList{}, RequestParams{})
	}()
	<-arrived

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_, _ = d.Call(ctx, p, MessageList{}, RequestParams{})
	}()

	wg.Wait()
	assert.True(t, stderrors.Is(first, ErrAborted))

	<-arrived
	assert.True(t, d.InFlight())
	assert.True(t, d.Abort())
}

func TestTestConnection(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte("bad key"))
	}))
	defer srv.Close()

	d := NewDispatcher(nil)
	ok, err := d.TestConnection(context.Background(), &stubProvider{url: srv.URL}, "k", "m")
	require.NoError(t, err)
	assert.True(t, ok)

	status.Store(http.StatusUnauthorized)
	ok, err = d.TestConnection(context.Background(), &stubProvider{url: srv.URL}, "k", "m")
	assert.False(t, ok)
	require.Error(t, err)
	assert.Equal(t, "(401) bad key", err.Error())
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := NewDispatcher(nil)
	_, err := d.Call(context.Background(), &stubProvider{url: url}, MessageList{}, RequestParams{})
	require.Error(t, err)
	assert.True(t, errors.IsTransportError(err))
	assert.False(t, stderrors.Is(err, ErrAborted))
}
