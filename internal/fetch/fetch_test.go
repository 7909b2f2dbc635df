package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/reactive-labs/internal/sched"
	"github.com/signalsfoundry/reactive-labs/timectrl"
)

var epoch = time.Unix(0, 0).UTC()

func TestSim_DeliversAfterLatency(t *testing.T) {
	s := sched.NewSimulated(epoch)
	f := NewSim(s).Handle("/user", Route{Latency: time.Second, Body: "user"})

	var got []Response
	f.Fetch(context.Background(), "/user", func(r Response) { got = append(got, r) })

	s.Advance(999 * time.Millisecond)
	assert.Empty(t, got)

	s.Advance(time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, "user", got[0].Body)
	assert.NoError(t, got[0].Err)
	assert.Equal(t, []string{"/user"}, f.Calls())
}

func TestSim_ErrorsAreTransportErrors(t *testing.T) {
	s := sched.NewSimulated(epoch)
	boom := errors.New("Service B failed after 1200ms")
	f := NewSim(s).
		Handle("/b", Route{Latency: 1200 * time.Millisecond, Err: boom}).
		HandlePrefix("/posts", Route{Latency: 10 * time.Millisecond, Status: 503})

	errs := map[string]error{}
	cb := func(r Response) { errs[r.URL] = r.Err }
	f.Fetch(context.Background(), "/b", cb)
	f.Fetch(context.Background(), "/posts?q=x", cb)
	f.Fetch(context.Background(), "/missing", cb)
	s.Advance(2 * time.Second)

	require.Len(t, errs, 3)
	var te *TransportError
	require.ErrorAs(t, errs["/b"], &te)
	assert.ErrorIs(t, errs["/b"], boom)
	require.ErrorAs(t, errs["/posts?q=x"], &te)
	assert.Equal(t, 503, te.Status)
	assert.Contains(t, errs["/posts?q=x"].Error(), "HTTP error! status: 503")
	require.ErrorAs(t, errs["/missing"], &te)
	assert.Equal(t, 404, te.Status)
	assert.False(t, IsAbort(errs["/b"]))
}

func TestSim_CancelDeliversAbortOnce(t *testing.T) {
	s := sched.NewSimulated(epoch)
	f := NewSim(s).Handle("/slow", Route{Latency: 5 * time.Second, Body: "late"})

	var got []Response
	cancel := f.Fetch(context.Background(), "/slow", func(r Response) { got = append(got, r) })
	s.Advance(time.Second)
	cancel()
	cancel()
	s.Advance(10 * time.Second)

	require.Len(t, got, 1)
	assert.True(t, IsAbort(got[0].Err))
	assert.Equal(t, 1, f.Aborted())
}

func TestSim_CancelAfterDeliveryIsNoop(t *testing.T) {
	s := sched.NewSimulated(epoch)
	f := NewSim(s).Handle("/fast", Route{Latency: time.Millisecond, Body: 1})

	var got []Response
	cancel := f.Fetch(context.Background(), "/fast", func(r Response) { got = append(got, r) })
	s.Advance(time.Second)
	cancel()
	s.Advance(time.Second)

	require.Len(t, got, 1)
	assert.NoError(t, got[0].Err)
	assert.Zero(t, f.Aborted())
}

func TestSim_Resolver(t *testing.T) {
	s := sched.NewSimulated(epoch)
	f := NewSim(s).Resolve(func(url string) (Route, bool) {
		return Route{Body: url + "!"}, true
	})

	var got any
	f.Fetch(context.Background(), "/echo", func(r Response) { got = r.Body })
	s.RunDue()
	assert.Equal(t, "/echo!", got)
}

func waitForDelivery(t *testing.T, s *sched.Scheduler, done func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.RunDue()
		return done()
	}, 5*time.Second, 5*time.Millisecond)
}

func TestHTTP_DecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"title":"first"}]`))
	}))
	defer srv.Close()

	s := sched.New(timectrl.WallClock{})
	f := NewHTTP(s)

	var got *Response
	f.Fetch(context.Background(), srv.URL+"/posts", func(r Response) { got = &r })
	waitForDelivery(t, s, func() bool { return got != nil })

	require.NoError(t, got.Err)
	list, ok := got.Body.([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "first", list[0].(map[string]any)["title"])
}

func TestHTTP_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := sched.New(timectrl.WallClock{})
	f := NewHTTP(s, WithClient(srv.Client()))

	var got *Response
	f.Fetch(context.Background(), srv.URL, func(r Response) { got = &r })
	waitForDelivery(t, s, func() bool { return got != nil })

	var te *TransportError
	require.ErrorAs(t, got.Err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.Status)
}

func TestHTTP_CancelReportsAbort(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	s := sched.New(timectrl.WallClock{})
	f := NewHTTP(s)

	var got *Response
	cancel := f.Fetch(context.Background(), srv.URL, func(r Response) { got = &r })
	cancel()
	waitForDelivery(t, s, func() bool { return got != nil })

	assert.True(t, IsAbort(got.Err))
}
