package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/carwash-bot/internal/model"
)

const sessionCookie = "ASP.NET_SessionId"

type fakeTerminal struct {
	t        *testing.T
	server   *httptest.Server
	logins   atomic.Int32
	tableErr atomic.Int32

	partners   map[string]string
	bonusCalls atomic.Int32

	mu        sync.Mutex
	lastBonus map[string]string
	lastPhone string
}

func newFakeTerminal(t *testing.T) *fakeTerminal {
	t.Helper()

	f := &fakeTerminal{
		t:        t,
		partners: map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if !f.authorized(r) {
			http.Redirect(w, r, loginPath, http.StatusFound)
			return
		}
		http.Redirect(w, r, adminPath, http.StatusFound)
	})
	mux.HandleFunc(adminPath, func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			http.Redirect(w, r, loginPath, http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("<html>admin</html>"))
	})
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("<html>login form</html>"))
			return
		}
		f.logins.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse login form: %v", err)
		}
		if r.PostForm.Get("Login") != "operator" || r.PostForm.Get("Password") != "secret" {
			http.Redirect(w, r, loginPath, http.StatusFound)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "valid", Path: "/"})
		http.Redirect(w, r, adminPath, http.StatusFound)
	})
	mux.HandleFunc(tableSalesPath, func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			http.Redirect(w, r, loginPath, http.StatusFound)
			return
		}
		if code := f.tableErr.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		_, _ = w.Write([]byte("<table><tr><th>Id</th></tr></table>"))
	})
	mux.HandleFunc(partnersPath, func(w http.ResponseWriter, r *http.Request) {
		phone := r.URL.Query().Get("Phone")
		f.mu.Lock()
		f.lastPhone = phone
		f.mu.Unlock()

		result := f.partners[phone]
		if result == "" {
			result = "[]"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"Result": result})
	})
	mux.HandleFunc("/Modules/ModulePartial_Post", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ActionUrl") != "BonusChanges/Create" {
			t.Errorf("unexpected action: %s", r.URL.RawQuery)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse bonus form: %v", err)
		}
		f.mu.Lock()
		f.lastBonus = map[string]string{
			"IdPartnerCore": r.PostForm.Get("IdPartnerCore"),
			"BonusCount":    r.PostForm.Get("BonusCount"),
			"Comment":       r.PostForm.Get("Comment"),
		}
		f.mu.Unlock()
		f.bonusCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeTerminal) authorized(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	return err == nil && c.Value == "valid"
}

func newTestClient(t *testing.T, f *fakeTerminal, login, password string) *Client {
	t.Helper()

	c, err := NewClient(model.Terminal{
		ID:       7,
		URL:      f.server.URL + "/",
		Login:    login,
		Password: password,
	}, nil)
	require.NoError(t, err)
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestAcquire_LogsInOnceAndReusesCookies(t *testing.T) {
	f := newFakeTerminal(t)
	c := newTestClient(t, f, "operator", "secret")
	ctx := testContext(t)

	page, err := c.FetchSalesTable(ctx)
	require.NoError(t, err)
	assert.Contains(t, page, "<table>")
	assert.Equal(t, int32(1), f.logins.Load())
	assert.False(t, c.Open(), "session must be closed after the guarded block")

	_, err = c.FetchSalesTable(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.logins.Load(), "reopened session must reuse cookies")
}

func TestEnsureAuthenticated_Idempotent(t *testing.T) {
	f := newFakeTerminal(t)
	c := newTestClient(t, f, "operator", "secret")
	ctx := testContext(t)

	s, err := c.Acquire(ctx)
	require.NoError(t, err)
	defer s.Release()

	require.NoError(t, s.EnsureAuthenticated(ctx))
	require.NoError(t, s.EnsureAuthenticated(ctx))
	assert.Equal(t, int32(1), f.logins.Load())
}

func TestAcquire_NestedReusesOpenSession(t *testing.T) {
	f := newFakeTerminal(t)
	c := newTestClient(t, f, "operator", "secret")
	ctx := testContext(t)

	outer, err := c.Acquire(ctx)
	require.NoError(t, err)

	inner, err := c.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, outer.http, inner.http)

	inner.Release()
	inner.Release()
	assert.True(t, c.Open(), "outer session must stay open")

	outer.Release()
	assert.False(t, c.Open())
}

func TestAcquire_WrongCredentials(t *testing.T) {
	f := newFakeTerminal(t)
	c := newTestClient(t, f, "operator", "wrong")

	_, err := c.Acquire(testContext(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthentication), "got %v", err)
	assert.False(t, c.Open())
}

func TestFetchSalesTable_TransportError(t *testing.T) {
	f := newFakeTerminal(t)
	f.tableErr.Store(http.StatusBadGateway)
	c := newTestClient(t, f, "operator", "secret")

	_, err := c.FetchSalesTable(testContext(t))
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.True(t, IsTransport(err))
}

func TestFetchSalesTable_Unreachable(t *testing.T) {
	f := newFakeTerminal(t)
	c := newTestClient(t, f, "operator", "secret")
	f.server.Close()

	_, err := c.FetchSalesTable(testContext(t))
	require.Error(t, err)
	assert.True(t, IsTransport(err), "got %v", err)
}

func TestAddBonus(t *testing.T) {
	f := newFakeTerminal(t)
	f.partners["+7(909)233-01-23"] = `[{"Partner":{"Id":42}},{"Partner":{"Id":43}}]`
	c := newTestClient(t, f, "operator", "secret")
	ctx := testContext(t)

	err := c.Do(ctx, func(s *Session) error {
		return s.AddBonus(ctx, "89092330123", 100, "За плохой отзыв")
	})
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "+7(909)233-01-23", f.lastPhone)
	assert.Equal(t, int32(1), f.bonusCalls.Load())
	assert.Equal(t, map[string]string{
		"IdPartnerCore": "42",
		"BonusCount":    "100",
		"Comment":       "За плохой отзыв",
	}, f.lastBonus)
}

func TestAddBonus_UnknownPartner(t *testing.T) {
	f := newFakeTerminal(t)
	c := newTestClient(t, f, "operator", "secret")
	ctx := testContext(t)

	err := c.Do(ctx, func(s *Session) error {
		return s.AddBonus(ctx, "+79990000000", -20, "списание")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownPartner), "got %v", err)
	assert.Equal(t, int32(0), f.bonusCalls.Load())
}

func TestPartnerID_InvalidPhone(t *testing.T) {
	f := newFakeTerminal(t)
	c := newTestClient(t, f, "operator", "secret")
	ctx := testContext(t)

	err := c.Do(ctx, func(s *Session) error {
		_, err := s.PartnerID(ctx, "@asd123123l")
		return err
	})
	assert.True(t, errors.Is(err, ErrInvalidPhone), "got %v", err)
}
