package core

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"moodlefetch/lib/telemetry"

	"github.com/stretchr/testify/require"
)

const fakeAssertion = "PHNhbWxwOlJlc3BvbnNlPuKApjwvc2FtbHA6UmVzcG9uc2U+"

const federationLoginForm = `<!DOCTYPE html>
<html><body>
<form method="post" action="/adfs/ls/">
	<input name="UserName" type="email"/>
	<input name="Password" type="password"/>
	<input name="AuthMethod" type="hidden" value="FormsAuthentication"/>
</form>
</body></html>`

// the page the dashboard serves once the federation cookie is set: an
// auto-submit form carrying the assertion. The RelayState input is present
// like on the real page but the client is expected to ignore it and send the
// home url instead.
const assertionForm = `<!DOCTYPE html>
<html><body onload="document.forms[0].submit()">
<form method="post" action="%s">
	<input type="hidden" name="SAMLResponse" value="%s"/>
	<input type="hidden" name="RelayState" value="ignored-by-client"/>
</form>
</body></html>`

type fakePortal struct {
	mu sync.Mutex

	username string
	password string

	credentialPosts int
	assertionPosts  int
	lastUserName    string
	lastAuthMethod  string
	lastAssertion   string
	lastRelayState  string
}

func newFakePortal(t testing.TB, username, password string) (*fakePortal, Endpoints) {
	p := &fakePortal{username: username, password: password}

	mux := http.NewServeMux()
	mux.HandleFunc("/adfs/ls/", p.handleFederation)
	mux.HandleFunc("/moodle/", p.handleHome)
	mux.HandleFunc("/moodle/my/", p.handleDashboard)
	mux.HandleFunc("/moodle/auth/saml2/sp/saml2-acs.php/", p.handleAssertion)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	endpoints := Endpoints{
		FederationLogin:   server.URL + "/adfs/ls/?SAMLRequest=stub",
		Home:              server.URL + "/moodle/",
		AssertionConsumer: server.URL + "/moodle/auth/saml2/sp/saml2-acs.php/moodle.test",
	}
	return p, endpoints
}

func (p *fakePortal) handleFederation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fmt.Fprint(w, federationLoginForm)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.credentialPosts++
	p.lastUserName = r.PostForm.Get("UserName")
	p.lastAuthMethod = r.PostForm.Get("AuthMethod")
	expected := p.username
	granted := r.PostForm.Get("UserName") == `concordia.ca\`+expected &&
		r.PostForm.Get("Password") == p.password
	p.mu.Unlock()

	if granted {
		http.SetCookie(w, &http.Cookie{Name: "MSISAuth", Value: "ok", Path: "/"})
	}
	fmt.Fprint(w, federationLoginForm)
}

func (p *fakePortal) handleDashboard(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("MSISAuth")
	if err != nil || cookie.Value != "ok" {
		// unauthenticated sessions get the login form again, which has no
		// SAMLResponse input
		fmt.Fprint(w, federationLoginForm)
		return
	}
	fmt.Fprintf(w, assertionForm, "/moodle/auth/saml2/sp/saml2-acs.php/moodle.test", fakeAssertion)
}

func (p *fakePortal) handleAssertion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.assertionPosts++
	p.lastAssertion = r.PostForm.Get("SAMLResponse")
	p.lastRelayState = r.PostForm.Get("RelayState")
	p.mu.Unlock()

	if r.PostForm.Get("SAMLResponse") != fakeAssertion {
		http.Error(w, "bad assertion", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "MoodleSession", Value: "m00dle", Path: "/moodle/"})
	http.Redirect(w, r, "/moodle/", http.StatusSeeOther)
}

func (p *fakePortal) handleHome(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, `<!DOCTYPE html><html><body><h1>Portal home</h1></body></html>`)
}

func TestLogin(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/moodle/core")
	defer cleanup()

	ctx, span := tracer.Start(context.Background(), "TestLogin")
	defer span.End()

	portal, endpoints := newFakePortal(t, "jdoe", "hunter2")
	client, err := NewClient(ClientOptions{
		Endpoints: endpoints,
		Domain:    "concordia.ca",
	})
	if err != nil {
		t.Fatal(err)
	}

	err = client.Login(ctx, "jdoe", "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	require.Equal(t, 1, portal.credentialPosts)
	require.Equal(t, `concordia.ca\jdoe`, portal.lastUserName)
	require.Equal(t, "FormsAuthentication", portal.lastAuthMethod)
	require.Equal(t, 1, portal.assertionPosts)
	require.Equal(t, fakeAssertion, portal.lastAssertion)
	require.Equal(t, endpoints.Home, portal.lastRelayState,
		"RelayState must be the home url, not the page's own RelayState input")

	home, err := url.Parse(endpoints.Home)
	if err != nil {
		t.Fatal(err)
	}
	var cookieNames []string
	for _, c := range client.Http.GetClient().Jar.Cookies(home) {
		cookieNames = append(cookieNames, c.Name)
	}
	require.Contains(t, cookieNames, "MoodleSession")
}

func TestLoginWrongPassword(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/moodle/core")
	defer cleanup()

	ctx, span := tracer.Start(context.Background(), "TestLoginWrongPassword")
	defer span.End()

	portal, endpoints := newFakePortal(t, "jdoe", "hunter2")
	client, err := NewClient(ClientOptions{
		Endpoints: endpoints,
		Domain:    "concordia.ca",
	})
	if err != nil {
		t.Fatal(err)
	}

	err = client.Login(ctx, "jdoe", "letmein")
	require.ErrorIs(t, err, LoginFailed)
	require.Equal(t, 1, portal.credentialPosts)
	require.Equal(t, 0, portal.assertionPosts,
		"a handshake without an assertion must never reach the assertion consumer")
}

func TestDefaultEndpoints(t *testing.T) {
	endpoints := DefaultEndpoints()
	require.Equal(t, endpoints.Home+"my/", endpoints.Dashboard)

	federation, err := url.Parse(endpoints.FederationLogin)
	if err != nil {
		t.Fatal(err)
	}
	require.NotEmpty(t, federation.Query().Get("SAMLRequest"))

	hosts, err := endpoints.hosts()
	if err != nil {
		t.Fatal(err)
	}
	require.ElementsMatch(t, []string{"fas.concordia.ca", "moodle.concordia.ca"}, hosts)
}
