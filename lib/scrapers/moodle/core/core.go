package core

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"

	"moodlefetch/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// LoginFailed reports a handshake that reached the portal but did not produce
// an authenticated session: bad credentials, an expired federation session or
// a page shape the scraper no longer recognizes. Transport errors are returned
// as-is and do not wrap it.
var LoginFailed = fmt.Errorf("Failed to login to your account.")

// Endpoints holds the fixed addresses of the login handshake. The federation
// login URL carries a pre-signed SAMLRequest query, so it is configuration
// and never computed.
type Endpoints struct {
	// ADFS forms-authentication endpoint, including the SAMLRequest query.
	FederationLogin string `json:"federation_login"`
	// Portal home page, with trailing slash. Doubles as the RelayState value.
	Home string `json:"home"`
	// Page that serves the auto-submit SAML form once the federation cookie
	// is set. Defaults to Home + "my/".
	Dashboard string `json:"dashboard"`
	// The portal's saml2-acs.php endpoint.
	AssertionConsumer string `json:"assertion_consumer"`
}

// DefaultEndpoints returns the endpoints of Concordia University's portal.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		FederationLogin:   "https://fas.concordia.ca/adfs/ls/?SAMLRequest=lZJfS8MwFMW%2FSsl7m%2FSPmwtbYTrEwdSxVR98kWuSukCb1NxU9NvbtYob6MC3cHJ%2F9557uFOEumr4vPU7s1GvrUIfvNeVQd5%2FzEjrDLeAGrmBWiH3gm%2FnNyueRIw3znorbEUOkNMEICrntTUkWC5m5InBKBuNk0mZSpaJcapKOZExTLJElaKMxylLk3ORjc4lCR6Uw46cka5RhyO2amnQg%2FGdxJI4ZGnIzgqW8mTEWfJIgkW3jTbge2rnfYOc0hIwEtYI66SGSAAFWSKtkJJg%2Fu3u0hpsa%2BW2yr1poe43qx%2B%2BtlZW6rjFoFHoUqT7EBKKzfAIQWDU7JrfMBKsvwK80EZq83I6u%2BehCPl1UazD9d22IPl0P4T3Wbj83w5r5UGCh73BKT1sNR3O4rYzsVysbaXFR3BlXQ3%2Bb49xFPeKlmHZl%2FLWYKOELrWShObDhONbyz8B&RelayState=https%3A%2F%2Fmoodle.concordia.ca%2Fmoodle%2Fauth%2Fsaml2%2Flogin.php%3Fwants%26idp%3D56f3be3eabcae573100b88c23d68c53e%26passive%3Doff&SigAlg=http%3A%2F%2Fwww.w3.org%2F2001%2F04%2Fxmldsig-more%23rsa-sha256&Signature=wlcGZg%2BNbPGxuhd4xnpbQDUzOxFXGyzxbNdjqIMyhRMHX6L9JFo5iR5cV34EYH6bun5TusJBpRvSWiif27vab9GK66smHR17q7cb%2BXmBEQcgiXAh72ZDfKYKs47Xq41pgltss1tQBzwkaN%2Fll%2BpTPDgjZBNIGZdtnEqmFBcXPrHsORplz%2FvC8tr7CYOiw3C1R%2FvRV%2FKPyzBHda%2BkdJ%2Bcm3UmbVPhU%2FCw92kQaLzRdQ0V%2Bf0Mq%2BpkVnOKGy%2BKP8pIzw2RWEyYj4czkRaP%2FX6PSlkYXKYGy12NyB%2FYfGZCpN9kfMjbAImc%2BnWSY8QplML0QdbuX3P2%2Fdg2DBvYv4NLZQ%3D%3D&client-request-id=cc2ef1e1-129b-436b-b226-008000000092",
		Home:              "https://moodle.concordia.ca/moodle/",
		Dashboard:         "https://moodle.concordia.ca/moodle/my/",
		AssertionConsumer: "https://moodle.concordia.ca:443/moodle/auth/saml2/sp/saml2-acs.php/moodle.concordia.ca",
	}
}

// hosts returns the unique hostnames the handshake is allowed to touch,
// which bounds the client's redirect policy.
func (e Endpoints) hosts() ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, raw := range []string{e.FederationLogin, e.Home, e.Dashboard, e.AssertionConsumer} {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint %q: %w", raw, err)
		}
		host := u.Hostname()
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true
		out = append(out, host)
	}
	return out, nil
}

type ClientOptions struct {
	Endpoints Endpoints
	// NT-style account domain, e.g. "concordia.ca". Prefixed to the username
	// as `domain\username` when posting credentials. Empty means the username
	// is sent as-is.
	Domain string
}

// Client is an authenticated portal session. The cookie jar carries the
// session; it is only written during Login, so a logged-in client is safe to
// share across goroutines.
type Client struct {
	Endpoints Endpoints
	Domain    string
	Http      *resty.Client
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Endpoints.Dashboard == "" {
		opts.Endpoints.Dashboard = opts.Endpoints.Home + "my/"
	}
	hosts, err := opts.Endpoints.hosts()
	if err != nil {
		return nil, err
	}

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(hosts...))

	// 2 requests max per second
	// max burst >= 2 just means that no requests will be dropped
	rateLimiter := rate.NewLimiter(2, 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)

	c := &Client{
		Endpoints: opts.Endpoints,
		Domain:    opts.Domain,
		Http:      client,
	}
	return c, nil
}

// Login replays the portal's SAML2 web-SSO handshake: post the credentials to
// the federation endpoint, pick the SAMLResponse out of the auto-submit form
// the dashboard then serves, and deliver it to the assertion consumer. One
// shot, no retries. On success the cookie jar authenticates all portal
// requests.
func (c *Client) Login(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	account := username
	if c.Domain != "" {
		account = c.Domain + `\` + username
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"UserName":   account,
			"Password":   password,
			"AuthMethod": "FormsAuthentication",
		}).
		Post(c.Endpoints.FederationLogin)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post credentials")
		return err
	}
	if res.StatusCode() >= 400 {
		span.SetStatus(codes.Error, "credential post rejected")
		return fmt.Errorf("%w: federation endpoint returned %s", LoginFailed, res.Status())
	}

	res, err = c.Http.R().
		SetContext(ctx).
		Get(c.Endpoints.Dashboard)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch dashboard")
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse dashboard html")
		return err
	}

	// a session that failed to authenticate gets the login form served again,
	// which has no SAMLResponse input
	samlResponse := doc.Find("input[name=SAMLResponse]").AttrOr("value", "")
	if samlResponse == "" {
		span.SetStatus(codes.Error, LoginFailed.Error())
		return fmt.Errorf("%w (no SAMLResponse field on the federated login page)", LoginFailed)
	}

	res, err = c.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"SAMLResponse": samlResponse,
			"RelayState":   c.Endpoints.Home,
		}).
		Post(c.Endpoints.AssertionConsumer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deliver assertion")
		return err
	}
	if res.StatusCode() >= 400 {
		span.SetStatus(codes.Error, "assertion rejected")
		return fmt.Errorf("%w: assertion consumer returned %s", LoginFailed, res.Status())
	}

	return nil
}
