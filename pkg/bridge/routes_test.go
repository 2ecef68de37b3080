package bridge

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-callbridge/internal/log"
	"github.com/teslashibe/go-callbridge/pkg/agent"
	"github.com/teslashibe/go-callbridge/pkg/twilio"
)

func newTestApp(t *testing.T, opts ...Option) *fiber.App {
	t.Helper()
	base := []Option{
		WithDialer(func(context.Context, agent.Settings) (AgentConn, error) { return nil, nil }),
		WithLogger(log.Discard()),
	}
	b, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	app := fiber.New()
	b.RegisterRoutes(app)
	return app
}

func postForm(t *testing.T, app *fiber.App, path string, form url.Values, headers map[string]string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Host = "calls.example.com"
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

// sign computes the X-Twilio-Signature for a form POST: HMAC-SHA1 over the
// URL followed by every parameter name and value in name order.
func sign(token, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(token))
	io.WriteString(mac, fullURL)
	for _, k := range keys {
		io.WriteString(mac, k+params.Get(k))
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestIncomingConnectsOwner(t *testing.T) {
	app := newTestApp(t, WithOwnerPhone("+15550001111"))

	form := url.Values{"From": {"+15550001111"}, "CallSid": {"CA1"}}
	resp, body := postForm(t, app, "/twilio/incoming", form, nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != twilio.ContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	if want, _ := twilio.ConnectStream("wss://calls.example.com/twilio/media"); body != want {
		t.Errorf("body = %s", body)
	}
}

func TestIncomingRejectsStranger(t *testing.T) {
	app := newTestApp(t, WithOwnerPhone("+15550001111"))

	resp, body := postForm(t, app, "/twilio/incoming", url.Values{"From": {"+15559999999"}}, nil)
	if want, _ := twilio.Reject(); resp.StatusCode != http.StatusOK || body != want {
		t.Errorf("status = %d, body = %s", resp.StatusCode, body)
	}
}

func TestIncomingWithoutOwnerAcceptsAll(t *testing.T) {
	app := newTestApp(t)

	_, body := postForm(t, app, "/twilio/incoming", url.Values{"From": {"+15559999999"}}, nil)
	if !strings.Contains(body, "<Connect>") {
		t.Errorf("body = %s", body)
	}
}

func TestIncomingForwardedHost(t *testing.T) {
	app := newTestApp(t)

	_, body := postForm(t, app, "/twilio/incoming", url.Values{"From": {"+1"}}, map[string]string{
		"X-Forwarded-Proto": "https",
		"X-Forwarded-Host":  "tunnel.example.net",
	})
	if !strings.Contains(body, `url="wss://tunnel.example.net/twilio/media"`) {
		t.Errorf("body = %s", body)
	}
}

func TestIncomingSignature(t *testing.T) {
	app := newTestApp(t,
		WithPublicURL("https://calls.example.com"),
		WithSignatureValidation("authtoken"),
	)

	form := url.Values{"From": {"+15550001111"}, "CallSid": {"CA1"}}
	sig := sign("authtoken", "https://calls.example.com/twilio/incoming", form)

	resp, body := postForm(t, app, "/twilio/incoming", form, map[string]string{twilio.SignatureHeader: sig})
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "<Connect>") {
		t.Errorf("signed request: status = %d, body = %s", resp.StatusCode, body)
	}

	resp, _ = postForm(t, app, "/twilio/incoming", form, map[string]string{twilio.SignatureHeader: "bogus"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("bad signature: status = %d, want 403", resp.StatusCode)
	}

	resp, _ = postForm(t, app, "/twilio/incoming", form, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("unsigned: status = %d, want 403", resp.StatusCode)
	}

	tampered := url.Values{"From": {"+15550002222"}, "CallSid": {"CA1"}}
	resp, _ = postForm(t, app, "/twilio/incoming", tampered, map[string]string{twilio.SignatureHeader: sig})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("tampered: status = %d, want 403", resp.StatusCode)
	}
}

func TestStatusCallback(t *testing.T) {
	app := newTestApp(t)
	resp, _ := postForm(t, app, "/twilio/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestMediaRequiresUpgrade(t *testing.T) {
	app := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, MediaPath, nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}
