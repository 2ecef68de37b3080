package twilio

import (
	"net/url"

	"github.com/twilio/twilio-go/client"
)

// SignatureHeader carries the request signature on every webhook.
const SignatureHeader = "X-Twilio-Signature"

// Validator checks webhook signatures against an account auth token.
type Validator struct {
	authToken string
	requests  client.RequestValidator
}

// NewValidator returns a Validator for authToken.
func NewValidator(authToken string) *Validator {
	return &Validator{
		authToken: authToken,
		requests:  client.NewRequestValidator(authToken),
	}
}

// Validate reports whether signature matches a form POST to fullURL.
// Twilio may sign the URL with or without the default port, so both
// forms are tried.
func (v *Validator) Validate(fullURL string, params url.Values, signature string) error {
	if v.authToken == "" {
		return ErrMissingAuthToken
	}
	if signature == "" {
		return ErrMissingSignature
	}
	// Webhooks never repeat a parameter, so the first value stands for all.
	fields := make(map[string]string, len(params))
	for k := range params {
		fields[k] = params.Get(k)
	}
	for _, candidate := range urlVariants(fullURL) {
		if v.requests.Validate(candidate, fields, signature) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func urlVariants(raw string) []string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return []string{raw}
	}

	port := u.Port()
	defaultPort := map[string]string{"https": "443", "http": "80"}[u.Scheme]
	alt := *u
	switch {
	case port == "" && defaultPort != "":
		alt.Host = u.Host + ":" + defaultPort
	case port != "" && port == defaultPort:
		alt.Host = u.Hostname()
	default:
		return []string{raw}
	}
	return []string{raw, alt.String()}
}
