package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"net/url"
	"sort"
	"strings"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		check func(t *testing.T, m Message)
	}{
		{
			name: "connected",
			data: `{"event":"connected","protocol":"Call","version":"1.0.0"}`,
			check: func(t *testing.T, m Message) {
				if m.Event != EventConnected || m.Protocol != "Call" {
					t.Errorf("got %+v", m)
				}
			},
		},
		{
			name: "start",
			data: `{"event":"start","sequenceNumber":"1","start":{"accountSid":"AC1","streamSid":"MZ1","callSid":"CA1","tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}},"streamSid":"MZ1"}`,
			check: func(t *testing.T, m Message) {
				if m.StreamSID != "MZ1" || m.Start.CallSID != "CA1" || m.Start.MediaFormat.SampleRate != 8000 {
					t.Errorf("got %+v", m.Start)
				}
			},
		},
		{
			name: "start without top-level sid",
			data: `{"event":"start","start":{"streamSid":"MZ2","callSid":"CA2"}}`,
			check: func(t *testing.T, m Message) {
				if m.StreamSID != "MZ2" {
					t.Errorf("StreamSID = %q", m.StreamSID)
				}
			},
		},
		{
			name: "media",
			data: `{"event":"media","streamSid":"MZ1","media":{"track":"inbound","chunk":"2","timestamp":"20","payload":"AQID"}}`,
			check: func(t *testing.T, m Message) {
				audio, err := m.Audio()
				if err != nil || string(audio) != "\x01\x02\x03" {
					t.Errorf("Audio = %v, %v", audio, err)
				}
			},
		},
		{
			name: "stop",
			data: `{"event":"stop","streamSid":"MZ1","stop":{"accountSid":"AC1","callSid":"CA1"}}`,
			check: func(t *testing.T, m Message) {
				if m.Stop == nil || m.Stop.CallSID != "CA1" {
					t.Errorf("got %+v", m)
				}
			},
		},
		{
			name: "dtmf",
			data: `{"event":"dtmf","streamSid":"MZ1","dtmf":{"track":"inbound_track","digit":"7"}}`,
			check: func(t *testing.T, m Message) {
				if m.DTMF.Digit != "7" {
					t.Errorf("digit = %q", m.DTMF.Digit)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.data))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			tt.check(t, m)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, bad := range []string{`{`, `{"streamSid":"MZ1"}`, `{"event":"start"}`, `[]`} {
		if _, err := Decode([]byte(bad)); !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("Decode(%q) err = %v", bad, err)
		}
	}

	m, err := Decode([]byte(`{"event":"media","media":{"payload":"!!notbase64"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Audio(); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("Audio err = %v", err)
	}
}

func TestOutboundMessages(t *testing.T) {
	data, _ := json.Marshal(MediaMessage("MZ1", []byte{1, 2, 3}))
	if string(data) != `{"event":"media","streamSid":"MZ1","media":{"payload":"AQID"}}` {
		t.Errorf("media = %s", data)
	}

	data, _ = json.Marshal(ClearMessage("MZ1"))
	if string(data) != `{"event":"clear","streamSid":"MZ1"}` {
		t.Errorf("clear = %s", data)
	}

	data, _ = json.Marshal(MarkMessage("MZ1", "turn-1"))
	if string(data) != `{"event":"mark","streamSid":"MZ1","mark":{"name":"turn-1"}}` {
		t.Errorf("mark = %s", data)
	}
}

type twimlDoc struct {
	XMLName xml.Name `xml:"Response"`
	Connect *struct {
		Stream struct {
			URL string `xml:"url,attr"`
		} `xml:"Stream"`
	} `xml:"Connect"`
	Reject *struct{} `xml:"Reject"`
}

func parseTwiML(t *testing.T, doc string, err error) twimlDoc {
	t.Helper()
	if err != nil {
		t.Fatalf("building twiml: %v", err)
	}
	if !strings.HasPrefix(doc, "<?xml") {
		t.Errorf("missing xml declaration: %q", doc)
	}
	var got twimlDoc
	if err := xml.Unmarshal([]byte(doc), &got); err != nil {
		t.Fatalf("invalid twiml %q: %v", doc, err)
	}
	return got
}

func TestTwiML(t *testing.T) {
	doc, err := ConnectStream(StreamURL("https://calls.example.com/", "/twilio/media"))
	got := parseTwiML(t, doc, err)
	if got.Connect == nil || got.Connect.Stream.URL != "wss://calls.example.com/twilio/media" || got.Reject != nil {
		t.Errorf("ConnectStream = %s", doc)
	}

	doc, err = ConnectStream("wss://a/b?x=1&y=2")
	if got := parseTwiML(t, doc, err); got.Connect == nil || got.Connect.Stream.URL != "wss://a/b?x=1&y=2" {
		t.Errorf("stream URL should survive escaping: %s", doc)
	}
	if strings.Contains(doc, "x=1&y") {
		t.Errorf("ampersand not escaped: %s", doc)
	}

	doc, err = Reject()
	if got := parseTwiML(t, doc, err); got.Reject == nil || got.Connect != nil {
		t.Errorf("Reject = %s", doc)
	}
}

func TestStreamURL(t *testing.T) {
	tests := map[string]string{
		"https://calls.example.com":  "wss://calls.example.com/twilio/media",
		"http://localhost:8000":      "wss://localhost:8000/twilio/media",
		"https://calls.example.com/": "wss://calls.example.com/twilio/media",
		"calls.example.com":          "wss://calls.example.com/twilio/media",
	}
	for in, want := range tests {
		if got := StreamURL(in, "/twilio/media"); got != want {
			t.Errorf("StreamURL(%q) = %q, want %q", in, got, want)
		}
	}
}

// Example from Twilio's webhook security documentation.
func documentedRequest() (string, url.Values) {
	params := url.Values{}
	params.Set("CallSid", "CA1234567890ABCDE")
	params.Set("Caller", "+14158675309")
	params.Set("Digits", "1234")
	params.Set("From", "+14158675309")
	params.Set("To", "+18005551212")
	return "https://mycompany.com/myapp.php?foo=1&bar=2", params
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

func TestSignatureDocumentedExample(t *testing.T) {
	u, params := documentedRequest()
	v := NewValidator("12345")

	if got := sign("12345", u, params); got != "RSOYDt4T1cUTdK1PDd93/VVr8B8=" {
		t.Errorf("sign = %q", got)
	}
	if err := v.Validate(u, params, "RSOYDt4T1cUTdK1PDd93/VVr8B8="); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestSignatureRejects(t *testing.T) {
	u, params := documentedRequest()
	v := NewValidator("12345")
	sig := sign("12345", u, params)

	tampered := url.Values{}
	for k, vals := range params {
		tampered[k] = vals
	}
	tampered.Set("Digits", "9999")

	tests := []struct {
		name   string
		v      *Validator
		url    string
		params url.Values
		sig    string
		want   error
	}{
		{"tampered params", v, u, tampered, sig, ErrInvalidSignature},
		{"other url", v, "https://evil.example.com/myapp.php?foo=1&bar=2", params, sig, ErrInvalidSignature},
		{"wrong token", NewValidator("54321"), u, params, sig, ErrInvalidSignature},
		{"missing signature", v, u, params, "", ErrMissingSignature},
		{"missing token", NewValidator(""), u, params, sig, ErrMissingAuthToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.v.Validate(tt.url, tt.params, tt.sig); !errors.Is(err, tt.want) {
				t.Errorf("Validate = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSignatureDefaultPort(t *testing.T) {
	v := NewValidator("secret")
	params := url.Values{"From": {"+15550001111"}}

	signedWithPort := sign("secret", "https://calls.example.com:443/twilio/incoming", params)
	if err := v.Validate("https://calls.example.com/twilio/incoming", params, signedWithPort); err != nil {
		t.Errorf("port-less URL should accept a signature over :443: %v", err)
	}

	signedWithout := sign("secret", "https://calls.example.com/twilio/incoming", params)
	if err := v.Validate("https://calls.example.com:443/twilio/incoming", params, signedWithout); err != nil {
		t.Errorf(":443 URL should accept a port-less signature: %v", err)
	}
}
