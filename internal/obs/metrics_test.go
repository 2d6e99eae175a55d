package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/payments/abc":               "/v1/payments/:id",
		"/v1/payments/abc/confirm":       "/v1/payments/:id/confirm",
		"/v1/payments/abc/fail":          "/v1/payments/:id/fail",
		"/v1/payments/abc/extra":         "/v1/payments/abc/extra",
		"/v1/bundles":                    "/v1/bundles",
		"/v1/bundles/acme":               "/v1/bundles/:id",
		"/v1/bundles/acme/access":        "/v1/bundles/:id/access",
		"/v1/bundles/acme/documents":     "/v1/bundles/:id/documents",
		"/v1/bundles/acme/paycode":       "/v1/bundles/:id/paycode",
		"/v1/documents/doc1":             "/v1/documents/:id",
		"/v1/documents/doc1?session=xyz": "/v1/documents/:id",
		"/v1/grants/u1/acme":             "/v1/grants/:principal/:bundle",
		"/v1/viewer/sessions/s1":         "/v1/viewer/sessions/:id",
		"/v1/viewer/sessions/s1/events":  "/v1/viewer/sessions/:id/events",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
