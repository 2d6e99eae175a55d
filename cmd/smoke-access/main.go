// smoke-access drives the whole purchase-to-read path against a running API:
// issue tokens, record and confirm a payment, check access, resolve a
// document and print the bundle's paycode.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

type tokenResponse struct {
	Token string `json:"token"`
}

type paymentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type accessResponse struct {
	HasAccess bool `json:"has_access"`
}

type documentResponse struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ContentRef string `json:"content_ref"`
}

type paycodeResponse struct {
	Text string `json:"text"`
}

type client struct {
	base string
	http *http.Client
}

func main() {
	base := os.Getenv("DOCVAULT_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := &client{base: base, http: &http.Client{Timeout: 5 * time.Second}}

	var buyerTok tokenResponse
	c.call(http.MethodPost, "/v1/auth/token", map[string]any{
		"principal_id": "smoke-buyer",
		"email":        "smoke@docvault.test",
	}, "", &buyerTok)

	var processorTok tokenResponse
	c.call(http.MethodPost, "/v1/auth/token", map[string]any{
		"principal_id": "smoke-psp",
		"email":        "psp@docvault.test",
		"permissions":  []string{"payment.confirm"},
	}, "", &processorTok)

	var before accessResponse
	c.call(http.MethodGet, "/v1/bundles/acme/access", nil, buyerTok.Token, &before)
	if before.HasAccess {
		log.Fatal("buyer already has access; run against a fresh instance")
	}

	var p paymentResponse
	c.call(http.MethodPost, "/v1/payments", map[string]any{
		"bundle_id": "acme",
		"currency":  "USD",
		"amount":    2999,
	}, buyerTok.Token, &p)
	if p.Status != "pending" {
		log.Fatalf("recorded payment status = %q, want pending", p.Status)
	}

	var confirmed paymentResponse
	c.call(http.MethodPost, "/v1/payments/"+p.ID+"/confirm", nil, processorTok.Token, &confirmed)
	if confirmed.Status != "completed" {
		log.Fatalf("confirmed payment status = %q, want completed", confirmed.Status)
	}

	var after accessResponse
	c.call(http.MethodGet, "/v1/bundles/acme/access", nil, buyerTok.Token, &after)
	if !after.HasAccess {
		log.Fatal("access not observable after confirmation")
	}

	var doc documentResponse
	c.call(http.MethodGet, "/v1/documents/acme-interview-guide", nil, buyerTok.Token, &doc)
	if doc.ContentRef == "" {
		log.Fatal("document resolved without a content reference")
	}

	var code paycodeResponse
	c.call(http.MethodPost, "/v1/bundles/acme/paycode", nil, buyerTok.Token, &code)
	fmt.Println(code.Text)

	fmt.Printf("access smoke test passed: payment=%s document=%s\n", p.ID, doc.ID)
}

func (c *client) call(method, path string, body any, token string, out any) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("%s %s: marshal: %v", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		log.Fatalf("%s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}
