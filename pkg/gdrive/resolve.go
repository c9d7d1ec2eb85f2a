// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package gdrive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ScanWarningMarker identifies the interstitial Google Drive serves for files
// it cannot virus-scan.
const ScanWarningMarker = "Google Drive can't scan this file for viruses"

// maxInterstitialSize bounds how much of the first response is inspected.
const maxInterstitialSize = 4 << 20

// URLResolver turns an initial download URL into the URL that serves the file.
type URLResolver interface {
	ResolveURL(ctx context.Context, rawURL string) (string, error)
}

// DirectResolver returns URLs unchanged.
type DirectResolver struct{}

// ResolveURL implements URLResolver.
func (DirectResolver) ResolveURL(_ context.Context, rawURL string) (string, error) {
	return rawURL, nil
}

// ConfirmationResolver requests rawURL and, when the answer is the virus-scan
// interstitial, returns the URL its download form would submit to.
type ConfirmationResolver struct {
	Client *http.Client
}

// ResolveURL implements URLResolver.
func (r *ConfirmationResolver) ResolveURL(ctx context.Context, rawURL string) (string, error) {
	httpc := r.Client
	if httpc == nil {
		httpc = buildHTTPClient(0)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("send initial request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInterstitialSize))
	if err != nil {
		return "", fmt.Errorf("read initial response: %w", err)
	}
	if !bytes.Contains(body, []byte(ScanWarningMarker)) {
		return rawURL, nil
	}
	return ExtractConfirmURL(bytes.NewReader(body))
}

// ExtractConfirmURL parses a confirmation page and rebuilds the URL submitted
// by its form#download-form: the form action followed by every named input
// that carries a value, in document order.
func ExtractConfirmURL(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse confirmation page: %w", err)
	}

	form := findNode(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "form" && attr(n, "id") == "download-form"
	})
	if form == nil {
		return "", ErrFormNotFound
	}
	action, ok := lookupAttr(form, "action")
	if !ok {
		return "", ErrNoFormAction
	}

	var params []string
	walk(form, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "input" {
			return
		}
		name, okName := lookupAttr(n, "name")
		value, okValue := lookupAttr(n, "value")
		if !okName || !okValue {
			return
		}
		params = append(params, url.QueryEscape(name)+"="+url.QueryEscape(value))
	})

	return action + "?" + strings.Join(params, "&"), nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}
