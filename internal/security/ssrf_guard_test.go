package security

import (
	"testing"
	"time"
)

func TestValidateURL_AllowsPublicHTTPS(t *testing.T) {
	guard := NewSourceURLGuard()

	cases := []string{
		"https://pool.example.com/items.json",
		"http://feeds.example.com/rss.xml",
		"https://8.8.8.8/listing",
	}
	for _, rawURL := range cases {
		if err := guard.ValidateURL(rawURL); err != nil {
			t.Errorf("ValidateURL(%q) はエラーを返すべきではない: %v", rawURL, err)
		}
	}
}

func TestValidateURL_RejectsDisallowedScheme(t *testing.T) {
	guard := NewSourceURLGuard()

	cases := []string{
		"ftp://pool.example.com/items.json",
		"file:///etc/passwd",
		"gopher://internal.example.com/",
	}
	for _, rawURL := range cases {
		if err := guard.ValidateURL(rawURL); err == nil {
			t.Errorf("ValidateURL(%q) はスキームを拒否すべき", rawURL)
		}
	}
}

func TestValidateURL_RejectsBlockedIPs(t *testing.T) {
	guard := NewSourceURLGuard()

	cases := []string{
		"http://127.0.0.1/items.json",
		"http://10.0.0.5/items.json",
		"http://172.16.1.1/items.json",
		"http://192.168.1.10/items.json",
		"http://169.254.169.254/latest/meta-data/", // クラウドメタデータ
		"http://0.0.0.0/",
		"http://[::1]/items.json",
		"http://[fe80::1]/items.json",
	}
	for _, rawURL := range cases {
		if err := guard.ValidateURL(rawURL); err == nil {
			t.Errorf("ValidateURL(%q) はブロック対象のIPを拒否すべき", rawURL)
		}
	}
}

func TestValidateURL_RejectsLocalhost(t *testing.T) {
	guard := NewSourceURLGuard()

	for _, rawURL := range []string{"http://localhost/items.json", "http://LOCALHOST:8080/"} {
		if err := guard.ValidateURL(rawURL); err == nil {
			t.Errorf("ValidateURL(%q) は localhost を拒否すべき", rawURL)
		}
	}
}

func TestValidateURL_RejectsMalformed(t *testing.T) {
	guard := NewSourceURLGuard()

	for _, rawURL := range []string{"", "https://", "://no-scheme"} {
		if err := guard.ValidateURL(rawURL); err == nil {
			t.Errorf("ValidateURL(%q) はエラーを返すべき", rawURL)
		}
	}
}

func TestNewSafeClient_SetsTimeout(t *testing.T) {
	guard := NewSourceURLGuard()

	client := guard.NewSafeClient(10 * time.Second)
	if client == nil {
		t.Fatal("クライアントを返すべき")
	}
	if client.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", client.Timeout)
	}
}
