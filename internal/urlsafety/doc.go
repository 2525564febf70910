// Package urlsafety provides URL validation for adapter endpoints.
//
// # Overview
//
// This package implements security validation for the URLs channel adapters
// dial — Gmail/LinkedIn/Instagram API hosts, Odoo JSON-RPC endpoints, and any
// endpoint-migration fallback an adapter reports — to prevent SSRF
// (Server-Side Request Forgery).
//
// # URL Validation
//
// ValidateURL checks URLs against multiple security criteria:
//
//   - Requires HTTPS scheme
//   - Blocks localhost variants (localhost, 127.0.0.1, ::1)
//   - Blocks local domains (.local, .internal)
//   - Blocks private IP ranges (RFC 1918, CGNAT, link-local)
//
// # IP Address Handling
//
// IsPrivateIP detects private/reserved IP addresses including:
//
//   - IPv4 private ranges (10.0.0.0/8, 172.16.0.0/12, 192.168.0.0/16)
//   - IPv4 loopback (127.0.0.0/8)
//   - IPv4 link-local (169.254.0.0/16)
//   - CGNAT range (100.64.0.0/10)
//   - IPv6 loopback (::1)
//   - IPv6 unique local (fc00::/7)
//   - IPv6 link-local (fe80::/10)
//   - IPv6-mapped IPv4 addresses (::ffff:x.x.x.x)
//
// CIDRs are pre-compiled at package initialization for efficiency.
package urlsafety
