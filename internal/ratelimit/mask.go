package ratelimit

import "strings"

// MaskForLogging replaces all but the last visible characters of v with '*'.
// Every identifier goes through this (or MaskIP) before reaching a log line
// or metric. Values no longer than visible are fully masked.
func MaskForLogging(v string, visible int) string {
	if v == "" {
		return ""
	}
	if visible <= 0 {
		visible = 4
	}
	if len(v) <= visible {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", len(v)-visible) + v[len(v)-visible:]
}

// MaskIP reduces an IP to a coarse prefix: first two octets for IPv4, first
// two colon-groups for IPv6.
func MaskIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	if strings.Contains(ip, ":") {
		groups := strings.Split(ip, ":")
		if len(groups) < 2 {
			return "*"
		}
		return groups[0] + ":" + groups[1] + ":*"
	}
	octets := strings.Split(ip, ".")
	if len(octets) != 4 {
		return "*"
	}
	return octets[0] + "." + octets[1] + ".*.*"
}

// MaskUserAgent reduces a user agent to a coarse "{browser}/{os}" tag with no
// version numbers.
func MaskUserAgent(ua string) string {
	if ua == "" {
		return "unknown"
	}
	lower := strings.ToLower(ua)
	browser := "other"
	switch {
	case strings.Contains(lower, "edg"):
		browser = "edge"
	case strings.Contains(lower, "opr") || strings.Contains(lower, "opera"):
		browser = "opera"
	case strings.Contains(lower, "chrome"):
		browser = "chrome"
	case strings.Contains(lower, "firefox"):
		browser = "firefox"
	case strings.Contains(lower, "safari"):
		browser = "safari"
	case strings.Contains(lower, "curl"):
		browser = "curl"
	}
	os := "other"
	switch {
	case strings.Contains(lower, "android"):
		os = "android"
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad") || strings.Contains(lower, "ios"):
		os = "ios"
	case strings.Contains(lower, "windows"):
		os = "windows"
	case strings.Contains(lower, "mac os") || strings.Contains(lower, "macintosh"):
		os = "macos"
	case strings.Contains(lower, "linux"):
		os = "linux"
	}
	return browser + "/" + os
}
