// Package device derives human-readable device labels from User-Agent
// strings for the sessions view.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

// Label extracts a short display name in "Browser on OS" form, for example
// "Chrome on Mac OS X" or "Safari on iPhone". The label is display metadata
// only and carries no authorization weight.
func Label(userAgentString string) string {
	if userAgentString == "" {
		return "Unknown Device"
	}

	ua := useragent.New(userAgentString)

	browser, _ := ua.Browser()
	os := ua.OS()

	if ua.Mobile() {
		// Platform ("iPhone", "Android") reads better than the raw OS
		// string on handhelds.
		if platform := ua.Platform(); platform != "" {
			return strings.TrimSpace(browser + " on " + platform)
		}
	}

	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}

	return strings.TrimSpace(browser + " on " + os)
}
