package provider

import "regexp"

// Providers echo whatever they were fed; stripping active content here is a
// post-condition of Complete, independent of any front-end escaping.
var (
	scriptTagRe    = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	jsURIRe        = regexp.MustCompile(`(?i)javascript:`)
	eventHandlerRe = regexp.MustCompile(`(?i)\bon\w+\s*=`)
)

// Sanitize removes script tags, javascript: URIs, and inline event-handler
// attributes from model output.
func Sanitize(text string) string {
	text = scriptTagRe.ReplaceAllString(text, "")
	text = jsURIRe.ReplaceAllString(text, "")
	text = eventHandlerRe.ReplaceAllString(text, "")
	return text
}
