// Package filter guards messages against retirement by regex rules.
//
// Protect rules keep every matching message. Only rules restrict retirement
// to matching messages. The two modes are mutually exclusive.
package filter

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
)

type Options struct {
	OnlyHeader    []string
	OnlyBody      []string
	ProtectHeader []string
	ProtectBody   []string
}

type rule struct {
	part    string
	pattern string
	re      *regexp.Regexp
}

func (r rule) String() string {
	return r.part + ":" + r.pattern
}

// Filter holds compiled rules.
type Filter struct {
	only           []rule
	protect        []rule
	needHeaderText bool
	needBodyText   bool
}

func New(opts Options) (*Filter, error) {
	onlyHeader, err := compileRules("header", opts.OnlyHeader)
	if err != nil {
		return nil, fmt.Errorf("compile only-header pattern: %w", err)
	}
	onlyBody, err := compileRules("body", opts.OnlyBody)
	if err != nil {
		return nil, fmt.Errorf("compile only-body pattern: %w", err)
	}
	protectHeader, err := compileRules("header", opts.ProtectHeader)
	if err != nil {
		return nil, fmt.Errorf("compile protect-header pattern: %w", err)
	}
	protectBody, err := compileRules("body", opts.ProtectBody)
	if err != nil {
		return nil, fmt.Errorf("compile protect-body pattern: %w", err)
	}

	only := append(onlyHeader, onlyBody...)
	protect := append(protectHeader, protectBody...)
	if len(only) > 0 && len(protect) > 0 {
		return nil, fmt.Errorf("only and protect filters are mutually exclusive")
	}

	return &Filter{
		only:           only,
		protect:        protect,
		needHeaderText: len(onlyHeader) > 0 || len(protectHeader) > 0,
		needBodyText:   len(onlyBody) > 0 || len(protectBody) > 0,
	}, nil
}

// Active reports whether any rule is configured.
func (f *Filter) Active() bool {
	return f != nil && (len(f.only) > 0 || len(f.protect) > 0)
}

// Allows reports whether a message may be retired. reason names the rule
// that decided, empty when no rule applied.
func (f *Filter) Allows(header, body []byte) (allowed bool, reason string) {
	if !f.Active() {
		return true, ""
	}

	var headerText, bodyText string
	if f.needHeaderText {
		headerText = unfoldHeader(header)
	}
	if f.needBodyText {
		bodyText = string(body)
	}

	if len(f.only) > 0 {
		if r, ok := firstMatch(f.only, headerText, bodyText); ok {
			return true, "only " + r.String()
		}
		return false, "no only rule matched"
	}

	if r, ok := firstMatch(f.protect, headerText, bodyText); ok {
		return false, "protect " + r.String()
	}
	return true, ""
}

// AllowsFile reads the message at path and applies Allows.
func (f *Filter) AllowsFile(path string) (bool, string, error) {
	if !f.Active() {
		return true, "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, "", fmt.Errorf("read %s: %w", path, err)
	}
	header, body := SplitRawMessage(raw)
	allowed, reason := f.Allows(header, body)
	return allowed, reason, nil
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

var continuation = regexp.MustCompile(`\n[ \t]+`)

// unfoldHeader joins folded header lines and normalizes line endings to LF.
func unfoldHeader(header []byte) string {
	text := strings.ReplaceAll(string(header), "\r\n", "\n")
	return continuation.ReplaceAllString(text, " ")
}

func compileRules(part string, patterns []string) ([]rule, error) {
	compiled := make([]rule, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		// ^ and $ anchor at line boundaries so a rule can target any header field.
		re, err := regexp.Compile("(?m)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, rule{part: part, pattern: pattern, re: re})
	}
	return compiled, nil
}

func firstMatch(rules []rule, headerText, bodyText string) (rule, bool) {
	for _, r := range rules {
		text := headerText
		if r.part == "body" {
			text = bodyText
		}
		if r.re.MatchString(text) {
			return r, true
		}
	}
	return rule{}, false
}
