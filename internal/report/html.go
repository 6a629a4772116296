package report

import (
	_ "embed"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed report.css
var styleCSS string

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	policy   = bluemonday.UGCPolicy()

	reSubmissionHeading = regexp.MustCompile(`<h2([^>]*)>`)
)

// BuildHTML converts the report markdown into a standalone document.
func BuildHTML(title, md string) (string, error) {
	var content strings.Builder
	if err := markdown.Convert([]byte(md), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	body := applyPrintLayoutHooks(policy.Sanitize(content.String()))
	return "<!doctype html><html><head><meta charset='utf-8'><title>" + html.EscapeString(title) + "</title>" +
		"<style>" + styleCSS + "</style></head><body>" +
		"<div class='report'>" + body + "</div>" +
		"</body></html>", nil
}

// applyPrintLayoutHooks starts every submission after the first on a new
// page. It runs after sanitising, which strips data attributes.
func applyPrintLayoutHooks(contentHTML string) string {
	seen := 0
	return reSubmissionHeading.ReplaceAllStringFunc(contentHTML, func(tag string) string {
		seen++
		if seen == 1 {
			return tag
		}
		return strings.TrimSuffix(tag, ">") + ` data-page-break-before="true">`
	})
}
