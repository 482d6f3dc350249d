package utils

import (
	"path/filepath"
	"strings"
)

var contentTypeExtensions = []struct {
	needles   []string
	extension string
}{
	{[]string{"jpeg", "jpg"}, "jpg"},
	{[]string{"png"}, "png"},
	{[]string{"svg"}, "svg"},
	{[]string{"gif"}, "gif"},
	{[]string{"pdf"}, "pdf"},
	{[]string{"word", "msword"}, "docx"},
	{[]string{"excel", "spreadsheet"}, "xlsx"},
	{[]string{"powerpoint", "presentation"}, "pptx"},
	{[]string{"text/plain"}, "txt"},
	{[]string{"html"}, "html"},
	{[]string{"zip", "compressed"}, "zip"},
	{[]string{"webp"}, "webp"},
	{[]string{"calendar"}, "ics"},
	{[]string{"vcard"}, "vcf"},
	{[]string{"csv"}, "csv"},
	{[]string{"json"}, "json"},
	{[]string{"xml"}, "xml"},
}

// AttachmentExtension picks a storage extension, preferring the filename's own.
func AttachmentExtension(filename, contentType string) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."); ext != "" {
		return ext
	}
	contentType = strings.ToLower(contentType)
	for _, candidate := range contentTypeExtensions {
		for _, needle := range candidate.needles {
			if strings.Contains(contentType, needle) {
				return candidate.extension
			}
		}
	}
	return "bin"
}
