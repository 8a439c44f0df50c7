// Package classify implements fiscal document type detection and the
// structural validation applied before any document leaves the gateway.
//
// Detection and validation are heuristic: they match known markers and
// count tags, they do not parse XML or check schema conformance. A
// document reported as structurally valid is not necessarily
// schema-valid.
package classify

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DocumentType is a recognized fiscal document type.
type DocumentType string

const (
	NFe     DocumentType = "NFe"
	NFCe    DocumentType = "NFCe"
	CTe     DocumentType = "CTe"
	CFe     DocumentType = "CFe"
	NFSe    DocumentType = "NFSe"
	MDFe    DocumentType = "MDFe"
	Unknown DocumentType = "UNKNOWN"
)

// Classification is the result of classifying one document.
type Classification struct {
	Type          DocumentType
	Valid         bool
	FailureReason string
}

// typePattern associates a document type with its marker patterns.
// Order matters: detection is first-match-wins down the table, so an
// NFCe document carrying a plain <infNFe> marker classifies as NFe.
// That mirrors upstream behavior and is intentional.
type typePattern struct {
	docType  DocumentType
	patterns []*regexp.Regexp
}

var typeTable = []typePattern{
	{NFe, compileAll(`<nfeProc`, `<NFe`, `<infNFe`)},
	{NFCe, compileAll(`<nfceProc`, `<NFCe`, `<infNFe[^>]*mod="65"`)},
	{CTe, compileAll(`<cteProc`, `<CTe`, `<infCte`)},
	{CFe, compileAll(`<CFe`, `<infCFe`)},
	{NFSe, compileAll(`<CompNfse`, `<ListaNfse`, `<RPS`)},
	{MDFe, compileAll(`<mdfeProc`, `<MDFe`, `<infMDFe`)},
}

// fiscalMarkers are the structures that identify any fiscal document.
var fiscalMarkers = compileAll(
	`<nfeProc`, `<NFe`, `<infNFe`,
	`<cteProc`, `<CTe`, `<infCte`,
	`<CFe`, `<infCFe`,
	`<RPS`, `<CompNfse`, `<ListaNfse`,
	`<mdfeProc`, `<MDFe`, `<infMDFe`,
)

var (
	openTagRe   = regexp.MustCompile(`<[A-Za-z][^>]*>`)
	closeTagRe  = regexp.MustCompile(`</[^>]*>`)
	selfCloseRe = regexp.MustCompile(`<[A-Za-z][^>]*/>`)
)

func compileAll(exprs ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		res[i] = regexp.MustCompile(e)
	}
	return res
}

// DetectType identifies the fiscal document type of content. Every
// input maps to exactly one type; unrecognized content is Unknown.
func DetectType(content []byte) DocumentType {
	for _, tp := range typeTable {
		for _, p := range tp.patterns {
			if p.Match(content) {
				return tp.docType
			}
		}
	}
	return Unknown
}

// Classify runs structural validation and type detection in one pass.
func Classify(content []byte) Classification {
	valid, reason := ValidateStructure(content)
	c := Classification{Valid: valid, FailureReason: reason}
	if valid {
		c.Type = DetectType(content)
	} else {
		c.Type = Unknown
	}
	return c
}

// ValidateStructure applies the structural checks: non-empty text,
// XML-ish start, a recognized fiscal marker, and a balanced tag count.
// The balance check counts opening, closing, and self-closing element
// tags without parsing, so it catches a missing close tag but not
// incorrect nesting.
func ValidateStructure(content []byte) (bool, string) {
	if len(content) == 0 {
		return false, "document content is empty"
	}
	if !utf8.Valid(content) {
		return false, "document content is not valid text"
	}

	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return false, "document content is empty"
	}
	if !strings.HasPrefix(trimmed, "<?xml") && !strings.HasPrefix(trimmed, "<") {
		return false, "document is not XML"
	}

	if !matchesAny(content, fiscalMarkers) {
		return false, "no recognized fiscal document structure"
	}

	openTags := len(openTagRe.FindAll(content, -1))
	closeTags := len(closeTagRe.FindAll(content, -1))
	selfClosing := len(selfCloseRe.FindAll(content, -1))

	// Self-closing tags are counted by the opening pattern too, so a
	// balanced document satisfies open == close + self.
	if openTags != closeTags+selfClosing {
		return false, "unbalanced tag structure"
	}

	return true, ""
}

func matchesAny(content []byte, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.Match(content) {
			return true
		}
	}
	return false
}

// MaxFileSize is the largest accepted document payload.
const MaxFileSize = 50 << 20 // 50MB

// CheckSize reports whether content fits the upload size limit.
func CheckSize(content []byte) (bool, string) {
	if len(content) > MaxFileSize {
		return false, "document exceeds 50MB size limit"
	}
	return true, ""
}
