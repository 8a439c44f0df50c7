package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Party identifies an issuer or recipient of a fiscal document.
type Party struct {
	CNPJ string `json:"cnpj,omitempty"`
	Name string `json:"name,omitempty"`
}

// DocumentInfo carries the basic fields extracted from a document.
// Extraction is best effort: fields the document does not carry, or
// that do not match the expected shape, stay zero.
type DocumentInfo struct {
	Type      DocumentType `json:"type"`
	Number    string       `json:"number,omitempty"`
	Series    string       `json:"series,omitempty"`
	AccessKey string       `json:"key,omitempty"`
	IssueDate string       `json:"issueDate,omitempty"`
	Value     float64      `json:"value,omitempty"`
	Issuer    Party        `json:"issuer"`
	Recipient Party        `json:"recipient"`
}

var (
	nnfRe      = regexp.MustCompile(`<nNF>(\d+)</nNF>`)
	nctRe      = regexp.MustCompile(`<nCT>(\d+)</nCT>`)
	ncfeRe     = regexp.MustCompile(`<nCFe>(\d+)</nCFe>`)
	nfseNumRe  = regexp.MustCompile(`<Numero>(\d+)</Numero>`)
	serieRe    = regexp.MustCompile(`<serie>(\d+)</serie>`)
	chNFeRe    = regexp.MustCompile(`<chNFe>(\d{44})</chNFe>`)
	chCTeRe    = regexp.MustCompile(`<chCTe>(\d{44})</chCTe>`)
	dhEmiRe    = regexp.MustCompile(`<dhEmi>([^<]+)</dhEmi>`)
	dEmiRe     = regexp.MustCompile(`<dEmi>(\d{8})</dEmi>`)
	nfseDateRe = regexp.MustCompile(`<DataEmissao>([^<]+)</DataEmissao>`)
	vnfRe      = regexp.MustCompile(`<vNF>([\d,.]+)</vNF>`)
	vtprestRe  = regexp.MustCompile(`<vTPrest>([\d,.]+)</vTPrest>`)
	vcfeRe     = regexp.MustCompile(`<vCFe>(\d+)</vCFe>`)
	nfseValRe  = regexp.MustCompile(`<ValorServicos>([\d,.]+)</ValorServicos>`)
	emitCNPJRe = regexp.MustCompile(`(?s)<emit[^>]*>.*?<CNPJ>(\d{14})</CNPJ>`)
	emitNameRe = regexp.MustCompile(`(?s)<emit[^>]*>.*?<xNome>([^<]+)</xNome>`)
	destCNPJRe = regexp.MustCompile(`(?s)<dest[^>]*>.*?<CNPJ>(\d{14})</CNPJ>`)
	destNameRe = regexp.MustCompile(`(?s)<dest[^>]*>.*?<xNome>([^<]+)</xNome>`)
)

// Extract pulls the basic document fields for the detected type.
func Extract(content []byte) DocumentInfo {
	docType := DetectType(content)
	info := DocumentInfo{Type: docType}

	switch docType {
	case NFe, NFCe:
		extractNFe(content, &info)
	case CTe:
		extractCTe(content, &info)
	case CFe:
		extractCFe(content, &info)
	case NFSe:
		extractNFSe(content, &info)
	}
	return info
}

func extractNFe(content []byte, info *DocumentInfo) {
	info.Number = firstGroup(nnfRe, content)
	info.Series = firstGroup(serieRe, content)
	info.AccessKey = firstGroup(chNFeRe, content)
	info.IssueDate = firstGroup(dhEmiRe, content)
	info.Value = parseDecimal(firstGroup(vnfRe, content))
	info.Issuer.CNPJ = firstGroup(emitCNPJRe, content)
	info.Issuer.Name = firstGroup(emitNameRe, content)
	info.Recipient.CNPJ = firstGroup(destCNPJRe, content)
	info.Recipient.Name = firstGroup(destNameRe, content)
}

func extractCTe(content []byte, info *DocumentInfo) {
	info.Number = firstGroup(nctRe, content)
	info.Series = firstGroup(serieRe, content)
	info.AccessKey = firstGroup(chCTeRe, content)
	info.IssueDate = firstGroup(dhEmiRe, content)
	info.Value = parseDecimal(firstGroup(vtprestRe, content))
	info.Issuer.CNPJ = firstGroup(emitCNPJRe, content)
	info.Issuer.Name = firstGroup(emitNameRe, content)
}

func extractCFe(content []byte, info *DocumentInfo) {
	info.Number = firstGroup(ncfeRe, content)
	if d := firstGroup(dEmiRe, content); len(d) == 8 {
		info.IssueDate = fmt.Sprintf("%s-%s-%s", d[0:4], d[4:6], d[6:8])
	}
	// CFe totals are expressed in centavos.
	if v := firstGroup(vcfeRe, content); v != "" {
		if cents, err := strconv.Atoi(v); err == nil {
			info.Value = float64(cents) / 100
		}
	}
}

func extractNFSe(content []byte, info *DocumentInfo) {
	info.Number = firstGroup(nfseNumRe, content)
	info.IssueDate = firstGroup(nfseDateRe, content)
	info.Value = parseDecimal(firstGroup(nfseValRe, content))
}

func firstGroup(re *regexp.Regexp, content []byte) string {
	m := re.FindSubmatch(content)
	if m == nil {
		return ""
	}
	return string(m[1])
}

// parseDecimal accepts both decimal-comma and decimal-point values.
func parseDecimal(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0
	}
	return v
}
