package certificate

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/desdobra/backend/internal/domain/fiscal"
)

// XMLSigner produces the enveloped signature the authority expects on a
// submitted document. The draft arrives with its closing root tag still
// open for the Signature element; the signer digests the document
// element, signs the digest with the company credential and splices the
// Signature block in before the closing tag.
type XMLSigner struct{}

// NewXMLSigner creates a new XMLSigner
func NewXMLSigner() *XMLSigner {
	return &XMLSigner{}
}

var documentIDPattern = regexp.MustCompile(`Id="([^"]+)"`)

// Sign signs the draft with the credential's private key
func (s *XMLSigner) Sign(ctx context.Context, draft []byte, credential *fiscal.SigningCredential) ([]byte, error) {
	if credential == nil || credential.PrivateKey == nil {
		return nil, fmt.Errorf("signing credential has no private key")
	}
	if len(bytes.TrimSpace(draft)) == 0 {
		return nil, fmt.Errorf("empty draft")
	}

	referenceURI := ""
	if m := documentIDPattern.FindSubmatch(draft); m != nil {
		referenceURI = "#" + string(m[1])
	}

	digest := sha256.Sum256(draft)
	signedInfo := buildSignedInfo(referenceURI, digest[:])

	signedInfoDigest := sha256.Sum256([]byte(signedInfo))
	signature, err := rsa.SignPKCS1v15(rand.Reader, credential.PrivateKey, crypto.SHA256, signedInfoDigest[:])
	if err != nil {
		return nil, fmt.Errorf("signing digest: %w", err)
	}

	certDER := base64.StdEncoding.EncodeToString(credential.Certificate.Raw)
	block := signatureBlock(signedInfo, base64.StdEncoding.EncodeToString(signature), certDER)

	return spliceSignature(draft, block)
}

func buildSignedInfo(referenceURI string, digest []byte) string {
	var b strings.Builder
	b.WriteString(`<SignedInfo xmlns="http://www.w3.org/2000/09/xmldsig#">`)
	b.WriteString(`<CanonicalizationMethod Algorithm="http://www.w3.org/TR/2001/REC-xml-c14n-20010315"/>`)
	b.WriteString(`<SignatureMethod Algorithm="http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"/>`)
	b.WriteString(`<Reference URI="` + referenceURI + `">`)
	b.WriteString(`<DigestMethod Algorithm="http://www.w3.org/2001/04/xmlenc#sha256"/>`)
	b.WriteString(`<DigestValue>` + base64.StdEncoding.EncodeToString(digest) + `</DigestValue>`)
	b.WriteString(`</Reference>`)
	b.WriteString(`</SignedInfo>`)
	return b.String()
}

func signatureBlock(signedInfo, signatureValue, certDER string) string {
	var b strings.Builder
	b.WriteString(`<Signature xmlns="http://www.w3.org/2000/09/xmldsig#">`)
	b.WriteString(signedInfo)
	b.WriteString(`<SignatureValue>` + signatureValue + `</SignatureValue>`)
	b.WriteString(`<KeyInfo><X509Data><X509Certificate>` + certDER + `</X509Certificate></X509Data></KeyInfo>`)
	b.WriteString(`</Signature>`)
	return b.String()
}

// spliceSignature inserts the signature block before the document's
// closing root tag
func spliceSignature(draft []byte, block string) ([]byte, error) {
	idx := bytes.LastIndex(draft, []byte("</"))
	if idx < 0 {
		return nil, fmt.Errorf("draft has no closing tag")
	}
	signed := make([]byte, 0, len(draft)+len(block))
	signed = append(signed, draft[:idx]...)
	signed = append(signed, block...)
	signed = append(signed, draft[idx:]...)
	return signed, nil
}

// Ensure XMLSigner implements fiscal.Signer
var _ fiscal.Signer = (*XMLSigner)(nil)
