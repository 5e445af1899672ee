package certificate

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"testing"
	"time"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXMLSigner_Sign(t *testing.T) {
	signer := NewXMLSigner()
	credential := testCredential(t, uuid.New(), time.Now().Add(24*time.Hour))
	draft := []byte(`<NFe><infNFe Id="NFe35000000000000000000000000000000000000000000" versao="4.00"><emit/></infNFe></NFe>`)

	signed, err := signer.Sign(context.Background(), draft, credential)

	require.NoError(t, err)
	assert.Contains(t, string(signed), `<Signature xmlns="http://www.w3.org/2000/09/xmldsig#">`)
	assert.Contains(t, string(signed), `<Reference URI="#NFe35000000000000000000000000000000000000000000">`)
	assert.Contains(t, string(signed), "<X509Certificate>")
	// the signature lands inside the root element
	assert.Regexp(t, regexp.MustCompile(`</Signature></NFe>$`), string(signed))

	// the signature value verifies against the credential's public key
	sigValue := regexp.MustCompile(`<SignatureValue>([^<]+)</SignatureValue>`).FindStringSubmatch(string(signed))
	require.Len(t, sigValue, 2)
	signedInfo := regexp.MustCompile(`<SignedInfo.*</SignedInfo>`).FindString(string(signed))
	require.NotEmpty(t, signedInfo)

	raw, err := base64.StdEncoding.DecodeString(sigValue[1])
	require.NoError(t, err)
	digest := sha256.Sum256([]byte(signedInfo))
	require.NoError(t, rsa.VerifyPKCS1v15(&credential.PrivateKey.PublicKey, crypto.SHA256, digest[:], raw))
}

func TestXMLSigner_Sign_EmptyDraft(t *testing.T) {
	signer := NewXMLSigner()
	credential := testCredential(t, uuid.New(), time.Now().Add(24*time.Hour))

	_, err := signer.Sign(context.Background(), []byte("   "), credential)

	require.Error(t, err)
}

func TestXMLSigner_Sign_NilCredential(t *testing.T) {
	signer := NewXMLSigner()

	_, err := signer.Sign(context.Background(), []byte("<NFe/>"), nil)

	require.Error(t, err)
}

func TestXMLSigner_Sign_MissingIDMakesEmptyReference(t *testing.T) {
	signer := NewXMLSigner()
	credential := &fiscal.SigningCredential{
		CompanyID:   uuid.New(),
		Certificate: testCredential(t, uuid.New(), time.Now().Add(time.Hour)).Certificate,
		PrivateKey:  testCredential(t, uuid.New(), time.Now().Add(time.Hour)).PrivateKey,
	}
	draft := []byte(`<NFe><infNFe versao="4.00"/></NFe>`)

	signed, err := signer.Sign(context.Background(), draft, credential)

	require.NoError(t, err)
	assert.Contains(t, string(signed), `<Reference URI="">`)
}
