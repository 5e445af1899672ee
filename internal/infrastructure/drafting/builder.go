// Package drafting builds the unsigned fiscal document for an order.
// The generated payload is opaque to the rest of the pipeline; what
// matters is that building the same order twice yields the same access
// key, which is what the idempotency guard keys on.
package drafting

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"hash/fnv"
	"strings"

	appfiscal "github.com/desdobra/backend/internal/application/fiscal"
	"github.com/desdobra/backend/internal/domain/fiscal"
	"github.com/desdobra/backend/internal/domain/trade"
	"github.com/google/uuid"
)

// documentModel is the two-digit model code of the electronic invoice
const documentModel = "55"

// Builder derives a deterministic draft from the order. The issuer's
// CNPJ comes from the signing certificate, so a company never issues
// under a registration its credential does not prove.
type Builder struct {
	credentials  fiscal.CredentialResolver
	jurisdiction fiscal.Jurisdiction
	series       int
}

// NewBuilder creates a draft builder issuing under the given
// jurisdiction and series
func NewBuilder(credentials fiscal.CredentialResolver, jurisdiction fiscal.Jurisdiction, series int) *Builder {
	if series <= 0 {
		series = 1
	}
	return &Builder{
		credentials:  credentials,
		jurisdiction: jurisdiction,
		series:       series,
	}
}

// Build produces the unsigned document and its access key for the order
func (b *Builder) Build(ctx context.Context, order *trade.SalesOrder, env fiscal.Environment) (*appfiscal.Draft, error) {
	credential, err := b.credentials.Load(ctx, order.CompanyID)
	if err != nil {
		return nil, err
	}
	cnpj, err := cnpjFromCertificate(credential)
	if err != nil {
		return nil, err
	}

	sequence := numericFingerprint(order.ID, "nNF", 1_000_000_000)
	if sequence == 0 {
		sequence = 1
	}
	code := numericFingerprint(order.ID, "cNF", 100_000_000)

	partial := fmt.Sprintf("%s%s%s%s%03d%09d1%08d",
		b.jurisdiction,
		order.CreatedAt.Format("0601"),
		cnpj,
		documentModel,
		b.series,
		sequence,
		code,
	)
	accessKey := partial + checkDigit(partial)
	if !fiscal.ValidateAccessKey(accessKey) {
		return nil, fiscal.ErrInvalidAccessKey
	}

	payload, err := renderPayload(accessKey, order, env, int64(sequence), b.series)
	if err != nil {
		return nil, err
	}

	return &appfiscal.Draft{
		AccessKey:      accessKey,
		Series:         b.series,
		SequenceNumber: int64(sequence),
		Payload:        payload,
	}, nil
}

// cnpjFromCertificate extracts the issuer registration from the e-CNPJ
// certificate subject, which carries "HOLDER NAME:CNPJ" as its common
// name
func cnpjFromCertificate(credential *fiscal.SigningCredential) (string, error) {
	if credential == nil || credential.Certificate == nil {
		return "", fiscal.ErrCredentialUnavailable
	}
	cn := credential.Certificate.Subject.CommonName
	idx := strings.LastIndex(cn, ":")
	if idx < 0 || idx == len(cn)-1 {
		return "", fiscal.ErrCredentialUnavailable
	}
	cnpj := cn[idx+1:]
	if len(cnpj) != 14 {
		return "", fiscal.ErrCredentialUnavailable
	}
	for _, c := range cnpj {
		if c < '0' || c > '9' {
			return "", fiscal.ErrCredentialUnavailable
		}
	}
	return cnpj, nil
}

// numericFingerprint hashes the order identity into a bounded document
// field. The label keeps distinct fields of the same order independent.
func numericFingerprint(id uuid.UUID, label string, mod uint64) uint64 {
	h := fnv.New64a()
	h.Write([]byte(label))
	h.Write(id[:])
	return h.Sum64() % mod
}

// checkDigit computes the modulo-11 verifier over the 43 leading digits,
// weighting 2 through 9 from the rightmost digit
func checkDigit(partial string) string {
	weight := 2
	sum := 0
	for i := len(partial) - 1; i >= 0; i-- {
		sum += int(partial[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	dv := 11 - sum%11
	if dv >= 10 {
		dv = 0
	}
	return fmt.Sprintf("%d", dv)
}

func renderPayload(accessKey string, order *trade.SalesOrder, env fiscal.Environment, sequence int64, series int) ([]byte, error) {
	var customer bytes.Buffer
	if err := xml.EscapeText(&customer, []byte(order.CustomerName)); err != nil {
		return nil, fmt.Errorf("failed to escape customer name: %w", err)
	}

	payload := fmt.Sprintf(
		`<NFe xmlns="http://www.portalfiscal.inf.br/nfe"><infNFe Id="NFe%s" versao="4.00"><ide><cNF>%s</cNF><mod>%s</mod><serie>%d</serie><nNF>%d</nNF><tpAmb>%s</tpAmb></ide><dest><xNome>%s</xNome></dest><total><ICMSTot><vNF>%s</vNF></ICMSTot></total></infNFe></NFe>`,
		accessKey,
		accessKey[35:43],
		documentModel,
		series,
		sequence,
		env,
		customer.String(),
		order.TotalAmount.StringFixed(2),
	)
	return []byte(payload), nil
}

var _ appfiscal.DraftBuilder = (*Builder)(nil)
