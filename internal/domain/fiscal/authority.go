package fiscal

import (
	"context"
	"fmt"
	"time"
)

// RawResponse is the parsed but uninterpreted reply from the tax
// authority. The numeric code and free-text message are always present;
// receipt and protocol data depend on the operation and on how far the
// authority got with the batch.
type RawResponse struct {
	Code              int
	Message           string
	ReceiptNumber     string
	ProtocolNumber    string
	ProtocolTimestamp *time.Time
	// ProtocolXML is the signed protocol block as returned on the wire.
	// Some authority versions embed the protocol number only here.
	ProtocolXML []byte
	Environment Environment
}

// AuthorityClient performs the network exchange with the tax authority.
// Implementations must bound every call with the context deadline and
// must not retry; retries are driven by the job queue's re-delivery
// policy, never by the client.
type AuthorityClient interface {
	// SubmitBatch submits a signed payload under a lot identifier
	SubmitBatch(ctx context.Context, signedPayload []byte, lotID string, jurisdiction Jurisdiction, env Environment) (*RawResponse, error)
	// QueryByReceipt polls the result of a previously submitted batch
	QueryByReceipt(ctx context.Context, receiptID string, jurisdiction Jurisdiction, env Environment) (*RawResponse, error)
	// QueryByAccessKey fetches the current protocol for a document key
	QueryByAccessKey(ctx context.Context, accessKey string, jurisdiction Jurisdiction, env Environment) (*RawResponse, error)
}

// AuthorityError is a structured failure from the authority exchange.
// The raw detail is logged for operators; production callers only ever
// see a generic message.
type AuthorityError struct {
	Code       string
	Hint       string
	HTTPStatus int
	Err        error
}

// Error implements the error interface
func (e *AuthorityError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("authority error %s (http %d): %s", e.Code, e.HTTPStatus, e.Hint)
	}
	return fmt.Sprintf("authority error %s (http %d)", e.Code, e.HTTPStatus)
}

// Unwrap returns the underlying transport error, if any
func (e *AuthorityError) Unwrap() error {
	return e.Err
}

// Signer produces the signed payload for a draft document. The signed
// XML is treated as an opaque blob; its internal structure is the
// collaborator's concern.
type Signer interface {
	Sign(ctx context.Context, draft []byte, credential *SigningCredential) ([]byte, error)
}
