package authority

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/desdobra/backend/internal/domain/fiscal"
	"go.uber.org/zap"
)

// EndpointResolver maps a jurisdiction and environment flag to the
// webservice URL
type EndpointResolver func(jurisdiction, env string) string

// Options configures the HTTP client
type Options struct {
	Endpoint      EndpointResolver
	SubmitTimeout time.Duration
	QueryTimeout  time.Duration
	// Transport overrides the HTTP transport, used for the mTLS client
	// certificate the production webservices require.
	Transport http.RoundTripper
}

// Client talks to the tax authority webservices over HTTP. It performs
// exactly one exchange per call: retry policy belongs to the caller,
// never here, because a timed-out submission may still have been
// accepted by the authority.
type Client struct {
	httpClient    *http.Client
	endpoint      EndpointResolver
	submitTimeout time.Duration
	queryTimeout  time.Duration
	logger        *zap.Logger
}

// NewClient creates a new authority client
func NewClient(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	submitTimeout := opts.SubmitTimeout
	if submitTimeout == 0 {
		submitTimeout = 30 * time.Second
	}
	queryTimeout := opts.QueryTimeout
	if queryTimeout == 0 {
		queryTimeout = 15 * time.Second
	}
	return &Client{
		httpClient:    &http.Client{Transport: transport},
		endpoint:      opts.Endpoint,
		submitTimeout: submitTimeout,
		queryTimeout:  queryTimeout,
		logger:        logger,
	}
}

// batchReturn is the authority's answer to a batch submission
type batchReturn struct {
	XMLName xml.Name `xml:"retEnviNFe"`
	Env     string   `xml:"tpAmb"`
	Code    int      `xml:"cStat"`
	Message string   `xml:"xMotivo"`
	Receipt struct {
		Number string `xml:"nRec"`
	} `xml:"infRec"`
	Protocol *protocolInfo `xml:"protNFe>infProt"`
}

// queryReturn is the authority's answer to a receipt or key query
type queryReturn struct {
	Env      string        `xml:"tpAmb"`
	Code     int           `xml:"cStat"`
	Message  string        `xml:"xMotivo"`
	Receipt  string        `xml:"nRec"`
	Protocol *protocolInfo `xml:"protNFe>infProt"`
}

type protocolInfo struct {
	Code       int    `xml:"cStat"`
	Message    string `xml:"xMotivo"`
	Number     string `xml:"nProt"`
	ReceivedAt string `xml:"dhRecbto"`
}

var protNFePattern = regexp.MustCompile(`(?s)<protNFe.*?</protNFe>`)

// SubmitBatch sends a signed document batch for authorization
func (c *Client) SubmitBatch(ctx context.Context, signedPayload []byte, lotID string, jurisdiction fiscal.Jurisdiction, env fiscal.Environment) (*fiscal.RawResponse, error) {
	var body bytes.Buffer
	body.WriteString(`<enviNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">`)
	body.WriteString(`<idLote>` + xmlEscape(lotID) + `</idLote>`)
	body.WriteString(`<indSinc>1</indSinc>`)
	body.Write(signedPayload)
	body.WriteString(`</enviNFe>`)

	raw, err := c.exchange(ctx, c.submitTimeout, jurisdiction, env, "submit", body.Bytes())
	if err != nil {
		return nil, err
	}

	var ret batchReturn
	if err := xml.Unmarshal(raw, &ret); err != nil {
		return nil, &fiscal.AuthorityError{
			Code: "MALFORMED_RESPONSE",
			Hint: "authority answered with an unparseable document",
			Err:  err,
		}
	}

	return c.toRawResponse(ret.Code, ret.Message, ret.Receipt.Number, ret.Protocol, raw, env), nil
}

// QueryByReceipt asks for the outcome of a previously submitted batch
func (c *Client) QueryByReceipt(ctx context.Context, receiptID string, jurisdiction fiscal.Jurisdiction, env fiscal.Environment) (*fiscal.RawResponse, error) {
	var body bytes.Buffer
	body.WriteString(`<consReciNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">`)
	body.WriteString(`<tpAmb>` + string(env) + `</tpAmb>`)
	body.WriteString(`<nRec>` + xmlEscape(receiptID) + `</nRec>`)
	body.WriteString(`</consReciNFe>`)

	return c.query(ctx, jurisdiction, env, body.Bytes())
}

// QueryByAccessKey asks for the current status of one document
func (c *Client) QueryByAccessKey(ctx context.Context, accessKey string, jurisdiction fiscal.Jurisdiction, env fiscal.Environment) (*fiscal.RawResponse, error) {
	var body bytes.Buffer
	body.WriteString(`<consSitNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">`)
	body.WriteString(`<tpAmb>` + string(env) + `</tpAmb>`)
	body.WriteString(`<xServ>CONSULTAR</xServ>`)
	body.WriteString(`<chNFe>` + xmlEscape(accessKey) + `</chNFe>`)
	body.WriteString(`</consSitNFe>`)

	return c.query(ctx, jurisdiction, env, body.Bytes())
}

func (c *Client) query(ctx context.Context, jurisdiction fiscal.Jurisdiction, env fiscal.Environment, body []byte) (*fiscal.RawResponse, error) {
	raw, err := c.exchange(ctx, c.queryTimeout, jurisdiction, env, "query", body)
	if err != nil {
		return nil, err
	}

	var ret queryReturn
	if err := xml.Unmarshal(raw, &ret); err != nil {
		return nil, &fiscal.AuthorityError{
			Code: "MALFORMED_RESPONSE",
			Hint: "authority answered with an unparseable document",
			Err:  err,
		}
	}

	return c.toRawResponse(ret.Code, ret.Message, ret.Receipt, ret.Protocol, raw, env), nil
}

// exchange performs one HTTP POST with a per-call deadline
func (c *Client) exchange(ctx context.Context, timeout time.Duration, jurisdiction fiscal.Jurisdiction, env fiscal.Environment, op string, body []byte) ([]byte, error) {
	endpoint := c.endpoint(jurisdiction.String(), string(env))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &fiscal.AuthorityError{
			Code: "UNREACHABLE",
			Hint: fmt.Sprintf("%s to %s failed after %s", op, endpoint, time.Since(start).Round(time.Millisecond)),
			Err:  err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &fiscal.AuthorityError{
			Code: "TRUNCATED_RESPONSE",
			Hint: "connection dropped while reading the response",
			Err:  err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &fiscal.AuthorityError{
			Code:       "HTTP_ERROR",
			Hint:       fmt.Sprintf("%s returned HTTP %d", endpoint, resp.StatusCode),
			HTTPStatus: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	c.logger.Debug("authority exchange",
		zap.String("operation", op),
		zap.String("jurisdiction", jurisdiction.String()),
		zap.Duration("latency", time.Since(start)),
		zap.Int("response_bytes", len(raw)),
	)
	return raw, nil
}

// toRawResponse maps the parsed envelope to the domain response. When a
// protocol block is present its status supersedes the envelope status:
// the envelope only acknowledges the batch.
func (c *Client) toRawResponse(code int, message, receipt string, protocol *protocolInfo, raw []byte, env fiscal.Environment) *fiscal.RawResponse {
	resp := &fiscal.RawResponse{
		Code:          code,
		Message:       message,
		ReceiptNumber: receipt,
		Environment:   env,
	}

	if protocol != nil {
		if protocol.Code != 0 {
			resp.Code = protocol.Code
			resp.Message = protocol.Message
		}
		resp.ProtocolNumber = protocol.Number
		if ts, err := time.Parse(time.RFC3339, protocol.ReceivedAt); err == nil {
			resp.ProtocolTimestamp = &ts
		}
	}

	if block := protNFePattern.Find(raw); block != nil {
		resp.ProtocolXML = block
	}

	return resp
}

func xmlEscape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// Ensure Client implements fiscal.AuthorityClient
var _ fiscal.AuthorityClient = (*Client)(nil)
