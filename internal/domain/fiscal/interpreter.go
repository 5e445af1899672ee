package fiscal

import (
	"regexp"
	"time"
)

// StatusTable maps authority response codes to emission statuses. Codes
// absent from every bucket classify as REJECTED: the mapping observed in
// production is not guaranteed exhaustive, so unknown codes fail safe
// toward "not authorized" rather than silently assuming success. The
// table is injectable so deployments can extend it without a rebuild.
type StatusTable struct {
	Authorized map[int]bool
	Processing map[int]bool
	Denied     map[int]bool
}

// DefaultStatusTable returns the code classification observed from the
// authority:
//   - 100/150 document authorized, 204 duplicate of an already
//     authorized key (success for an idempotent resubmission)
//   - 103 batch received, 105 batch queued for async resolution
//   - 110/301/302/303 denial family (emitter or recipient structurally
//     barred by the jurisdiction)
func DefaultStatusTable() StatusTable {
	return StatusTable{
		Authorized: map[int]bool{100: true, 150: true, 204: true},
		Processing: map[int]bool{103: true, 105: true},
		Denied:     map[int]bool{110: true, 301: true, 302: true, 303: true},
	}
}

// Classify maps a response code to an emission status
func (t StatusTable) Classify(code int) EmissionStatus {
	switch {
	case t.Authorized[code]:
		return EmissionStatusAuthorized
	case t.Processing[code]:
		return EmissionStatusProcessing
	case t.Denied[code]:
		return EmissionStatusDenied
	default:
		return EmissionStatusRejected
	}
}

// Outcome is the interpreted result of an authority exchange
type Outcome struct {
	Status   EmissionStatus
	Code     int
	Message  string
	Protocol *Protocol
}

// Interpreter maps raw authority responses to emission outcomes
type Interpreter struct {
	table      StatusTable
	extractors []protocolExtractor
}

// NewInterpreter creates an interpreter with the default status table
func NewInterpreter() *Interpreter {
	return NewInterpreterWithTable(DefaultStatusTable())
}

// NewInterpreterWithTable creates an interpreter with a custom table
func NewInterpreterWithTable(table StatusTable) *Interpreter {
	return &Interpreter{
		table: table,
		extractors: []protocolExtractor{
			extractStructuredProtocol,
			extractEmbeddedProtocol,
		},
	}
}

// Interpret classifies the response code and extracts protocol metadata.
// The mapping is total: every code lands in exactly one bucket. The
// authority message is carried through verbatim.
func (i *Interpreter) Interpret(resp *RawResponse) Outcome {
	out := Outcome{
		Status:  i.table.Classify(resp.Code),
		Code:    resp.Code,
		Message: resp.Message,
	}
	for _, extract := range i.extractors {
		if p := extract(resp); p != nil {
			out.Protocol = p
			break
		}
	}
	return out
}

// protocolExtractor probes one response shape for the protocol number.
// Extractors are tried in priority order; the first match wins.
type protocolExtractor func(*RawResponse) *Protocol

// extractStructuredProtocol reads the dedicated protocol field
func extractStructuredProtocol(resp *RawResponse) *Protocol {
	if resp.ProtocolNumber == "" {
		return nil
	}
	return &Protocol{Number: resp.ProtocolNumber, Timestamp: resp.ProtocolTimestamp}
}

var embeddedProtocolPattern = regexp.MustCompile(`<nProt>(\d+)</nProt>`)
var embeddedTimestampPattern = regexp.MustCompile(`<dhRecbto>([0-9T:+.-]+)</dhRecbto>`)

// extractEmbeddedProtocol falls back to the number embedded in the
// signed protocol block. Older authority versions only return it there.
func extractEmbeddedProtocol(resp *RawResponse) *Protocol {
	if len(resp.ProtocolXML) == 0 {
		return nil
	}
	m := embeddedProtocolPattern.FindSubmatch(resp.ProtocolXML)
	if m == nil {
		return nil
	}
	p := &Protocol{Number: string(m[1])}
	if tm := embeddedTimestampPattern.FindSubmatch(resp.ProtocolXML); tm != nil {
		if ts, err := time.Parse(time.RFC3339, string(tm[1])); err == nil {
			p.Timestamp = &ts
		}
	}
	return p
}
