package fiscal

import (
	"github.com/desdobra/backend/internal/domain/shared"
)

// AccessKeyLength is the fixed length of a fiscal document access key
const AccessKeyLength = 44

// Jurisdiction identifies the issuing administrative region of a document.
// It is the two-digit IBGE code embedded in the first two characters of
// the access key.
type Jurisdiction string

// String returns the two-digit code
func (j Jurisdiction) String() string {
	return string(j)
}

// jurisdictions maps the two-digit prefix to the issuing state.
// All 27 first-level administrative regions are covered.
var jurisdictions = map[string]string{
	"11": "RO", "12": "AC", "13": "AM", "14": "RR", "15": "PA",
	"16": "AP", "17": "TO", "21": "MA", "22": "PI", "23": "CE",
	"24": "RN", "25": "PB", "26": "PE", "27": "AL", "28": "SE",
	"29": "BA", "31": "MG", "32": "ES", "33": "RJ", "35": "SP",
	"41": "PR", "42": "SC", "43": "RS", "50": "MS", "51": "MT",
	"52": "GO", "53": "DF",
}

// DefaultJurisdiction is the fallback region used only by the legacy
// reconciliation path. Regular emission must never fall back silently.
const DefaultJurisdiction Jurisdiction = "35"

// ValidateAccessKey reports whether key is a well-formed access key:
// exactly 44 characters, all numeric.
func ValidateAccessKey(key string) bool {
	if len(key) != AccessKeyLength {
		return false
	}
	for _, c := range key {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// DeriveJurisdiction extracts the issuing jurisdiction from the access key
// prefix. It fails with ErrUnknownJurisdiction for a prefix outside the
// fixed table and with ErrInvalidAccessKey for a malformed key; it never
// defaults.
func DeriveJurisdiction(key string) (Jurisdiction, error) {
	if !ValidateAccessKey(key) {
		return "", ErrInvalidAccessKey
	}
	prefix := key[:2]
	if _, ok := jurisdictions[prefix]; !ok {
		return "", ErrUnknownJurisdiction
	}
	return Jurisdiction(prefix), nil
}

// DeriveJurisdictionOrDefault derives the jurisdiction from the key and
// falls back to DefaultJurisdiction when the prefix is not in the table.
// Only the legacy reconciler may use this; callers must log the fallback.
// It returns the jurisdiction and whether the fallback was taken.
func DeriveJurisdictionOrDefault(key string) (Jurisdiction, bool) {
	j, err := DeriveJurisdiction(key)
	if err != nil {
		return DefaultJurisdiction, true
	}
	return j, false
}

// JurisdictionState returns the state abbreviation for a jurisdiction code
func JurisdictionState(j Jurisdiction) (string, error) {
	state, ok := jurisdictions[string(j)]
	if !ok {
		return "", ErrUnknownJurisdiction
	}
	return state, nil
}

// Fiscal pipeline errors. These are surfaced to the caller before any
// signing or network attempt.
var (
	ErrInvalidAccessKey      = shared.NewDomainError("INVALID_ACCESS_KEY", "Access key must be exactly 44 numeric characters")
	ErrUnknownJurisdiction   = shared.NewDomainError("UNKNOWN_JURISDICTION", "Access key prefix does not match a known jurisdiction")
	ErrCredentialUnavailable = shared.NewDomainError("CREDENTIAL_UNAVAILABLE", "Signing credential is missing, expired or could not be decrypted")
	ErrSigningFailed         = shared.NewDomainError("SIGNING_FAILED", "Document payload could not be signed")
)
