package model

import (
	"strings"
)

// AgreementType identifies one of the supported GDPR agreement categories
type AgreementType string

const (
	AgreementDPA     AgreementType = "DPA"
	AgreementJCA     AgreementType = "JCA"
	AgreementC2C     AgreementType = "C2C"
	AgreementPSA     AgreementType = "PSA"
	AgreementSCC     AgreementType = "SCC"
	AgreementUnknown AgreementType = "UNKNOWN"
)

// KnownAgreementTypes lists the classifiable types in display order, UNKNOWN excluded
var KnownAgreementTypes = []AgreementType{
	AgreementDPA,
	AgreementJCA,
	AgreementC2C,
	AgreementPSA,
	AgreementSCC,
}

var agreementNames = map[AgreementType]string{
	AgreementDPA:     "Data Processing Agreement",
	AgreementJCA:     "Joint Controller Agreement",
	AgreementC2C:     "Controller-to-Controller Agreement",
	AgreementPSA:     "Processor-to-Subprocessor Agreement",
	AgreementSCC:     "Standard Contractual Clauses",
	AgreementUnknown: "Unknown",
}

// agreementAliases maps normalized spellings onto agreement types
var agreementAliases = map[string]AgreementType{
	"cca":                                  AgreementC2C,
	"c2c agreement":                        AgreementC2C,
	"processor to sub processor agreement": AgreementPSA,
	"sub processor agreement":              AgreementPSA,
	"subprocessor agreement":               AgreementPSA,
	"sccs":                                 AgreementSCC,
	"data processing addendum":             AgreementDPA,
}

// DisplayName returns the human readable name of the agreement type
func (t AgreementType) DisplayName() string {
	if name, ok := agreementNames[t]; ok {
		return name
	}
	return agreementNames[AgreementUnknown]
}

// IsKnown reports whether t is one of the five classifiable types
func (t AgreementType) IsKnown() bool {
	for _, k := range KnownAgreementTypes {
		if t == k {
			return true
		}
	}
	return false
}

// ParseAgreementType maps a code or display name onto an AgreementType.
// Anything it does not recognise becomes AgreementUnknown.
func ParseAgreementType(s string) AgreementType {
	key := normalizeLabel(s)
	if key == "" {
		return AgreementUnknown
	}
	for t, name := range agreementNames {
		if key == strings.ToLower(string(t)) || key == normalizeLabel(name) {
			return t
		}
	}
	if t, ok := agreementAliases[key]; ok {
		return t
	}
	return AgreementUnknown
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, "\"'`.")
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
