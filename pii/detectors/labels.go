package detectors

import "strings"

// Canonical entity types returned by the service.
const (
	EntityPerson          = "PERSON"
	EntityEmailAddress    = "EMAIL_ADDRESS"
	EntityPhoneNumber     = "PHONE_NUMBER"
	EntityCreditCard      = "CREDIT_CARD"
	EntityUSSSN           = "US_SSN"
	EntityUSBankNumber    = "US_BANK_NUMBER"
	EntityLocation        = "LOCATION"
	EntityDateTime        = "DATE_TIME"
	EntityNRP             = "NRP"
	EntityUKNHS           = "UK_NHS"
	EntityIPAddress       = "IP_ADDRESS"
	EntityUSDriverLicense = "US_DRIVER_LICENSE"
	EntityUSITIN          = "US_ITIN"
	EntityUSPassport      = "US_PASSPORT"
)

// DefaultEntities is the allow-list used when none is configured.
var DefaultEntities = []string{
	EntityPerson, EntityEmailAddress, EntityPhoneNumber, EntityCreditCard,
	EntityUSSSN, EntityUSBankNumber, EntityLocation, EntityDateTime,
	EntityNRP, EntityUKNHS, EntityIPAddress, EntityUSDriverLicense,
	EntityUSITIN, EntityUSPassport,
}

// modelLabels maps the label vocabularies of the supported token
// classification models onto canonical entity types.
var modelLabels = map[string]string{
	"PER":              EntityPerson,
	"NAME":             EntityPerson,
	"FIRSTNAME":        EntityPerson,
	"MIDDLENAME":       EntityPerson,
	"LASTNAME":         EntityPerson,
	"SURNAME":          EntityPerson,
	"EMAIL":            EntityEmailAddress,
	"TELEPHONENUM":     EntityPhoneNumber,
	"PHONENUMBER":      EntityPhoneNumber,
	"PHONE":            EntityPhoneNumber,
	"CREDITCARDNUMBER": EntityCreditCard,
	"CARD_NUMBER":      EntityCreditCard,
	"SOCIALNUM":        EntityUSSSN,
	"SSN":              EntityUSSSN,
	"ACCOUNTNUM":       EntityUSBankNumber,
	"CITY":             EntityLocation,
	"STREET":           EntityLocation,
	"BUILDINGNUM":      EntityLocation,
	"ZIPCODE":          EntityLocation,
	"ADDRESS":          EntityLocation,
	"LOC":              EntityLocation,
	"GPE":              EntityLocation,
	"COUNTRY":          EntityLocation,
	"STATE":            EntityLocation,
	"DATEOFBIRTH":      EntityDateTime,
	"DATE":             EntityDateTime,
	"TIME":             EntityDateTime,
	"NORP":             EntityNRP,
	"DRIVERLICENSENUM": EntityUSDriverLicense,
	"DRIVERLICENSE":    EntityUSDriverLicense,
	"TAXNUM":           EntityUSITIN,
	"PASSPORT":         EntityUSPassport,
	"PASSPORTNUM":      EntityUSPassport,
	"IP":               EntityIPAddress,
	"IPADDRESS":        EntityIPAddress,
	"IPV4":             EntityIPAddress,
	"IPV6":             EntityIPAddress,
}

// CanonicalLabel maps a recognizer label (with or without a BIO prefix) to
// its canonical entity type. Labels that are already canonical or unknown are
// returned upper-cased.
func CanonicalLabel(label string) string {
	l := strings.ToUpper(strings.TrimSpace(label))
	l = strings.TrimPrefix(strings.TrimPrefix(l, "B-"), "I-")
	if canonical, ok := modelLabels[l]; ok {
		return canonical
	}
	return l
}
