// Package generators produces realistic surrogate values for detected PII.
// Every generator takes the caller's random source so output is reproducible
// under a fixed seed.
package generators

import (
	"fmt"
	"math/rand"
	"strings"
	"unicode"
)

var firstNames = []string{
	"John", "Jane", "Michael", "Sarah", "David", "Emily", "James", "Emma",
	"Wei", "Mei", "Hiroshi", "Yuki", "Raj", "Priya", "Arjun", "Ananya",
	"Amara", "Kofi", "Zara", "Kwame", "Nia", "Chioma",
	"Yusuf", "Fatima", "Omar", "Layla", "Nadia", "Ibrahim",
	"Carlos", "Maria", "Diego", "Sofia", "Lucia", "Camila",
	"Dmitri", "Anna", "Ivan", "Katya", "Elena", "Olga",
}

var surnames = []string{
	"Smith", "Johnson", "Brown", "Davis", "Wilson", "Taylor", "Clark", "Walker",
	"Chen", "Wang", "Kim", "Nguyen", "Tanaka", "Patel", "Singh", "Kumar",
	"Okonkwo", "Diallo", "Mensah", "Osei", "Abebe", "Ndlovu",
	"Ahmed", "Hassan", "Khan", "Malik", "Rahman",
	"Garcia", "Lopez", "Gonzalez", "Hernandez", "Rivera", "Torres",
	"Ivanov", "Petrov", "Kowalski", "Novak", "Horvat",
	"Murphy", "Kelly", "Sullivan", "Campbell", "Fraser",
}

var cities = []string{
	"Springfield", "Riverside", "Greenville", "Fairview", "Georgetown", "Arlington",
	"Kingston", "Newport", "Plymouth", "Burlington", "Lexington", "Ashland",
	"Halifax", "Regina", "Kitchener", "Windsor",
	"Leeds", "Sheffield", "Nottingham", "Cardiff", "Aberdeen", "Swansea",
}

var streets = []string{
	"Main St", "Oak Ave", "Maple Dr", "Park Blvd", "Cedar Lane", "River Road",
	"Highland Ave", "Sunset Blvd", "Garden Way", "High Street", "Station Road",
	"Church Lane", "Victoria Road", "Mill Lane", "Green Lane",
}

var groups = []string{
	"American", "Canadian", "British", "French", "German", "Italian", "Spanish",
	"Japanese", "Korean", "Brazilian", "Nigerian", "Kenyan", "Catholic", "Protestant",
	"Buddhist", "Democrat", "Republican",
}

// reserved for documentation by RFC 2606
var domains = []string{"example.com", "example.org", "example.net", "test.com", "test.org"}

var months = []string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// PersonGenerator keeps the shape of the original: a single token becomes a
// first name, longer names get a first and last name.
func PersonGenerator(rng *rand.Rand, original string) string {
	first := firstNames[rng.Intn(len(firstNames))]
	if len(strings.Fields(original)) < 2 {
		return first
	}
	return first + " " + surnames[rng.Intn(len(surnames))]
}

// EmailGenerator generates dummy email addresses
func EmailGenerator(rng *rand.Rand, original string) string {
	first := strings.ToLower(firstNames[rng.Intn(len(firstNames))])
	last := strings.ToLower(surnames[rng.Intn(len(surnames))])
	return fmt.Sprintf("%s.%s@%s", first, last, domains[rng.Intn(len(domains))])
}

// PhoneGenerator keeps the formatting of the original number when it can.
func PhoneGenerator(rng *rand.Rand, original string) string {
	if strings.ContainsAny(original, "0123456789") {
		return replaceDigits(rng, original, true)
	}
	return fmt.Sprintf("%d-%d-%04d", 200+rng.Intn(800), 200+rng.Intn(800), rng.Intn(10000))
}

// SSNGenerator avoids the 000, 666 and 9xx area numbers that are never issued.
func SSNGenerator(rng *rand.Rand, original string) string {
	area := 100 + rng.Intn(565)
	if area == 666 {
		area = 667
	}
	return fmt.Sprintf("%03d-%02d-%04d", area, 1+rng.Intn(99), 1+rng.Intn(9999))
}

// CreditCardGenerator produces a Luhn-valid 16 digit number laid out like
// the original.
func CreditCardGenerator(rng *rand.Rand, original string) string {
	digits := make([]int, 16)
	digits[0] = 4
	for i := 1; i < 15; i++ {
		digits[i] = rng.Intn(10)
	}
	digits[15] = luhnCheckDigit(digits[:15])

	var b strings.Builder
	sep := ""
	if strings.Contains(original, "-") {
		sep = "-"
	} else if strings.Contains(original, " ") {
		sep = " "
	}
	for i, d := range digits {
		if i > 0 && i%4 == 0 {
			b.WriteString(sep)
		}
		b.WriteByte(byte('0' + d))
	}
	return b.String()
}

func luhnCheckDigit(payload []int) int {
	sum := 0
	double := true
	for i := len(payload) - 1; i >= 0; i-- {
		d := payload[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}

// LocationGenerator returns a street address when the original starts with
// a number, otherwise a city.
func LocationGenerator(rng *rand.Rand, original string) string {
	if original != "" && unicode.IsDigit(rune(original[0])) {
		return fmt.Sprintf("%d %s", 1+rng.Intn(9999), streets[rng.Intn(len(streets))])
	}
	return cities[rng.Intn(len(cities))]
}

// DateGenerator mirrors the layout of the original date: ISO, numeric with
// the same separator, or month name.
func DateGenerator(rng *rand.Rand, original string) string {
	year := 1950 + rng.Intn(55)
	month := 1 + rng.Intn(12)
	day := 1 + rng.Intn(28)

	switch {
	case len(original) >= 10 && original[4] == '-':
		return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	case len(original) > 2 && (original[1] == '/' || original[2] == '/'):
		return fmt.Sprintf("%02d/%02d/%d", month, day, year)
	case len(original) > 2 && (original[1] == '-' || original[2] == '-'):
		return fmt.Sprintf("%02d-%02d-%d", month, day, year)
	case original != "" && unicode.IsLetter(rune(original[0])):
		return fmt.Sprintf("%s %d, %d", months[month-1], day, year)
	case original != "" && unicode.IsDigit(rune(original[0])):
		return fmt.Sprintf("%d %s %d", day, months[month-1], year)
	}
	return fmt.Sprintf("%02d/%02d/%d", month, day, year)
}

// NRPGenerator generates a nationality, religious or political group.
func NRPGenerator(rng *rand.Rand, original string) string {
	return groups[rng.Intn(len(groups))]
}

// IPAddressGenerator returns an address from the documentation ranges of the
// same family as the original.
func IPAddressGenerator(rng *rand.Rand, original string) string {
	if strings.Contains(original, ":") {
		return fmt.Sprintf("2001:db8::%x:%x", rng.Intn(0x10000), rng.Intn(0x10000))
	}
	nets := []string{"192.0.2", "198.51.100", "203.0.113"}
	return fmt.Sprintf("%s.%d", nets[rng.Intn(len(nets))], 1+rng.Intn(254))
}

// DriverLicenseGenerator generates format A1234567.
func DriverLicenseGenerator(rng *rand.Rand, original string) string {
	return fmt.Sprintf("%c%07d", 'A'+rune(rng.Intn(26)), rng.Intn(10000000))
}

// PassportGenerator generates format A12345678.
func PassportGenerator(rng *rand.Rand, original string) string {
	return fmt.Sprintf("%c%08d", 'A'+rune(rng.Intn(26)), rng.Intn(100000000))
}

// ITINGenerator draws the middle group from the 70-88 range reserved for
// ITINs.
func ITINGenerator(rng *rand.Rand, original string) string {
	return fmt.Sprintf("9%02d-%02d-%04d", rng.Intn(100), 70+rng.Intn(19), rng.Intn(10000))
}

// NHSNumberGenerator returns a number with a valid modulus 11 check digit.
func NHSNumberGenerator(rng *rand.Rand, original string) string {
	for {
		digits := make([]int, 9)
		total := 0
		for i := range digits {
			digits[i] = rng.Intn(10)
			total += digits[i] * (10 - i)
		}
		check := 11 - total%11
		if check == 11 {
			check = 0
		}
		if check == 10 {
			continue
		}
		return fmt.Sprintf("%d%d%d %d%d%d %d%d%d%d",
			digits[0], digits[1], digits[2], digits[3], digits[4], digits[5],
			digits[6], digits[7], digits[8], check)
	}
}

// AccountNumGenerator keeps the length and separators of the original.
func AccountNumGenerator(rng *rand.Rand, original string) string {
	if strings.ContainsAny(original, "0123456789") {
		return replaceDigits(rng, original, false)
	}
	return fmt.Sprintf("%010d", rng.Int63n(10000000000))
}

// GenericGenerator replaces letters and digits one for one, preserving case
// and punctuation.
func GenericGenerator(rng *rand.Rand, original string) string {
	var b strings.Builder
	for _, r := range original {
		switch {
		case unicode.IsDigit(r):
			b.WriteByte(byte('0' + rng.Intn(10)))
		case unicode.IsUpper(r):
			b.WriteRune('A' + rune(rng.Intn(26)))
		case unicode.IsLetter(r):
			b.WriteRune('a' + rune(rng.Intn(26)))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func replaceDigits(rng *rand.Rand, original string, phone bool) string {
	var b strings.Builder
	first := true
	for _, r := range original {
		if r < '0' || r > '9' {
			b.WriteRune(r)
			continue
		}
		d := rng.Intn(10)
		// phone area codes and exchanges never start with 0 or 1
		if first && phone && !strings.HasPrefix(original, "+") {
			d = 2 + rng.Intn(8)
		}
		first = false
		b.WriteByte(byte('0' + d))
	}
	return b.String()
}
