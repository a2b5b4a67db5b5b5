package pii

import (
	"math/rand"
	"sync"
	"time"

	"github.com/secura/anonymizer/pii/detectors"
	"github.com/secura/anonymizer/pii/generators"
)

type generatorFunc func(rng *rand.Rand, original string) string

var generatorsByEntity = map[string]generatorFunc{
	detectors.EntityPerson:          generators.PersonGenerator,
	detectors.EntityEmailAddress:    generators.EmailGenerator,
	detectors.EntityPhoneNumber:     generators.PhoneGenerator,
	detectors.EntityCreditCard:      generators.CreditCardGenerator,
	detectors.EntityUSSSN:           generators.SSNGenerator,
	detectors.EntityUSBankNumber:    generators.AccountNumGenerator,
	detectors.EntityLocation:        generators.LocationGenerator,
	detectors.EntityDateTime:        generators.DateGenerator,
	detectors.EntityNRP:             generators.NRPGenerator,
	detectors.EntityUKNHS:           generators.NHSNumberGenerator,
	detectors.EntityIPAddress:       generators.IPAddressGenerator,
	detectors.EntityUSDriverLicense: generators.DriverLicenseGenerator,
	detectors.EntityUSITIN:          generators.ITINGenerator,
	detectors.EntityUSPassport:      generators.PassportGenerator,
}

// GeneratorService handles PII replacement generation
type GeneratorService struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGeneratorService creates a new generator service
func NewGeneratorService() *GeneratorService {
	// #nosec G404 - surrogate values are not secrets
	return &GeneratorService{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewGeneratorServiceWithSeed creates a generator with a fixed seed for deterministic output (testing)
func NewGeneratorServiceWithSeed(seed int64) *GeneratorService {
	// #nosec G404 - surrogate values are not secrets
	return &GeneratorService{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// GenerateReplacement generates a replacement for the given entity type and
// original text. Unknown types fall back to a shape-preserving generator.
func (s *GeneratorService) GenerateReplacement(entityType, originalText string) string {
	generate, ok := generatorsByEntity[detectors.CanonicalLabel(entityType)]
	if !ok {
		generate = generators.GenericGenerator
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return generate(s.rng, originalText)
}
