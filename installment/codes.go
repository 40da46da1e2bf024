package installment

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// CodeGenerator issues unique payment reference codes.
type CodeGenerator interface {
	NextCode() (string, error)
}

// UUIDCodes issues random codes derived from version 4 UUIDs: 32 uppercase
// hex characters, no separators.
type UUIDCodes struct{}

func (UUIDCodes) NextCode() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate reference code: %w", err)
	}
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")), nil
}

// SequenceCodes issues Prefix-000001, Prefix-000002, ... Safe for concurrent use.
type SequenceCodes struct {
	Prefix string

	mu   sync.Mutex
	next int
}

func (s *SequenceCodes) NextCode() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("%s-%06d", s.Prefix, s.next), nil
}
