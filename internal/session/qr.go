package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/rvs-verify/internal/domain"
)

// ParseQR достает reference из QR: JSON {"reference_code": "..."} или сам код.
// Дефисы и пробелы удаляются.
func ParseQR(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty payload", domain.ErrInvalidQR)
	}

	ref := s
	if strings.HasPrefix(s, "{") {
		var payload struct {
			ReferenceCode string `json:"reference_code"`
		}
		if err := json.Unmarshal([]byte(s), &payload); err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidQR, err)
		}
		ref = payload.ReferenceCode
	}

	ref = strings.NewReplacer("-", "", " ", "").Replace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: no reference code", domain.ErrInvalidQR)
	}
	return ref, nil
}
