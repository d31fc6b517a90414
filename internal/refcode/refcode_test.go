package refcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "DRSMITH", Normalize("  drSmith "))
	assert.Equal(t, "SPRING-2025", Normalize("spring-2025"))
	assert.Equal(t, "A_B", Normalize("a_b"))
}

func TestValidateCode(t *testing.T) {
	valid := []string{"abc", "DrSmith", "spring-2025", "a_b_c"}
	for _, c := range valid {
		assert.NoError(t, ValidateCode(c), c)
	}

	invalid := []string{"", "ab", "has space", "émoji", "a!b", string(make([]byte, 70))}
	for _, c := range invalid {
		assert.ErrorIs(t, ValidateCode(c), ErrInvalidCode, c)
	}
}
