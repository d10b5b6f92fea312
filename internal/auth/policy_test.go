package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credstore/internal/common"
)

func TestValidatePassword(t *testing.T) {
	cases := []struct {
		name     string
		password string
		ok       bool
	}{
		{"valid", "AdminSecure123!", true},
		{"too short", "Ab1!", false},
		{"no uppercase", "adminsecure123!", false},
		{"no lowercase", "ADMINSECURE123!", false},
		{"no digit", "AdminSecurePwd!", false},
		{"no special", "AdminSecure1234", false},
		{"exactly minimum", "Abcdefgh123!", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePassword(tc.password)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, common.ErrWeakPassword)
			}
		})
	}
}

func TestGeneratePassword_SatisfiesPolicy(t *testing.T) {
	for i := 0; i < 20; i++ {
		pw, err := GeneratePassword(16)
		require.NoError(t, err)
		assert.Len(t, pw, 16)
		require.NoError(t, ValidatePassword(pw))
	}
}

func TestGeneratePassword_RaisesShortLengths(t *testing.T) {
	pw, err := GeneratePassword(4)
	require.NoError(t, err)
	assert.Len(t, pw, MinPasswordLength)
}
