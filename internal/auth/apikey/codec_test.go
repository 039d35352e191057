package apikey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		raw           string
		wantProjectID string
		wantClass     KeyClass
		wantErr       bool
	}{
		{
			name:          "valid production key",
			raw:           "proj_abc123_production_x9f2k1",
			wantProjectID: "abc123",
			wantClass:     ClassProduction,
		},
		{
			name:          "valid development key",
			raw:           "proj_abc123_development_x9f2k1",
			wantProjectID: "abc123",
			wantClass:     ClassDevelopment,
		},
		{
			name:    "empty string",
			raw:     "",
			wantErr: true,
		},
		{
			name:    "wrong namespace",
			raw:     "team_abc123_production_x9f2k1",
			wantErr: true,
		},
		{
			name:    "unknown class",
			raw:     "proj_abc123_staging_x9f2k1",
			wantErr: true,
		},
		{
			name:    "too few segments",
			raw:     "proj_abc123_production",
			wantErr: true,
		},
		{
			name:    "too many segments",
			raw:     "proj_abc123_production_x9f2k1_extra",
			wantErr: true,
		},
		{
			name:    "empty project id",
			raw:     "proj__production_x9f2k1",
			wantErr: true,
		},
		{
			name:    "empty suffix",
			raw:     "proj_abc123_production_",
			wantErr: true,
		},
		{
			name:    "bypass literal is not a structured key",
			raw:     "local-dev-key",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			descriptor, err := ParseKey(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedKey)
				assert.Nil(t, descriptor)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantProjectID, descriptor.ProjectID)
			assert.Equal(t, tt.wantClass, descriptor.Class)
		})
	}
}

func TestKeyClassValid(t *testing.T) {
	t.Parallel()

	assert.True(t, ClassProduction.Valid())
	assert.True(t, ClassDevelopment.Valid())
	assert.False(t, KeyClass("staging").Valid())
	assert.False(t, KeyClass("").Valid())
}

func TestDefaultBypassKeysNeverParse(t *testing.T) {
	t.Parallel()

	for _, key := range DefaultBypassKeys {
		_, err := ParseKey(key)
		assert.ErrorIs(t, err, ErrMalformedKey, "bypass literal %q must not parse", key)
	}
}

func TestRejectionHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code Code
		want int
	}{
		{CodeMissingCredential, 401},
		{CodeInvalidFormat, 401},
		{CodeInvalidCredential, 401},
		{CodeCredentialExpired, 401},
		{CodeCredentialRevoked, 401},
		{CodeTenantMismatch, 401},
		{CodeTenantNotFound, 401},
		{CodeOriginNotAllowed, 403},
		{CodeInsufficientPermissions, 403},
		{CodeInternalError, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			t.Parallel()

			rejection := NewRejection(tt.code, "test")
			assert.Equal(t, tt.want, rejection.HTTPStatus())
		})
	}
}

func TestAsRejection(t *testing.T) {
	t.Parallel()

	rejection := NewRejection(CodeInvalidCredential, "nope")

	got, ok := AsRejection(rejection)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidCredential, got.Code)

	_, ok = AsRejection(ErrKeyNotFound)
	assert.False(t, ok)
}
