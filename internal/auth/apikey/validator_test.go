package apikey

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate-io/keygate/internal/project"
)

// failingStore fails every call with the given error.
type failingStore struct {
	err error
}

func (s *failingStore) FindByCredential(context.Context, string) (*KeyRecord, error) {
	return nil, s.err
}

func (s *failingStore) IncrementUsage(context.Context, string) error {
	return s.err
}

// brokenIncrementStore serves lookups but fails increments.
type brokenIncrementStore struct {
	*MemoryStore
	incrementErr error
}

func (s *brokenIncrementStore) IncrementUsage(context.Context, string) error {
	return s.incrementErr
}

// failingProjectStore fails every project lookup.
type failingProjectStore struct {
	err error
}

func (s *failingProjectStore) FindActiveByID(context.Context, string) (*project.Project, error) {
	return nil, s.err
}

const (
	testCredential = "proj_abc_production_x9f2k1"
	testDevKey     = "proj_abc_development_k2m4n6"
)

// newTestFixture builds a validator over fresh stores with one active
// production key, one development key, and their active project.
func newTestFixture(t *testing.T, cfg *Config, opts ...ValidatorOption) (Validator, *countingStore, *project.MemoryStore) {
	t.Helper()

	keys := newCountingStore()
	keys.Put(testCredential, &KeyRecord{
		ProjectID:   "abc",
		Class:       ClassProduction,
		Status:      StatusActive,
		IPAllowlist: []string{"203.0.113.0/24"},
		Permissions: []string{"project:read"},
	})
	keys.Put(testDevKey, &KeyRecord{
		ProjectID:   "abc",
		Class:       ClassDevelopment,
		Status:      StatusActive,
		Permissions: []string{"project:read"},
	})

	projects := project.NewMemoryStore()
	projects.Put(&project.Project{ID: "abc", Name: "Test", Status: project.StatusActive})

	validator, err := NewValidator(cfg, keys, projects, opts...)
	require.NoError(t, err)

	return validator, keys, projects
}

func TestNewValidatorErrors(t *testing.T) {
	t.Parallel()

	keys := NewMemoryStore()
	projects := project.NewMemoryStore()

	tests := []struct {
		name     string
		config   *Config
		keys     Store
		projects project.Store
	}{
		{
			name:     "nil config",
			config:   nil,
			keys:     keys,
			projects: projects,
		},
		{
			name:     "nil key store",
			config:   &Config{},
			keys:     nil,
			projects: projects,
		},
		{
			name:     "nil project store",
			config:   &Config{},
			keys:     keys,
			projects: nil,
		},
		{
			name:     "structured bypass key",
			config:   &Config{BypassKeys: []string{"proj_abc_production_x1"}},
			keys:     keys,
			projects: projects,
		},
		{
			name:     "empty bypass key",
			config:   &Config{BypassKeys: []string{""}},
			keys:     keys,
			projects: projects,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewValidator(tt.config, tt.keys, tt.projects)
			assert.Error(t, err)
		})
	}
}

func TestValidateSuccess(t *testing.T) {
	t.Parallel()

	validator, keys, _ := newTestFixture(t, &Config{})

	result, err := validator.Validate(context.Background(), testCredential, "198.51.100.7")
	require.NoError(t, err)

	assert.Equal(t, ResultAuthenticated, result.Kind)
	assert.False(t, result.IsOverride())
	assert.Equal(t, "abc", result.ProjectID())
	assert.Equal(t, ClassProduction, result.Descriptor.Class)
	require.NotNil(t, result.Project)
	assert.Equal(t, "abc", result.Project.ID)
	assert.Equal(t, []string{"project:read"}, result.Permissions)

	// Exactly one usage increment per accepted request.
	assert.Equal(t, 1, keys.increments)
	record, err := keys.FindByCredential(context.Background(), testCredential)
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.Usage())
}

func TestValidateRepeatedRequestsAccumulateUsage(t *testing.T) {
	t.Parallel()

	validator, keys, _ := newTestFixture(t, &Config{})

	_, err := validator.Validate(context.Background(), testCredential, "198.51.100.7")
	require.NoError(t, err)
	_, err = validator.Validate(context.Background(), testCredential, "198.51.100.7")
	require.NoError(t, err)

	record, err := keys.FindByCredential(context.Background(), testCredential)
	require.NoError(t, err)
	assert.Equal(t, int64(2), record.Usage())
}

func TestValidateMissingCredential(t *testing.T) {
	t.Parallel()

	validator, keys, _ := newTestFixture(t, &Config{})

	_, err := validator.Validate(context.Background(), "", "198.51.100.7")
	rejection, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, CodeMissingCredential, rejection.Code)
	assert.Equal(t, 0, keys.finds)
}

func TestValidateMalformedBeforeStore(t *testing.T) {
	t.Parallel()

	validator, keys, _ := newTestFixture(t, &Config{})

	malformed := []string{
		"garbage",
		"proj_abc_staging_x1",
		"team_abc_production_x1",
		"proj__production_x1",
		"proj_abc_production_x1_extra",
	}

	for _, raw := range malformed {
		_, err := validator.Validate(context.Background(), raw, "198.51.100.7")
		rejection, ok := AsRejection(err)
		require.True(t, ok, "input %q", raw)
		assert.Equal(t, CodeInvalidFormat, rejection.Code, "input %q", raw)
	}

	// Malformed input is decided without any persistence access.
	assert.Equal(t, 0, keys.finds)
	assert.Equal(t, 0, keys.increments)
}

func TestValidateUnknownCredential(t *testing.T) {
	t.Parallel()

	validator, _, _ := newTestFixture(t, &Config{})

	_, err := validator.Validate(context.Background(), "proj_abc_production_unknown", "198.51.100.7")
	rejection, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidCredential, rejection.Code)
}

func TestValidateBypass(t *testing.T) {
	t.Parallel()

	validator, keys, _ := newTestFixture(t, &Config{BypassKeys: DefaultBypassKeys})

	for _, raw := range DefaultBypassKeys {
		result, err := validator.Validate(context.Background(), raw, "198.51.100.7")
		require.NoError(t, err)
		assert.Equal(t, ResultOverride, result.Kind)
		assert.True(t, result.IsOverride())
		assert.Nil(t, result.Record)
		assert.Nil(t, result.Project)
		assert.Empty(t, result.ProjectID())
	}

	// The bypass never touches the store, not even for accounting.
	assert.Equal(t, 0, keys.finds)
	assert.Equal(t, 0, keys.increments)
}

func TestValidateBypassDisabled(t *testing.T) {
	t.Parallel()

	validator, _, _ := newTestFixture(t, &Config{})

	_, err := validator.Validate(context.Background(), "local-dev-key", "198.51.100.7")
	rejection, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidFormat, rejection.Code)
}

func TestValidateExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Minute)

	validator, keys, _ := newTestFixture(t, &Config{},
		WithClock(func() time.Time { return now }))
	keys.Put(testCredential, &KeyRecord{
		ProjectID: "abc",
		Class:     ClassProduction,
		Status:    StatusActive,
		ExpiresAt: &expired,
	})

	_, err := validator.Validate(context.Background(), testCredential, "198.51.100.7")
	rejection, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, CodeCredentialExpired, rejection.Code)

	// No accounting for rejected requests.
	assert.Equal(t, 0, keys.increments)
}

func TestValidateRevoked(t *testing.T) {
	t.Parallel()

	validator, keys, _ := newTestFixture(t, &Config{})
	keys.Put(testCredential, &KeyRecord{
		ProjectID:   "abc",
		Class:       ClassProduction,
		Status:      StatusRevoked,
		Permissions: []string{"project:read"},
	})

	_, err := validator.Validate(context.Background(), testCredential, "198.51.100.7")
	rejection, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, CodeCredentialRevoked, rejection.Code)
}

func TestValidateRotatedStillAuthorizes(t *testing.T) {
	t.Parallel()

	validator, keys, _ := newTestFixture(t, &Config{})
	keys.Put(testCredential, &KeyRecord{
		ProjectID: "abc",
		Class:     ClassProduction,
		Status:    StatusRotated,
	})

	result, err := validator.Validate(context.Background(), testCredential, "198.51.100.7")
	require.NoError(t, err)
	assert.Equal(t, ResultAuthenticated, result.Kind)
}

func TestValidateOriginEnforcement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		hardened bool
		raw      string
		origin   string
		wantCode Code
	}{
		{
			name:     "hardened production key from disallowed origin",
			hardened: true,
			raw:      testCredential,
			origin:   "198.51.100.7",
			wantCode: CodeOriginNotAllowed,
		},
		{
			name:     "hardened production key from allowed origin",
			hardened: true,
			raw:      testCredential,
			origin:   "203.0.113.42",
		},
		{
			name:     "non-hardened mode skips the allowlist",
			hardened: false,
			raw:      testCredential,
			origin:   "198.51.100.7",
		},
		{
			name:     "development key unrestricted even in hardened mode",
			hardened: true,
			raw:      testDevKey,
			origin:   "198.51.100.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			validator, _, _ := newTestFixture(t, &Config{Hardened: tt.hardened})

			result, err := validator.Validate(context.Background(), tt.raw, tt.origin)
			if tt.wantCode != "" {
				rejection, ok := AsRejection(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantCode, rejection.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ResultAuthenticated, result.Kind)
		})
	}
}

func TestValidateHardenedEmptyAllowlistUnrestricted(t *testing.T) {
	t.Parallel()

	validator, keys, _ := newTestFixture(t, &Config{Hardened: true})
	keys.Put(testCredential, &KeyRecord{
		ProjectID: "abc",
		Class:     ClassProduction,
		Status:    StatusActive,
	})

	_, err := validator.Validate(context.Background(), testCredential, "198.51.100.7")
	assert.NoError(t, err)
}

func TestValidateTenantMismatch(t *testing.T) {
	t.Parallel()

	validator, keys, _ := newTestFixture(t, &Config{})

	// The stored record belongs to a different project than the one
	// embedded in the credential string.
	keys.Put(testCredential, &KeyRecord{
		ProjectID: "other",
		Class:     ClassProduction,
		Status:    StatusActive,
	})

	_, err := validator.Validate(context.Background(), testCredential, "198.51.100.7")
	rejection, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, CodeTenantMismatch, rejection.Code)
}

func TestValidateTenantNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(projects *project.MemoryStore)
	}{
		{
			name: "project absent",
			setup: func(projects *project.MemoryStore) {
				projects.Replace(nil)
			},
		},
		{
			name: "project inactive",
			setup: func(projects *project.MemoryStore) {
				projects.Put(&project.Project{ID: "abc", Status: project.StatusInactive})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			validator, _, projects := newTestFixture(t, &Config{})
			tt.setup(projects)

			_, err := validator.Validate(context.Background(), testCredential, "198.51.100.7")
			rejection, ok := AsRejection(err)
			require.True(t, ok)
			assert.Equal(t, CodeTenantNotFound, rejection.Code)
		})
	}
}

func TestValidateStoreFailureIsNotRejection(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("connection refused")
	projects := project.NewMemoryStore()

	validator, err := NewValidator(&Config{}, &failingStore{err: storeErr}, projects)
	require.NoError(t, err)

	_, err = validator.Validate(context.Background(), testCredential, "198.51.100.7")
	require.Error(t, err)

	_, ok := AsRejection(err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, storeErr)
}

func TestValidateProjectStoreFailureIsNotRejection(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("connection refused")

	keys := NewMemoryStore()
	keys.Put(testCredential, &KeyRecord{
		ProjectID: "abc",
		Class:     ClassProduction,
		Status:    StatusActive,
	})

	validator, err := NewValidator(&Config{}, keys, &failingProjectStore{err: storeErr})
	require.NoError(t, err)

	_, err = validator.Validate(context.Background(), testCredential, "198.51.100.7")
	require.Error(t, err)

	_, ok := AsRejection(err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, storeErr)
}

func TestValidateUsageIncrementFailureAdmitsRequest(t *testing.T) {
	t.Parallel()

	inner := NewMemoryStore()
	inner.Put(testCredential, &KeyRecord{
		ProjectID: "abc",
		Class:     ClassProduction,
		Status:    StatusActive,
	})

	keys := &brokenIncrementStore{
		MemoryStore:  inner,
		incrementErr: errors.New("write timeout"),
	}

	projects := project.NewMemoryStore()
	projects.Put(&project.Project{ID: "abc", Status: project.StatusActive})

	validator, err := NewValidator(&Config{}, keys, projects)
	require.NoError(t, err)

	result, err := validator.Validate(context.Background(), testCredential, "198.51.100.7")
	require.NoError(t, err)
	assert.Equal(t, ResultAuthenticated, result.Kind)
}

func TestValidateOrderExpiryBeforeOrigin(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Minute)

	// Expired key with an allowlist the origin would also fail: the
	// expiry rejection must win so a dead credential never leaks
	// network policy.
	validator, keys, _ := newTestFixture(t, &Config{Hardened: true},
		WithClock(func() time.Time { return now }))
	keys.Put(testCredential, &KeyRecord{
		ProjectID:   "abc",
		Class:       ClassProduction,
		Status:      StatusActive,
		ExpiresAt:   &expired,
		IPAllowlist: []string{"203.0.113.0/24"},
	})

	_, err := validator.Validate(context.Background(), testCredential, "198.51.100.7")
	rejection, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, CodeCredentialExpired, rejection.Code)
}

func TestValidateOrderRevokedBeforeBinding(t *testing.T) {
	t.Parallel()

	validator, keys, _ := newTestFixture(t, &Config{})

	// Revoked and mis-bound: revocation wins.
	keys.Put(testCredential, &KeyRecord{
		ProjectID: "other",
		Class:     ClassProduction,
		Status:    StatusRevoked,
	})

	_, err := validator.Validate(context.Background(), testCredential, "198.51.100.7")
	rejection, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, CodeCredentialRevoked, rejection.Code)
}
