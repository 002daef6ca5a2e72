package common

import (
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------- MakeRandHexString ----------

func TestMakeRandHexString_LengthAndHex(t *testing.T) {
	const n = 16
	s, err := MakeRandHexString(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s) != n*2 {
		t.Fatalf("expected hex length %d, got %d", n*2, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		t.Fatalf("string is not valid hex: %v", err)
	}
}

func TestMakeRandHexString_ZeroSize(t *testing.T) {
	s, err := MakeRandHexString(0)
	if err != nil {
		t.Fatalf("unexpected error for size=0: %v", err)
	}
	if s != "" {
		t.Fatalf("expected empty string for size=0, got %q", s)
	}
}

// ---------- GenerateRandByteArray ----------

func TestGenerateRandByteArray_Basic(t *testing.T) {
	const n = 24
	buf := GenerateRandByteArray(n)
	if buf == nil {
		t.Fatalf("expected non-nil slice")
	}
	if len(buf) != n {
		t.Fatalf("expected length %d, got %d", n, len(buf))
	}
}

// ---------- errors ----------

func TestValidationError_IsAndMessage(t *testing.T) {
	err := NewValidationError("plant", []FieldError{
		{Field: "name", Rule: "required", Message: "is required"},
		{Field: "type", Rule: "oneof", Message: "must be one of [vegetable herb]"},
	})

	wrapped := fmt.Errorf("create: %w", err)
	require.ErrorIs(t, wrapped, ErrValidation)
	assert.NotErrorIs(t, wrapped, ErrNotFound)

	var ve *ValidationError
	require.ErrorAs(t, wrapped, &ve)
	assert.Len(t, ve.Fields, 2)
	assert.Contains(t, err.Error(), "invalid plant")
	assert.Contains(t, err.Error(), "name: is required")
}

func TestStorageError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewStorageError("insert", cause)

	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, "storage insert: disk full", err.Error())
}
