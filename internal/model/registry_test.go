package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldRegistry_Lookups(t *testing.T) {
	reg := NewFieldRegistry(SchoolFieldSpecs())

	require.NotNil(t, reg.ByKey("hourly_rate"))
	assert.Equal(t, "pricing", reg.ByKey("hourly_rate").EntityType)
	assert.Nil(t, reg.ByKey("no_such_field"))

	school := reg.ByEntityType("school")
	assert.NotEmpty(t, school)
	for _, s := range school {
		assert.Equal(t, "school", s.EntityType)
	}
}

func TestCoerce_NilIsAbstention(t *testing.T) {
	spec := FieldSpec{Key: "hourly_rate", Type: FieldNumber}
	v, err := spec.Coerce(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCoerce_String(t *testing.T) {
	spec := FieldSpec{Key: "name", Type: FieldString, MaxLength: 10}

	v, err := spec.Coerce("Example Flight Academy")
	require.NoError(t, err)
	assert.Equal(t, "Example Fl", v, "over-length strings are truncated")

	v, err = spec.Coerce(42)
	require.NoError(t, err)
	assert.Equal(t, "42", v)
}

func TestCoerce_Number(t *testing.T) {
	spec := FieldSpec{Key: "hourly_rate", Type: FieldNumber, Min: ptr(0)}

	v, err := spec.Coerce(150.0)
	require.NoError(t, err)
	assert.Equal(t, 150.0, v)

	// currency strings from model output are cleaned
	v, err = spec.Coerce("$1,250.50")
	require.NoError(t, err)
	assert.Equal(t, 1250.50, v)

	_, err = spec.Coerce(-5.0)
	require.Error(t, err)

	_, err = spec.Coerce("call us")
	require.Error(t, err)
}

func TestCoerce_Int(t *testing.T) {
	spec := FieldSpec{Key: "fleet_size", Type: FieldInt, Min: ptr(1), Max: ptr(500)}

	v, err := spec.Coerce(12.0)
	require.NoError(t, err)
	assert.Equal(t, 12, v)

	_, err = spec.Coerce(12.5)
	require.Error(t, err, "fractional values are not integers")

	_, err = spec.Coerce(1000)
	require.Error(t, err)
}

func TestCoerce_Bool(t *testing.T) {
	spec := FieldSpec{Key: "va_approved", Type: FieldBool}

	v, err := spec.Coerce(true)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = spec.Coerce("True")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = spec.Coerce("yes-ish")
	require.Error(t, err)
}

func TestCoerce_EnumCanonicalizesCase(t *testing.T) {
	spec := FieldSpec{Key: "accreditation_type", Type: FieldEnum, Enum: []string{"Part 61", "Part 141"}}

	v, err := spec.Coerce("part 141")
	require.NoError(t, err)
	assert.Equal(t, "Part 141", v, "enum returns the declared casing")

	_, err = spec.Coerce("Part 999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside declared set")
}
