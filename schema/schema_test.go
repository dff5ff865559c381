package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ionbus/ionbus-fast-persist/persisterrors"
)

func TestNewRejectsUnrecognizedPortableType(t *testing.T) {
	_, err := New(map[string]struct{}{"key": {}}, map[string]string{"weird": "weirdtype"})
	require.Error(t, err)

	var schemaErr *persisterrors.ExtraSchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Equal(t, "weird", schemaErr.Column)
}

func TestNewRejectsReservedNameCollision(t *testing.T) {
	_, err := New(map[string]struct{}{"process_name": {}}, map[string]string{"process_name": "string"})
	require.Error(t, err)

	var schemaErr *persisterrors.ExtraSchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestNewRejectsIllegalIdentifier(t *testing.T) {
	_, err := New(map[string]struct{}{}, map[string]string{"not-an-identifier": "string"})
	require.Error(t, err)

	var schemaErr *persisterrors.ExtraSchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestNewAcceptsDeclaredColumnsInSortedOrder(t *testing.T) {
	reg, err := New(map[string]struct{}{"key": {}}, map[string]string{
		"retries": "int32",
		"region":  "string",
	})
	require.NoError(t, err)

	require.Equal(t, []string{"region", "retries"}, reg.Names())
	require.Contains(t, reg.DDLFragment(), "region VARCHAR")
	require.Contains(t, reg.DDLFragment(), "retries INTEGER")
}

func TestNewWithNoDeclaredColumnsReturnsEmptyRegistry(t *testing.T) {
	reg, err := New(map[string]struct{}{"key": {}}, nil)
	require.NoError(t, err)
	require.Empty(t, reg.Columns())
	require.Empty(t, reg.DDLFragment())
}
