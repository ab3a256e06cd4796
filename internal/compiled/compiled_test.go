package compiled

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarryql/quarry/internal/qerr"
)

func sample() *Schema {
	s := &Schema{
		SchemaVersion: "1.0",
		Dialect:       "sqlite3",
		Types: []*Type{{
			Name: "Order", Kind: "OBJECT", SQLSource: "v_order",
			Fields: []*Field{{Name: "id", Type: "ID"}},
		}},
		Operations: []*Operation{
			{Name: "orderById", OpType: OpTypeQuery, Kind: "QUERY", ReturnType: "Order"},
			{Name: "createOrder", OpType: OpTypeMutation, Kind: "CREATE", ReturnType: "Order"},
		},
		Subscriptions: []*Subscription{
			{Name: "orderCreated", ReturnType: "Order", OnOperations: []string{"createOrder"}},
		},
	}
	s.BuildIndex()
	return s
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := sample()
	data, err := s.Encode()
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, s.SchemaVersion, got.SchemaVersion)
	require.NotNil(t, got.Operation("orderById"))
	require.NotNil(t, got.Type("Order"))
	require.Nil(t, got.Operation("nope"))
}

func TestEncodeIsStable(t *testing.T) {
	s := sample()
	first, err := s.Encode()
	require.NoError(t, err)
	second, err := s.Encode()
	require.NoError(t, err)
	require.Equal(t, first, second)

	decoded, err := Decode(first)
	require.NoError(t, err)
	require.Equal(t, s.Checksum(), decoded.Checksum())
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte("{"))
	require.Error(t, err)
	require.Equal(t, qerr.KindParse, qerr.KindOf(err))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.compiled.json")
	data, err := sample().Encode()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	got, err := LoadFile(path)
	require.NoError(t, err)
	require.NotNil(t, got.Operation("createOrder"))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestSubscriptionsFor(t *testing.T) {
	s := sample()
	subs := s.SubscriptionsFor("createOrder")
	require.Len(t, subs, 1)
	require.Equal(t, "orderCreated", subs[0].Name)
	require.Empty(t, s.SubscriptionsFor("orderById"))
}
