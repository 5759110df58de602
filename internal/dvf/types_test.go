package dvf

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullFloatUnmarshal(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  *float64
	}{
		{"number", `{"v": 1250.5}`, floatPtr(1250.5)},
		{"numeric string", `{"v": "1250.5"}`, floatPtr(1250.5)},
		{"comma decimal", `{"v": "1250,5"}`, floatPtr(1250.5)},
		{"null", `{"v": null}`, nil},
		{"empty string", `{"v": ""}`, nil},
		{"garbage", `{"v": "n/a"}`, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var doc struct {
				V NullFloat `json:"v"`
			}
			require.NoError(t, json.Unmarshal([]byte(tc.input), &doc))

			got := doc.V.Ptr()
			if tc.want == nil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.Equal(t, *tc.want, *got)
			}
		})
	}
}

func TestNullIntTruncates(t *testing.T) {
	var doc struct {
		V NullInt `json:"v"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"v": "3.0"}`), &doc))

	got := doc.V.Ptr()
	require.NotNil(t, got)
	assert.Equal(t, 3, *got)
}

func TestNullBoolVariants(t *testing.T) {
	for _, raw := range []string{`true`, `"true"`, `1`, `"1"`, `"oui"`} {
		var b NullBool
		require.NoError(t, b.UnmarshalJSON([]byte(raw)))
		assert.True(t, b.Bool(), "input %s", raw)
	}
	for _, raw := range []string{`false`, `"false"`, `0`, `null`, `""`} {
		var b NullBool
		require.NoError(t, b.UnmarshalJSON([]byte(raw)))
		assert.False(t, b.Bool(), "input %s", raw)
	}
}

func TestFlexStringAcceptsNumbers(t *testing.T) {
	var doc struct {
		V FlexString `json:"v"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"v": 123456}`), &doc))
	assert.Equal(t, "123456", doc.V.String())

	require.NoError(t, json.Unmarshal([]byte(`{"v": "2024-1234"}`), &doc))
	assert.Equal(t, "2024-1234", doc.V.String())
}

func TestCodeListSingleOrArray(t *testing.T) {
	var single CodeList
	require.NoError(t, json.Unmarshal([]byte(`"75104"`), &single))
	assert.Equal(t, "75104", single.First())

	var many CodeList
	require.NoError(t, json.Unmarshal([]byte(`["75104", "75105"]`), &many))
	assert.Equal(t, CodeList{"75104", "75105"}, many)
	assert.Equal(t, "75104", many.First())

	var empty CodeList
	require.NoError(t, json.Unmarshal([]byte(`[]`), &empty))
	assert.Equal(t, "", empty.First())
}

func TestMutationUnmarshalMixedPayload(t *testing.T) {
	payload := `{
		"idmutation": 918273,
		"datemut": "2023-04-12",
		"valeurfonc": "850000,00",
		"sbati": 62,
		"codtypbien": "121",
		"libnatmut": "Vente",
		"l_codinsee": ["75116"],
		"l_idpar": "75116000AB0012",
		"nbpiece": "3",
		"vefa": "false"
	}`

	var m Mutation
	require.NoError(t, json.Unmarshal([]byte(payload), &m))

	assert.Equal(t, "918273", m.IDMutation.String())
	require.NotNil(t, m.ValeurFonc.Ptr())
	assert.Equal(t, 850000.0, *m.ValeurFonc.Ptr())
	assert.Equal(t, "75116", m.LCodInsee.First())
	assert.Equal(t, "75116000AB0012", m.LIdPar.First())
	require.NotNil(t, m.NbPiece.Ptr())
	assert.Equal(t, 3, *m.NbPiece.Ptr())
	assert.False(t, m.Vefa.Bool())
}

func floatPtr(v float64) *float64 { return &v }
