package dvf

import (
	"encoding/json"
	"strconv"
	"strings"
)

// NullFloat decodes a JSON value that may be a number, a numeric string
// (comma decimal separators included), null, or garbage. Anything
// unparseable becomes null rather than an error.
type NullFloat struct {
	value *float64
}

func (f *NullFloat) UnmarshalJSON(b []byte) error {
	f.value = nil
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.ReplaceAll(s, ",", ".")
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		f.value = &v
	}
	return nil
}

// Ptr returns the parsed value, or nil when absent or unparseable.
func (f NullFloat) Ptr() *float64 {
	if f.value == nil {
		return nil
	}
	v := *f.value
	return &v
}

// NullInt is NullFloat truncated to an integer.
type NullInt struct {
	value *int
}

func (n *NullInt) UnmarshalJSON(b []byte) error {
	var f NullFloat
	if err := f.UnmarshalJSON(b); err != nil {
		return err
	}
	n.value = nil
	if p := f.Ptr(); p != nil {
		v := int(*p)
		n.value = &v
	}
	return nil
}

func (n NullInt) Ptr() *int {
	if n.value == nil {
		return nil
	}
	v := *n.value
	return &v
}

// NullBool accepts booleans, numeric flags and their string forms.
type NullBool struct {
	value bool
}

func (b *NullBool) UnmarshalJSON(data []byte) error {
	b.value = false
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(s) {
	case "true", "1", "t", "oui":
		b.value = true
	}
	return nil
}

func (b NullBool) Bool() bool {
	return b.value
}

// FlexString accepts a string or a bare number.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = FlexString(str)
		return nil
	}
	*s = FlexString(strings.Trim(raw, `"`))
	return nil
}

func (s FlexString) String() string {
	return string(s)
}

// CodeList accepts a single code or an array of codes. The DVF+ API
// serves l_codinsee and l_idpar either way depending on the variant.
type CodeList []string

func (c *CodeList) UnmarshalJSON(b []byte) error {
	*c = nil
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one != "" {
			*c = CodeList{one}
		}
		return nil
	}
	var many []FlexString
	if err := json.Unmarshal(b, &many); err == nil {
		for _, v := range many {
			if v != "" {
				*c = append(*c, string(v))
			}
		}
	}
	return nil
}

// First returns the first code, or "".
func (c CodeList) First() string {
	if len(c) == 0 {
		return ""
	}
	return c[0]
}

// Mutation is one raw record from the DVF+ mutations API. Field names
// follow the upstream payload.
type Mutation struct {
	IDMutation FlexString `json:"idmutation"`
	DateMut    string     `json:"datemut"`
	ValeurFonc NullFloat  `json:"valeurfonc"`
	SBati      NullFloat  `json:"sbati"`
	STerr      NullFloat  `json:"sterr"`
	CodTypBien FlexString `json:"codtypbien"`
	LibTypBien string     `json:"libtypbien"`
	LibNatMut  string     `json:"libnatmut"`
	LCodInsee  CodeList   `json:"l_codinsee"`
	LIdPar     CodeList   `json:"l_idpar"`
	NbPiece    NullInt    `json:"nbpiece"`
	Vefa       NullBool   `json:"vefa"`
	Latitude   NullFloat  `json:"latitude"`
	Longitude  NullFloat  `json:"longitude"`
}
