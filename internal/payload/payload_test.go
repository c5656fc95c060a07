package payload

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

const sample = `{"id":1,"text":"hello from producer","ts":"2024-05-01T10:00:00Z"}`

func TestDecode(t *testing.T) {
	cases := []struct {
		name    string
		in      Encoded
		want    string
		wantErr bool
	}{
		{"raw text", RawBytes([]byte(sample)), sample, false},
		{"base64 std", Base64Text(base64.StdEncoding.EncodeToString([]byte(sample))), sample, false},
		{"base64 unpadded", Base64Text(base64.RawStdEncoding.EncodeToString([]byte("hi!?"))), "hi!?", false},
		{"base64 url", Base64Text(base64.URLEncoding.EncodeToString([]byte("???"))), "???", false},
		{"base64 with spaces", Base64Text("  aGVsbG8=\n"), "hello", false},
		{"byte array", Bytes([]byte("abc")), "abc", false},
		{"empty base64", Base64Text(""), "", false},
		{"plain text in base64 slot", Base64Text(sample), sample, true},
		{"base64 of binary falls back", Base64Text(base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0xfd})), base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0xfd}), true},
		{"malformed base64", Base64Text("%%%not-base64%%%"), "%%%not-base64%%%", true},
		{"invalid utf8 raw", RawBytes([]byte{'o', 'k', 0xff}), "ok�", true},
		{"invalid utf8 byte array", Bytes([]byte{0xc3}), "�", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Decode(c.in)
			if got != c.want {
				t.Errorf("Decode() = %q; want %q", got, c.want)
			}
			if (err != nil) != c.wantErr {
				t.Errorf("Decode() error = %v; wantErr=%v", err, c.wantErr)
			}
			if err != nil {
				var de *DecodeError
				if !errors.As(err, &de) {
					t.Errorf("error %T is not *DecodeError", err)
				} else if de.Encoding != c.in.Encoding {
					t.Errorf("DecodeError.Encoding = %v; want %v", de.Encoding, c.in.Encoding)
				}
			}
		})
	}
}

// Повторное декодирование уже раскодированного текста ничего не портит.
func TestDecode_Idempotent(t *testing.T) {
	inputs := []Encoded{
		Base64Text(base64.StdEncoding.EncodeToString([]byte(sample))),
		RawBytes([]byte(sample)),
		Bytes([]byte(sample)),
		RawBytes([]byte("hello world")),
		Base64Text("hello world"),
	}
	for _, in := range inputs {
		once, _ := Decode(in)
		for _, enc := range []Encoding{Raw, Base64, ByteArray} {
			twice, _ := Decode(Encoded{Encoding: enc, Data: []byte(once)})
			if twice != once {
				t.Errorf("%v → %q, re-decoded as %v → %q", in.Encoding, once, enc, twice)
			}
		}
	}
}

func TestFromJSON(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		wantEnc  Encoding
		wantData string
	}{
		{"string", `"aGVsbG8="`, Base64, "aGVsbG8="},
		{"number array", `[104,105]`, ByteArray, "hi"},
		{"out of range array", `[104,300]`, Raw, `[104,300]`},
		{"object", ` {"a":1} `, Raw, `{"a":1}`},
		{"number", `42`, Raw, `42`},
		{"null", `null`, Raw, ""},
		{"empty", ``, Raw, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := FromJSON(json.RawMessage(c.raw))
			if got.Encoding != c.wantEnc {
				t.Errorf("Encoding = %v; want %v", got.Encoding, c.wantEnc)
			}
			if string(got.Data) != c.wantData {
				t.Errorf("Data = %q; want %q", got.Data, c.wantData)
			}
		})
	}
}

func TestEncodingString(t *testing.T) {
	if Raw.String() != "raw" || Base64.String() != "base64" || ByteArray.String() != "byte_array" {
		t.Error("unexpected Encoding names")
	}
	if Encoding(9).String() != "encoding(9)" {
		t.Errorf("got %q", Encoding(9).String())
	}
}
