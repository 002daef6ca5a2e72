package cli

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSimpleText(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("hello world\n"))
	var out bytes.Buffer
	got, err := GetSimpleText(in, "Name?", &out)
	if err != nil || got != "hello world" {
		t.Fatalf("got %q, err=%v", got, err)
	}
	if out.String() != "Name?\n> " {
		t.Fatalf("unexpected prompt %q", out.String())
	}
}

func TestGetSimpleTextEOF(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("lastline"))
	var out bytes.Buffer
	got, err := GetSimpleText(in, "Name?", &out)
	if err != nil || got != "lastline" {
		t.Fatalf("got %q, err=%v", got, err)
	}
}

func TestGetMultiline_DoubleEnter(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("a\nb\n\n\n"))
	var out bytes.Buffer
	got, err := GetMultiline(in, "Enter text", &out)
	if err != nil {
		t.Fatal(err)
	}
	want := "a\nb"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGetSecret(t *testing.T) {
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })

	readPassword = func(int) ([]byte, error) { return []byte("s3cr3t"), nil }
	var out bytes.Buffer
	got, err := GetSecret("S3 secret key", &out)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)
	assert.Equal(t, "S3 secret key: \n", out.String())

	readPassword = func(int) ([]byte, error) { return nil, errors.New("no tty") }
	_, err = GetSecret("S3 secret key", &out)
	require.Error(t, err)
}

func TestGetFields(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("name=Cherry tomato\nquantity=3\nfavorite=true\ntags=[\"red\",\"small\"]\n\n"))
	var out bytes.Buffer

	got, err := GetFields(in, &out)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name":     "Cherry tomato",
		"quantity": float64(3),
		"favorite": true,
		"tags":     []any{"red", "small"},
	}, got)

	_, err = GetFields(bufio.NewReader(strings.NewReader("no equals sign\n\n")), &out)
	require.Error(t, err)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"42", float64(42)},
		{"false", false},
		{"null", nil},
		{`"007"`, "007"},
		{"bed 3", "bed 3"},
		{`{"water":"daily"}`, map[string]any{"water": "daily"}},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseValue(tt.in), tt.in)
	}
}
