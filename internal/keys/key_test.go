package keys

import (
	"bytes"
	"testing"
)

func TestFromBlockVerify(t *testing.T) {
	data := bytes.Repeat([]byte("block"), 100)
	k := FromBlock(data)

	if !k.Verify(data) {
		t.Fatal("Verify() = false for the block the key was derived from")
	}
	data[0] ^= 0xff
	if k.Verify(data) {
		t.Fatal("Verify() = true for modified content")
	}
}

func TestParse(t *testing.T) {
	k := FromBlock([]byte("hello"))

	tests := []struct {
		name    string
		input   string
		want    Key
		wantErr bool
	}{
		{name: "round trip", input: k.String(), want: k},
		{name: "not hex", input: "zz", wantErr: true},
		{name: "short", input: "abcd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Parse() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSaltedDependsOnSalt(t *testing.T) {
	k := FromBlock([]byte("hello"))
	var a, b [Size]byte
	b[0] = 1

	if Salted(a, k) == Salted(b, k) {
		t.Error("different salts produced the same salted hash")
	}
	if Salted(a, k) != Salted(a, k) {
		t.Error("salted hash is not deterministic")
	}
}
