package checksum

import "testing"

func TestSumKnownDigest(t *testing.T) {
	got := Sum([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("Sum = %q, want %q", got, want)
	}
}

func TestVerify(t *testing.T) {
	data := []byte("payload")
	if !Verify(data, Sum(data)) {
		t.Error("Verify rejected its own digest")
	}
	if Verify([]byte("tampered"), Sum(data)) {
		t.Error("Verify accepted a digest of different data")
	}
}
