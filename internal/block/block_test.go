package block_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/AadeshGurav/nebuladb/internal/block"
	"github.com/AadeshGurav/nebuladb/internal/dberr"
)

func TestBlockRoundTrip(t *testing.T) {
	t.Parallel()

	b := block.NewEmpty(block.CompressionNone, 1234567890)

	var payload []byte

	for _, doc := range []struct{ id, value string }{
		{"a", "1"},
		{"bb", ""},
		{"ccc", "hello world"},
	} {
		payload = block.EncodeEntry(payload, []byte(doc.id), []byte(doc.value))
		b.DocCount++
	}

	b.UncompressedSize = uint64(len(payload))
	b.CompressedSize = uint64(len(payload))
	b.Payload = payload

	encoded := block.Encode(b)

	decoded, err := block.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if diff := cmp.Diff(b, decoded); diff != "" {
		t.Fatalf("decode(encode(b)) mismatch (-want +got):\n%s", diff)
	}

	if !block.VerifyChecksum(decoded, encoded) {
		t.Fatal("checksum verification failed on a freshly encoded block")
	}
}

func TestBlockHeaderFooterMagicMatch(t *testing.T) {
	t.Parallel()

	b := block.NewEmpty(block.CompressionNone, 42)
	encoded := block.Encode(b)

	if string(encoded[0:4]) != block.Magic {
		t.Fatalf("header magic = %q, want %q", encoded[0:4], block.Magic)
	}

	footerMagic := encoded[len(encoded)-4:]
	if string(footerMagic) != block.Magic {
		t.Fatalf("footer magic = %q, want %q", footerMagic, block.Magic)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	t.Parallel()

	b := block.NewEmpty(block.CompressionNone, 42)
	encoded := block.Encode(b)
	encoded[0] = 'X'

	_, err := block.Decode(encoded)
	if !errors.Is(err, dberr.ErrBadMagic) {
		t.Fatalf("Decode() err = %v, want ErrBadMagic", err)
	}
}

func TestDecodeFooterMagicMismatch(t *testing.T) {
	t.Parallel()

	b := block.NewEmpty(block.CompressionNone, 42)
	encoded := block.Encode(b)
	encoded[len(encoded)-1] = 'X'

	_, err := block.Decode(encoded)
	if !errors.Is(err, dberr.ErrBadMagic) {
		t.Fatalf("Decode() err = %v, want ErrBadMagic", err)
	}
}

func TestDecodeBadCompression(t *testing.T) {
	t.Parallel()

	b := block.NewEmpty(4, 42) // 4 is not a valid code (0-3)
	encoded := block.Encode(b)

	_, err := block.Decode(encoded)
	if !errors.Is(err, dberr.ErrBadCompression) {
		t.Fatalf("Decode() err = %v, want ErrBadCompression", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	t.Parallel()

	b := block.NewEmpty(block.CompressionNone, 42)
	encoded := block.Encode(b)

	_, err := block.Decode(encoded[:block.HeaderSize])
	if !errors.Is(err, dberr.ErrTruncated) {
		t.Fatalf("Decode() err = %v, want ErrTruncated", err)
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	t.Parallel()

	b := block.NewEmpty(block.CompressionNone, 42)
	b.Payload = []byte("payload")
	b.DocCount = 1
	b.UncompressedSize = uint64(len(b.Payload))
	b.CompressedSize = uint64(len(b.Payload))

	encoded := block.Encode(b)

	decoded, err := block.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	// Corrupt a payload byte without touching magic or lengths: Decode still
	// succeeds (checksum is not verified by default), but VerifyChecksum
	// must catch it.
	corrupted := bytes.Clone(encoded)
	corrupted[block.HeaderSize] ^= 0xFF

	decodedCorrupted, err := block.Decode(corrupted)
	if err != nil {
		t.Fatalf("Decode of corrupted block: %v", err)
	}

	if block.VerifyChecksum(decodedCorrupted, corrupted) {
		t.Fatal("VerifyChecksum should have detected payload corruption")
	}

	if !block.VerifyChecksum(decoded, encoded) {
		t.Fatal("VerifyChecksum should accept the uncorrupted block")
	}
}

func TestEntryRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		id    string
		value string
	}{
		{"short", "a", "b"},
		{"empty value", "id", ""},
		{"long value", "id2", string(bytes.Repeat([]byte("x"), 10000))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			buf := block.EncodeEntry(nil, []byte(tc.id), []byte(tc.value))

			entry, n, err := block.DecodeEntry(buf)
			if err != nil {
				t.Fatalf("DecodeEntry: %v", err)
			}

			if n != len(buf) {
				t.Fatalf("consumed %d bytes, want %d", n, len(buf))
			}

			if string(entry.ID) != tc.id {
				t.Fatalf("id = %q, want %q", entry.ID, tc.id)
			}

			if string(entry.Value) != tc.value {
				t.Fatalf("value = %q, want %q", entry.Value, tc.value)
			}
		})
	}
}

func TestValidateArgsRejectsEmptyID(t *testing.T) {
	t.Parallel()

	err := block.ValidateArgs(nil, []byte("v"))
	if !errors.Is(err, dberr.ErrArgumentOutOfRange) {
		t.Fatalf("ValidateArgs() err = %v, want ErrArgumentOutOfRange", err)
	}
}

func TestValidateArgsRejectsOversizedID(t *testing.T) {
	t.Parallel()

	oversized := bytes.Repeat([]byte("a"), block.MaxIDLen+1)

	err := block.ValidateArgs(oversized, []byte("v"))
	if !errors.Is(err, dberr.ErrArgumentOutOfRange) {
		t.Fatalf("ValidateArgs() err = %v, want ErrArgumentOutOfRange", err)
	}
}

func TestDecodeAllEntriesStopsAtPartialTail(t *testing.T) {
	t.Parallel()

	buf := block.EncodeEntry(nil, []byte("a"), []byte("1"))
	buf = block.EncodeEntry(buf, []byte("b"), []byte("2"))

	// Truncate mid-entry.
	torn := buf[:len(buf)-2]

	entries := block.DecodeAllEntries(torn)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (second entry is torn)", len(entries))
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	t.Parallel()

	raw := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 50)

	for _, code := range []uint8{block.CompressionNone, block.CompressionSnappy, block.CompressionZstd} {
		t.Run("", func(t *testing.T) {
			t.Parallel()

			compressed, err := block.Compress(code, raw)
			if err != nil {
				t.Fatalf("Compress(%d): %v", code, err)
			}

			decompressed, err := block.Decompress(code, compressed, uint64(len(raw)))
			if err != nil {
				t.Fatalf("Decompress(%d): %v", code, err)
			}

			if !bytes.Equal(decompressed, raw) {
				t.Fatalf("Decompress(Compress(x)) != x for code %d", code)
			}
		})
	}
}

func TestCompressionLZ4Unsupported(t *testing.T) {
	t.Parallel()

	_, err := block.Compress(block.CompressionLZ4, []byte("x"))
	if !errors.Is(err, dberr.ErrUnsupportedCompression) {
		t.Fatalf("Compress(lz4) err = %v, want ErrUnsupportedCompression", err)
	}
}
