package importer

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	// ErrUnsupportedEncoding is returned for an encoding label we cannot resolve.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")

	// ErrUndecodable is returned when the bytes are not valid in the chosen encoding.
	ErrUndecodable = errors.New("encoding error")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText converts raw file bytes to a UTF-8 string.
//
// An empty label (or any alias of UTF-8) means strict UTF-8: a leading BOM
// is dropped and invalid sequences fail the whole file. Any other label is
// looked up in the WHATWG index; a BOM in the data overrides the label.
func decodeText(data []byte, label string) (string, error) {
	if label == "" {
		return decodeUTF8(data)
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return "", fmt.Errorf("%w %q", ErrUnsupportedEncoding, label)
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return decodeUTF8(data)
	}

	out, _, err := transform.Bytes(unicode.BOMOverride(enc.NewDecoder()), data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return string(out), nil
}

func decodeUTF8(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: input is not valid UTF-8", ErrUndecodable)
	}
	return string(data), nil
}
