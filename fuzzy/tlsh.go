package fuzzy

import (
	"bufio"
	"io"

	"github.com/glaslos/tlsh"
)

// TLSH is the name under which the TLSH hasher is registered.
const TLSH = "tlsh"

type TLSHHasher struct{}

func (h TLSHHasher) Name() string {
	return TLSH
}

func (h TLSHHasher) HashReader(r io.Reader) (string, error) {
	hash, err := tlsh.HashReader(bufio.NewReader(r))
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func (h TLSHHasher) Distance(a, b string) (int, error) {
	ha, err := tlsh.ParseStringToTlsh(a)
	if err != nil {
		return 0, err
	}
	hb, err := tlsh.ParseStringToTlsh(b)
	if err != nil {
		return 0, err
	}
	return ha.Diff(hb), nil
}

func init() {
	Register(TLSHHasher{})
}
