package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"lukechampine.com/blake3"
)

const (
	MD5    = "MD5"
	SHA1   = "SHA1"
	SHA256 = "SHA256"
	SHA512 = "SHA512"
	BLAKE3 = "BLAKE3"
	XXH64  = "XXH64"
)

// HeadSize is the number of leading bytes kept for content sniffing.
const HeadSize = 261

const (
	hashBufferSmallSize      = 32 * 1024
	hashBufferLargeSize      = 128 * 1024
	hashLargeBufferThreshold = 256 * 1024
)

// Required lists the digests every full fingerprint carries.
var Required = []string{MD5, SHA256, SHA512}

var constructors = map[string]func() hash.Hash{
	MD5:    md5.New,
	SHA1:   sha1.New,
	SHA256: sha256.New,
	SHA512: sha512.New,
	BLAKE3: func() hash.Hash { return blake3.New(32, nil) },
	XXH64:  func() hash.Hash { return xxhash.New() },
}

var hashBufferSmallPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferSmallSize)
		return &buf
	},
}

var hashBufferLargePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, hashBufferLargeSize)
		return &buf
	},
}

// Result holds the digests of one stream.
type Result struct {
	Digests   map[string]string
	BytesRead int64
	Head      []byte
}

// Names lists every supported algorithm in a fixed order.
func Names() []string {
	return []string{MD5, SHA1, SHA256, SHA512, BLAKE3, XXH64}
}

// Supported reports whether name (case-insensitive) is a known algorithm.
func Supported(name string) bool {
	_, ok := constructors[strings.ToUpper(strings.TrimSpace(name))]
	return ok
}

// Normalize returns the required algorithms followed by the extra ones,
// upper-cased and de-duplicated.
func Normalize(extra []string) ([]string, error) {
	out := make([]string, 0, len(Required)+len(extra))
	seen := make(map[string]struct{}, len(Required)+len(extra))
	for _, name := range append(append([]string(nil), Required...), extra...) {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := constructors[name]; !ok {
			return nil, fmt.Errorf("unsupported hash algorithm: %s", name)
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out, nil
}

// Digest reads r to EOF once and feeds every chunk to each requested
// accumulator. sizeHint selects the buffer size; pass -1 when unknown.
func Digest(r io.Reader, algorithms []string, sizeHint int64) (Result, error) {
	algorithms, err := Normalize(algorithms)
	if err != nil {
		return Result{}, err
	}

	type hasherEntry struct {
		name string
		h    hash.Hash
	}
	hashers := make([]hasherEntry, 0, len(algorithms))
	for _, algo := range algorithms {
		hashers = append(hashers, hasherEntry{name: algo, h: constructors[algo]()})
	}

	bufferPool := &hashBufferSmallPool
	if sizeHint >= hashLargeBufferThreshold {
		bufferPool = &hashBufferLargePool
	}
	bufferPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufferPtr)
	buffer := *bufferPtr

	res := Result{Head: make([]byte, 0, HeadSize)}
	for {
		n, readErr := r.Read(buffer)
		if n > 0 {
			chunk := buffer[:n]
			if missing := HeadSize - len(res.Head); missing > 0 {
				res.Head = append(res.Head, chunk[:min(missing, n)]...)
			}
			for i := range hashers {
				// hash.Hash.Write never returns an error.
				hashers[i].h.Write(chunk)
			}
			res.BytesRead += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Result{}, readErr
		}
	}

	res.Digests = make(map[string]string, len(hashers))
	for i := range hashers {
		res.Digests[hashers[i].name] = hex.EncodeToString(hashers[i].h.Sum(nil))
	}
	return res, nil
}
