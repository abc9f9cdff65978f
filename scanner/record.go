package scanner

import (
	"encoding/json"
	"errors"
	"time"

	"driftwatch/failure"
	"driftwatch/hasher"
)

// SchemaVersion is written into every saved collection.
const SchemaVersion = "1"

// FileRecord is the fingerprint of one path. A record with Error set is an
// error stub: every field except Path, Error and ErrorKind is zero.
type FileRecord struct {
	Path         string
	Size         int64
	ModifiedTime string
	ChangedTime  string
	Owner        string
	Group        string
	Mode         uint32
	MimeType     string
	Digests      map[string]string
	FuzzyHash    string
	Error        string
	ErrorKind    failure.Kind
}

// IsStub reports whether the record is an error stub.
func (r FileRecord) IsStub() bool {
	return r.Error != "" || r.ErrorKind != ""
}

// StubRecord builds the error stub for path.
func StubRecord(path string, err error) FileRecord {
	fe := failure.Classify(path, err)
	msg := fe.Error()
	if fe.Err != nil {
		msg = fe.Err.Error()
	}
	return FileRecord{Path: path, Error: msg, ErrorKind: fe.Kind}
}

// wireRecord is the persisted layout. Digests are flattened into
// upper-case top-level keys.
type wireRecord struct {
	Path         string       `json:"path"`
	Size         *int64       `json:"size,omitempty"`
	LastModified string       `json:"last_modified,omitempty"`
	Created      string       `json:"created,omitempty"`
	Owner        string       `json:"owner,omitempty"`
	Group        string       `json:"group,omitempty"`
	Mode         *uint32      `json:"mode,omitempty"`
	MimeType     string       `json:"mime_type,omitempty"`
	MD5          string       `json:"MD5,omitempty"`
	SHA1         string       `json:"SHA1,omitempty"`
	SHA256       string       `json:"SHA256,omitempty"`
	SHA512       string       `json:"SHA512,omitempty"`
	BLAKE3       string       `json:"BLAKE3,omitempty"`
	XXH64        string       `json:"XXH64,omitempty"`
	TLSH         string       `json:"TLSH,omitempty"`
	Error        string       `json:"error,omitempty"`
	ErrorKind    failure.Kind `json:"error_kind,omitempty"`
}

func (r FileRecord) MarshalJSON() ([]byte, error) {
	if r.IsStub() {
		return json.Marshal(wireRecord{Path: r.Path, Error: r.Error, ErrorKind: r.ErrorKind})
	}
	size, mode := r.Size, r.Mode
	return json.Marshal(wireRecord{
		Path:         r.Path,
		Size:         &size,
		LastModified: r.ModifiedTime,
		Created:      r.ChangedTime,
		Owner:        r.Owner,
		Group:        r.Group,
		Mode:         &mode,
		MimeType:     r.MimeType,
		MD5:          r.Digests[hasher.MD5],
		SHA1:         r.Digests[hasher.SHA1],
		SHA256:       r.Digests[hasher.SHA256],
		SHA512:       r.Digests[hasher.SHA512],
		BLAKE3:       r.Digests[hasher.BLAKE3],
		XXH64:        r.Digests[hasher.XXH64],
		TLSH:         r.FuzzyHash,
	})
}

func (r *FileRecord) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Error != "" || w.ErrorKind != "" {
		*r = FileRecord{Path: w.Path, Error: w.Error, ErrorKind: w.ErrorKind}
		return nil
	}
	if w.Size == nil {
		return errors.New("record " + w.Path + " has no size")
	}
	rec := FileRecord{
		Path:         w.Path,
		Size:         *w.Size,
		ModifiedTime: w.LastModified,
		ChangedTime:  w.Created,
		Owner:        w.Owner,
		Group:        w.Group,
		MimeType:     w.MimeType,
		FuzzyHash:    w.TLSH,
		Digests:      map[string]string{},
	}
	if w.Mode != nil {
		rec.Mode = *w.Mode
	}
	for algo, value := range map[string]string{
		hasher.MD5:    w.MD5,
		hasher.SHA1:   w.SHA1,
		hasher.SHA256: w.SHA256,
		hasher.SHA512: w.SHA512,
		hasher.BLAKE3: w.BLAKE3,
		hasher.XXH64:  w.XXH64,
	} {
		if value != "" {
			rec.Digests[algo] = value
		}
	}
	*r = rec
	return nil
}

// Auxiliary holds facts collected next to the file fingerprints. A nil
// OpenPorts means ports were not collected; OpenPortsError explains why when
// a probe failed.
type Auxiliary struct {
	OpenPorts      []string `json:"open_ports"`
	OpenPortsError string   `json:"open_ports_error,omitempty"`
}

// Collection is the result of one scan.
type Collection struct {
	SchemaVersion string    `json:"schema_version"`
	ScanID        string    `json:"scan_id,omitempty"`
	CapturedAt    time.Time `json:"captured_at"`
	Auxiliary
	Files []FileRecord `json:"files"`
}

// Index maps each path to its record.
func (c *Collection) Index() map[string]FileRecord {
	if c == nil {
		return map[string]FileRecord{}
	}
	idx := make(map[string]FileRecord, len(c.Files))
	for _, rec := range c.Files {
		idx[rec.Path] = rec
	}
	return idx
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
