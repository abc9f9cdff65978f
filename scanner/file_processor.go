package scanner

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"

	"driftwatch/failure"
	"driftwatch/fuzzy"
	"driftwatch/hasher"
	"driftwatch/identity"
	"driftwatch/logger"
)

// Fingerprinter turns one path into a FileRecord. It is safe for concurrent
// use as long as Identity is.
//
// Metadata comes from a single stat of the opened handle and the content is
// read once from that same handle. A file rewritten while it is being read can
// still yield digests that do not match the recorded size; that case is
// logged, not prevented.
type Fingerprinter struct {
	Identity    identity.Resolver
	Log         logrus.FieldLogger
	Algorithms  []string
	MaxFileSize int64
	ReadTimeout time.Duration
	ReadMode    string
	MmapMinSize int64
	DetectMIME  bool

	Fuzzy        fuzzy.Hasher
	FuzzyMinSize int64
	FuzzyMaxSize int64
}

// Fingerprint never fails: unreadable paths produce an error stub.
func (f *Fingerprinter) Fingerprint(ctx context.Context, path string) FileRecord {
	log := logger.Or(f.Log).WithField("path", path)
	rec, err := f.fingerprint(ctx, path, log)
	if err != nil {
		stub := StubRecord(path, err)
		log.WithFields(logrus.Fields{
			"outcome":    "error",
			"error_kind": stub.ErrorKind,
			"error":      stub.Error,
		}).Warn("fingerprint failed")
		return stub
	}
	log.WithField("outcome", "ok").Debug("fingerprinted")
	return rec
}

func (f *Fingerprinter) fingerprint(ctx context.Context, path string, log logrus.FieldLogger) (FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return FileRecord{}, err
	}
	file, err := openForRead(path)
	if err != nil {
		return FileRecord{}, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return FileRecord{}, err
	}
	if !info.Mode().IsRegular() {
		return FileRecord{}, failure.New(failure.PathUnreadable, path, fmt.Errorf("not a regular file (%s)", info.Mode().Type()))
	}
	if f.MaxFileSize > 0 && info.Size() > f.MaxFileSize {
		return FileRecord{}, failure.New(failure.ReadLimitExceeded, path, fmt.Errorf("size %d exceeds limit %d", info.Size(), f.MaxFileSize))
	}

	readCtx := ctx
	if f.ReadTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, f.ReadTimeout)
		defer cancel()
		deadline, _ := readCtx.Deadline()
		// Only pollable files support deadlines; regular files ignore it.
		_ = file.SetReadDeadline(deadline)
	}

	content, closeContent, err := contentReader(file, info, f.ReadMode, f.MmapMinSize)
	if err != nil {
		return FileRecord{}, err
	}
	var src io.Reader = content
	if f.MaxFileSize > 0 {
		src = io.LimitReader(content, f.MaxFileSize+1)
	}
	res, err := hasher.Digest(&ctxReader{ctx: readCtx, r: src}, f.Algorithms, info.Size())
	closeContent()
	if err != nil {
		return FileRecord{}, err
	}
	if f.MaxFileSize > 0 && res.BytesRead > f.MaxFileSize {
		return FileRecord{}, failure.New(failure.ReadLimitExceeded, path, fmt.Errorf("grew past limit %d while reading", f.MaxFileSize))
	}
	if res.BytesRead != info.Size() {
		log.WithFields(logrus.Fields{"stat_size": info.Size(), "bytes_read": res.BytesRead}).Warn("file changed while being fingerprinted")
	}

	rec := FileRecord{
		Path:    path,
		Size:    info.Size(),
		Mode:    permissionBits(info.Mode()),
		Digests: res.Digests,
	}
	rec.ModifiedTime, rec.ChangedTime = fileTimes(info)

	if uid, gid, ok := fileOwner(info); ok {
		var lookupErrs []error
		rec.Owner, rec.Group, lookupErrs = identity.Names(f.Identity, uid, gid)
		for _, lookupErr := range lookupErrs {
			log.WithFields(logrus.Fields{"error_kind": failure.KindOf(lookupErr), "error": lookupErr}).Debug("using numeric id")
		}
	}

	if f.DetectMIME {
		rec.MimeType = sniffMIME(res.Head)
	}
	if f.Fuzzy != nil && f.fuzzyEligible(info.Size()) {
		rec.FuzzyHash = f.fuzzyDigest(readCtx, file, info.Size(), log)
	}
	return rec, nil
}

func (f *Fingerprinter) fuzzyEligible(size int64) bool {
	if size < f.FuzzyMinSize {
		return false
	}
	return f.FuzzyMaxSize <= 0 || size <= f.FuzzyMaxSize
}

// fuzzyDigest rereads the already open handle from the start.
func (f *Fingerprinter) fuzzyDigest(ctx context.Context, file io.ReadSeeker, size int64, log logrus.FieldLogger) string {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		log.WithError(err).Debug("fuzzy hash skipped")
		return ""
	}
	digest, err := f.Fuzzy.HashReader(&ctxReader{ctx: ctx, r: io.LimitReader(file, size)})
	if err != nil {
		log.WithError(err).Debug("fuzzy hash skipped")
		return ""
	}
	return digest
}

func sniffMIME(head []byte) string {
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}
