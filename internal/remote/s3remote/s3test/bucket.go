// Package s3test provides an in-memory bucket that satisfies s3remote.API.
package s3test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type object struct {
	body     []byte
	version  string
	modified time.Time
}

// Bucket mimics the parts of S3 the repository relies on. HEAD reports write
// times in whole seconds while listings keep milliseconds, like the real API.
type Bucket struct {
	// PageSize bounds listing pages to force pagination.
	PageSize int
	// Versioned makes HEAD and GET report version ids.
	Versioned bool

	mu      sync.Mutex
	objects map[string]object
	clock   time.Time
	puts    int
	err     error
}

func NewBucket(objects map[string]string) *Bucket {
	b := &Bucket{
		PageSize: 2,
		objects:  make(map[string]object),
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for k, v := range objects {
		b.Put(k, v)
	}
	return b
}

// Put writes body under key with a later write time than any previous put.
func (b *Bucket) Put(key, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	b.objects[key] = object{
		body:     []byte(body),
		version:  "v" + strconv.Itoa(b.puts),
		modified: b.clock.Add(time.Duration(b.puts) * 1500 * time.Millisecond),
	}
}

func (b *Bucket) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
}

// Fail makes every following call return err until it is reset with nil.
func (b *Bucket) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// ETag is the quoted MD5 the bucket reports for body.
func ETag(body string) string {
	sum := md5.Sum([]byte(body))
	return "\"" + hex.EncodeToString(sum[:]) + "\""
}

func (b *Bucket) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	obj, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	out := &s3.HeadObjectOutput{
		ETag:          aws.String(ETag(string(obj.body))),
		ContentLength: aws.Int64(int64(len(obj.body))),
		LastModified:  aws.Time(obj.modified.Truncate(time.Second)),
	}
	if b.Versioned {
		out.VersionId = aws.String(obj.version)
	}
	return out, nil
}

func (b *Bucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	obj, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	out := &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.body))}
	if b.Versioned {
		out.VersionId = aws.String(obj.version)
	}
	return out, nil
}

func (b *Bucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	// flattened, sorted listing of keys and common prefixes
	type entry struct {
		key    string
		prefix bool
	}
	seen := map[string]bool{}
	var entries []entry
	for key := range b.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					entries = append(entries, entry{key: cp, prefix: true})
				}
				continue
			}
		}
		entries = append(entries, entry{key: key})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		for start < len(entries) && entries[start].key <= tok {
			start++
		}
	}
	limit := b.PageSize
	if in.MaxKeys != nil && int(*in.MaxKeys) < limit {
		limit = int(*in.MaxKeys)
	}
	end := min(start+limit, len(entries))

	out := &s3.ListObjectsV2Output{}
	for _, e := range entries[start:end] {
		if e.prefix {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(e.key)})
			continue
		}
		obj := b.objects[e.key]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(e.key),
			ETag:         aws.String(ETag(string(obj.body))),
			Size:         aws.Int64(int64(len(obj.body))),
			LastModified: aws.Time(obj.modified),
		})
	}
	if end < len(entries) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(entries[end-1].key)
	}
	return out, nil
}
