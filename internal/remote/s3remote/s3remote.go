// Package s3remote serves a bucket prefix as a repository. Folders are the
// common prefixes of a delimited listing.
package s3remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/goccy/go-json"
	"github.com/openmined/syftsync/internal/remote"
	"github.com/openmined/syftsync/internal/syncstore"
	"github.com/openmined/syftsync/internal/tree"
)

const delimiter = "/"

// API is the subset of *s3.Client used by the repository.
type API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// marker extends the shared identity with the write time, which orders the
// versions of a key. Version ids are left out: listings do not carry them and
// both paths must serialize an object equally.
type marker struct {
	remote.Identity
	LastModified time.Time `json:"last_modified"`
}

type Repository struct {
	api    API
	bucket string
	prefix string
}

// New serves bucket below prefix. The workspace root maps to prefix.
func New(api API, bucket, prefix string) *Repository {
	prefix = strings.Trim(prefix, delimiter)
	if prefix != "" {
		prefix += delimiter
	}
	return &Repository{api: api, bucket: bucket, prefix: prefix}
}

func (r *Repository) key(node tree.LocalNode) string {
	return r.prefix + node.Path
}

func (r *Repository) dirKey(node tree.LocalNode) string {
	if node.IsRoot() {
		return r.prefix
	}
	return r.prefix + node.Path + delimiter
}

func (r *Repository) FetchTree(ctx context.Context, node tree.LocalNode, _ tree.Depth) (remote.Handle, error) {
	if node.IsRoot() {
		return &Handle{repo: r, path: "", dir: true}, nil
	}

	head, err := r.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key(node)),
	})
	if err == nil {
		return &Handle{
			repo:         r,
			path:         node.Path,
			etag:         cleanETag(aws.ToString(head.ETag)),
			size:         aws.ToInt64(head.ContentLength),
			lastModified: writeTime(head.LastModified),
		}, nil
	}
	if !isNotFound(err) {
		return nil, remote.Transport("head", node, err)
	}

	// no object, it may still be a folder
	out, err := r.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(r.bucket),
		Prefix:  aws.String(r.dirKey(node)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, remote.Transport("list", node, err)
	}
	if len(out.Contents) == 0 && len(out.CommonPrefixes) == 0 {
		return nil, nil
	}
	return &Handle{repo: r, path: node.Path, dir: true}, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

func cleanETag(etag string) string {
	return strings.ReplaceAll(etag, "\"", "")
}

// writeTime drops sub-second precision. HEAD reports whole seconds, listings
// may not.
func writeTime(t *time.Time) time.Time {
	return aws.ToTime(t).UTC().Truncate(time.Second)
}

func (r *Repository) ToBytes(h remote.Handle) (syncstore.Marker, error) {
	sh, ok := h.(*Handle)
	if !ok {
		return nil, fmt.Errorf("s3remote: foreign handle %T", h)
	}
	if sh.dir {
		return json.Marshal(remote.Identity{Kind: remote.KindDir})
	}
	return json.Marshal(marker{
		Identity:     remote.Identity{Kind: remote.KindFile, ETag: sh.etag, Size: sh.size},
		LastModified: sh.lastModified,
	})
}

func (r *Repository) FromBytes(node tree.LocalNode, m syncstore.Marker) (remote.Handle, error) {
	if m == nil {
		return nil, nil
	}
	var mk marker
	if err := json.Unmarshal(m, &mk); err != nil {
		return nil, fmt.Errorf("s3remote: decode marker for %s: %w", node, err)
	}
	return &Handle{
		repo:         r,
		path:         node.Path,
		dir:          mk.Kind == remote.KindDir,
		etag:         mk.ETag,
		size:         mk.Size,
		lastModified: mk.LastModified,
	}, nil
}

// IsDescendant holds when the remote object was not written before the base one.
// A bucket keeps a single line of versions per key. Base markers without a
// write time, such as those of a directory snapshot, are always succeeded.
func (r *Repository) IsDescendant(_ tree.LocalNode, base, remoteMarker syncstore.Marker) bool {
	var b, rm marker
	if json.Unmarshal(base, &b) != nil || json.Unmarshal(remoteMarker, &rm) != nil {
		return true
	}
	if b.Kind != remote.KindFile || rm.Kind != remote.KindFile || b.LastModified.IsZero() {
		return true
	}
	return !rm.LastModified.Before(b.LastModified)
}

// Handle is an object or a common prefix.
type Handle struct {
	repo         *Repository
	path         string
	dir          bool
	etag         string
	size         int64
	lastModified time.Time
}

func (h *Handle) Name() string {
	return tree.LocalNode{Path: h.path}.Name()
}

func (h *Handle) IsContainer() bool {
	return h.dir
}

func (h *Handle) Size() int64 {
	return h.size
}

func (h *Handle) LastModified() time.Time {
	return h.lastModified
}

// Revision is the etag.
func (h *Handle) Revision() string {
	return h.etag
}

// Digest is the etag, which is the content MD5 for objects not uploaded in parts.
func (h *Handle) Digest() string {
	if strings.Contains(h.etag, "-") {
		return ""
	}
	return h.etag
}

func (h *Handle) Members(ctx context.Context) ([]remote.Handle, error) {
	if !h.dir {
		return nil, nil
	}

	node := tree.LocalNode{Path: h.path, Container: true}
	prefix := h.repo.dirKey(node)
	paginator := s3.NewListObjectsV2Paginator(h.repo.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(h.repo.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(delimiter),
	})

	var members []remote.Handle
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, remote.Transport("members", node, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), delimiter)
			if name == "" {
				continue
			}
			members = append(members, &Handle{repo: h.repo, path: node.Child(name, true).Path, dir: true})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			// folder placeholder objects
			if name == "" || strings.Contains(name, delimiter) {
				continue
			}
			members = append(members, &Handle{
				repo:         h.repo,
				path:         node.Child(name, false).Path,
				etag:         cleanETag(aws.ToString(obj.ETag)),
				size:         aws.ToInt64(obj.Size),
				lastModified: writeTime(obj.LastModified),
			})
		}
	}
	return members, nil
}

func (h *Handle) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := h.repo.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket:       aws.String(h.repo.bucket),
		Key:          aws.String(h.repo.key(tree.File(h.path))),
		ChecksumMode: types.ChecksumModeEnabled,
	})
	if err != nil {
		return nil, remote.Transport("get", tree.File(h.path), err)
	}
	return out.Body, nil
}
