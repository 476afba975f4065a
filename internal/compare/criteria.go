// Package compare holds the equality predicates used to decide whether two
// versions of a node carry the same content.
package compare

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"unicode"

	"github.com/openmined/syftsync/internal/remote"
	"github.com/openmined/syftsync/internal/utils"
)

// Item is one side of a comparison. It may also implement remote.Revisioned
// or remote.Digester.
type Item interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

type Criteria interface {
	ID() string
	Name() string
	// Compare reports whether a and b are equal under this criteria.
	Compare(ctx context.Context, a, b Item) (bool, error)
}

// CheckPreconditions reports whether any of pre already finds a and b equal.
// A precondition that fails counts as not equal.
func CheckPreconditions(ctx context.Context, pre []Criteria, a, b Item) bool {
	for _, c := range pre {
		equal, err := c.Compare(ctx, a, b)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return false
			}
			continue
		}
		if equal {
			return true
		}
	}
	return false
}

// RevisionCriteria compares revision ids. Items without a revision are never
// equal unless a precondition holds.
type RevisionCriteria struct {
	Preconditions []Criteria
}

func (RevisionCriteria) ID() string   { return "revision" }
func (RevisionCriteria) Name() string { return "Revision" }

func (c RevisionCriteria) Compare(ctx context.Context, a, b Item) (bool, error) {
	if CheckPreconditions(ctx, c.Preconditions, a, b) {
		return true, nil
	}
	ra, ok := a.(remote.Revisioned)
	if !ok {
		return false, nil
	}
	rb, ok := b.(remote.Revisioned)
	if !ok {
		return false, nil
	}
	return ra.Revision() != "" && ra.Revision() == rb.Revision(), nil
}

// DigestCriteria compares MD5 digests. With Compute set, digests an item does
// not carry are computed from its content; otherwise such items are never equal.
type DigestCriteria struct {
	Compute       bool
	Preconditions []Criteria
}

func (DigestCriteria) ID() string   { return "digest" }
func (DigestCriteria) Name() string { return "MD5 digest" }

func (c DigestCriteria) Compare(ctx context.Context, a, b Item) (bool, error) {
	if CheckPreconditions(ctx, c.Preconditions, a, b) {
		return true, nil
	}
	da, err := c.digest(ctx, a)
	if err != nil || da == "" {
		return false, err
	}
	db, err := c.digest(ctx, b)
	if err != nil || db == "" {
		return false, err
	}
	return da == db, nil
}

func (c DigestCriteria) digest(ctx context.Context, item Item) (string, error) {
	if d, ok := item.(remote.Digester); ok && d.Digest() != "" {
		return d.Digest(), nil
	}
	if !c.Compute {
		return "", nil
	}
	rc, err := item.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("open for digest: %w", err)
	}
	defer rc.Close()
	return utils.HashReader(rc)
}

// ContentCriteria compares content byte by byte, or rune by rune skipping
// white space when IgnoreWhitespace is set.
type ContentCriteria struct {
	IgnoreWhitespace bool
	Preconditions    []Criteria
}

func (c ContentCriteria) ID() string {
	if c.IgnoreWhitespace {
		return "content-ignore-ws"
	}
	return "content"
}

func (c ContentCriteria) Name() string {
	if c.IgnoreWhitespace {
		return "Content (ignore white space)"
	}
	return "Content"
}

func (c ContentCriteria) Compare(ctx context.Context, a, b Item) (bool, error) {
	if CheckPreconditions(ctx, c.Preconditions, a, b) {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	ra, err := a.Open(ctx)
	if err != nil {
		return false, fmt.Errorf("open for compare: %w", err)
	}
	defer ra.Close()
	rb, err := b.Open(ctx)
	if err != nil {
		return false, fmt.Errorf("open for compare: %w", err)
	}
	defer rb.Close()

	return c.equal(ctx, bufio.NewReader(ra), bufio.NewReader(rb))
}

func (c ContentCriteria) equal(ctx context.Context, a, b *bufio.Reader) (bool, error) {
	for n := 0; ; n++ {
		// check cancellation every 64k runes
		if n&0xffff == 0 {
			if err := ctx.Err(); err != nil {
				return false, err
			}
		}
		ca, errA := c.next(a)
		cb, errB := c.next(b)
		if errA == io.EOF || errB == io.EOF {
			return errA == errB, nil
		}
		if errA != nil {
			return false, errA
		}
		if errB != nil {
			return false, errB
		}
		if ca != cb {
			return false, nil
		}
	}
}

func (c ContentCriteria) next(r *bufio.Reader) (rune, error) {
	if !c.IgnoreWhitespace {
		b, err := r.ReadByte()
		return rune(b), err
	}
	for {
		ch, _, err := r.ReadRune()
		if err != nil {
			return 0, err
		}
		if !unicode.IsSpace(ch) {
			return ch, nil
		}
	}
}
