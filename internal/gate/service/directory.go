package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
)

var (
	ErrInvalidLabel = errors.New("label is empty or contains control characters")
	ErrAmbiguous    = errors.New("reference matches more than one identity")
)

// imageExtensions are stripped from enrollment labels.  Enrollment labels
// historically were image file names.
var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// Directory turns operator-supplied strings into canonical identity keys.
type Directory struct{}

// Canonical derives the identity key and display name for a new enrollment
// label.  The key is computed here once and stored; nothing re-derives it
// later.
func (Directory) Canonical(label string) (id, displayName string, err error) {
	label = strings.TrimSpace(label)
	if ext := filepath.Ext(label); ext != "" {
		if _, ok := imageExtensions[strings.ToLower(ext)]; ok {
			label = strings.TrimSpace(strings.TrimSuffix(label, ext))
		}
	}
	if label == "" || strings.ContainsFunc(label, unicode.IsControl) || strings.ContainsAny(label, "/\\") {
		return "", "", ErrInvalidLabel
	}
	return label, label, nil
}

// Resolve finds the identity a reference denotes.  An exact key wins;
// otherwise the reference must equal the display name of exactly one
// identity.  It never matches partially.
func (Directory) Resolve(ctx context.Context, tx store.Tx, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", store.ErrNotFound
	}

	if _, err := tx.GetIdentity(ctx, ref); err == nil {
		return ref, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	identities, err := tx.ListIdentities(ctx)
	if err != nil {
		return "", err
	}
	var found []string
	for _, ident := range identities {
		if ident.DisplayName == ref {
			found = append(found, ident.ID)
		}
	}
	switch len(found) {
	case 0:
		return "", store.ErrNotFound
	case 1:
		return found[0], nil
	default:
		return "", ErrAmbiguous
	}
}
