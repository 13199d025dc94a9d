// Package imageref maps a series selection to the ordered image references
// consumed by the rendering engine.
package imageref

import (
	"fmt"
	"strings"

	"github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/types"
)

// SchemeWADOURI is the scheme prefix registered for instance fetches
const SchemeWADOURI = "wadouri"

// maxUIDLength is the DICOM UI value length limit
const maxUIDLength = 64

// Resolver builds scheme-prefixed image references.
//
// Example usage:
//
//	resolver := imageref.NewResolver("http://localhost:8000/api/v1")
//	refs, err := resolver.Resolve(studyUID, seriesUID, instances)
//	// refs[0] == "wadouri:http://localhost:8000/api/v1/dicomweb/studies/.../instances/..."
type Resolver struct {
	apiBase string
	scheme  string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithScheme overrides the reference scheme prefix.
func WithScheme(scheme string) Option {
	return func(r *Resolver) {
		r.scheme = scheme
	}
}

// NewResolver creates a resolver rooted at the API base URL.
func NewResolver(apiBase string, opts ...Option) *Resolver {
	r := &Resolver{
		apiBase: strings.TrimRight(apiBase, "/"),
		scheme:  SchemeWADOURI,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scheme returns the prefix used for every reference.
func (r *Resolver) Scheme() string {
	return r.scheme
}

// InstanceURL returns the DICOMweb URL of one instance.
func (r *Resolver) InstanceURL(studyUID, seriesUID, sopInstanceUID string) string {
	return fmt.Sprintf("%s/dicomweb/studies/%s/series/%s/instances/%s",
		r.apiBase, studyUID, seriesUID, sopInstanceUID)
}

// Resolve returns one reference per instance in the order given. An empty
// study or series UID means there is no selection and yields no references.
// Instance ordering is the caller's policy.
func (r *Resolver) Resolve(studyUID, seriesUID string, instances []types.Instance) ([]string, error) {
	if studyUID == "" || seriesUID == "" || len(instances) == 0 {
		return []string{}, nil
	}
	if !ValidUID(studyUID) {
		return nil, fmt.Errorf("study %q: %w", studyUID, errors.ErrMalformedIdentifier)
	}
	if !ValidUID(seriesUID) {
		return nil, fmt.Errorf("series %q: %w", seriesUID, errors.ErrMalformedIdentifier)
	}

	refs := make([]string, len(instances))
	for i, inst := range instances {
		if !ValidUID(inst.SOPInstanceUID) {
			return nil, fmt.Errorf("instance %d %q: %w", i, inst.SOPInstanceUID, errors.ErrMalformedIdentifier)
		}
		refs[i] = r.scheme + ":" + r.InstanceURL(studyUID, seriesUID, inst.SOPInstanceUID)
	}
	return refs, nil
}

// ValidUID reports whether uid is a well-formed DICOM UID: digits separated
// by single dots, at most 64 characters.
func ValidUID(uid string) bool {
	if uid == "" || len(uid) > maxUIDLength {
		return false
	}
	for _, part := range strings.Split(uid, ".") {
		if part == "" {
			return false
		}
		for _, c := range part {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

// Parse splits a reference into its scheme and URL.
func Parse(ref string) (scheme, url string, err error) {
	scheme, url, ok := strings.Cut(ref, ":")
	if !ok || scheme == "" || url == "" {
		return "", "", fmt.Errorf("image reference %q: %w", ref, errors.ErrMalformedIdentifier)
	}
	return scheme, url, nil
}
