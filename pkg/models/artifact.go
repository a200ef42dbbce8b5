package models

import "time"

// ContentKind classifies artifact content for summarization.
type ContentKind string

const (
	// ContentKindCode is source-code-like content.
	ContentKindCode ContentKind = "code"
	// ContentKindStructured is a structured response carrying a status field.
	ContentKindStructured ContentKind = "structured"
	// ContentKindProse is prose with headings.
	ContentKindProse ContentKind = "prose"
	// ContentKindReport is a pass/fail report.
	ContentKindReport ContentKind = "report"
	// ContentKindUnknown is anything the classifier could not place.
	ContentKindUnknown ContentKind = "unknown"
)

// Artifact is the metadata record for one durably stored task result.
// Size and ContentHash always match the currently stored content; an
// artifact without stored content cannot exist in the index.
type Artifact struct {
	// ID is derived from owner, description, and creation time.
	ID string `json:"id"`
	// OwnerID is the executor that produced the artifact.
	OwnerID string `json:"owner_id"`
	// Description is the producing task's description.
	Description string `json:"description,omitempty"`
	// Encoding records how the content was serialized (json or raw).
	Encoding string `json:"encoding"`
	// Size is the serialized content size in bytes, before compression.
	Size int64 `json:"size"`
	// ContentHash is the SHA-256 of the serialized content.
	ContentHash string `json:"content_hash"`
	// Tags are free-form labels for lookup.
	Tags []string `json:"tags,omitempty"`
	// UsageCount is incremented on every load.
	UsageCount int `json:"usage_count"`
	// CreatedAt is when the artifact was stored.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the metadata last changed.
	UpdatedAt time.Time `json:"updated_at"`
	// LastAccessedAt is when the content was last loaded.
	LastAccessedAt time.Time `json:"last_accessed_at,omitempty"`
	// ExpiresAt is the TTL deadline, if one was set.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired returns true if the artifact has a TTL and it has passed at now.
func (a *Artifact) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// ArtifactSummary is a bounded-length digest of an artifact's content,
// computed once at store time and never recomputed on read.
type ArtifactSummary struct {
	// ArtifactID is the artifact this summary belongs to.
	ArtifactID string `json:"artifact_id"`
	// Kind is the classified content kind.
	Kind ContentKind `json:"kind"`
	// Digest is a short description of the content.
	Digest string `json:"digest"`
	// KeyPoints are up to ten extracted highlights.
	KeyPoints []string `json:"key_points,omitempty"`
}
