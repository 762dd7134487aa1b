package cas

// UploadManifest groups the blobs and files, keyed by digest, that one
// bulk push to the remote cache must make available. A digest identifies
// content, so inserting the same digest twice keeps exactly one entry;
// the manifest is a deduplicating set, not a multimap.
type UploadManifest struct {
	files map[Digest]string
	blobs map[Digest][]byte
}

// Files returns a copy of the digest-to-file-path associations.
func (m *UploadManifest) Files() map[Digest]string {
	out := make(map[Digest]string, len(m.files))
	for d, p := range m.files {
		out[d] = p
	}
	return out
}

// Blobs returns a copy of the digest-to-raw-blob associations.
func (m *UploadManifest) Blobs() map[Digest][]byte {
	out := make(map[Digest][]byte, len(m.blobs))
	for d, b := range m.blobs {
		out[d] = b
	}
	return out
}

// Len reports the number of distinct digests in the manifest.
func (m *UploadManifest) Len() int {
	return len(m.files) + len(m.blobs)
}

// UploadManifestBuilder assembles an UploadManifest incrementally.
type UploadManifestBuilder struct {
	files map[Digest]string
	blobs map[Digest][]byte
}

// NewUploadManifestBuilder returns an empty builder.
func NewUploadManifestBuilder() *UploadManifestBuilder {
	return &UploadManifestBuilder{
		files: make(map[Digest]string),
		blobs: make(map[Digest][]byte),
	}
}

// AddFile associates a digest with a file path. Re-adding a digest
// already present overwrites the entry; since digest equality implies
// content equality, the replacement is equivalent.
func (b *UploadManifestBuilder) AddFile(d Digest, path string) *UploadManifestBuilder {
	b.files[d] = path
	return b
}

// AddFiles adds every association from the given map.
func (b *UploadManifestBuilder) AddFiles(files map[Digest]string) *UploadManifestBuilder {
	for d, p := range files {
		b.files[d] = p
	}
	return b
}

// AddBlob associates a digest with an in-memory blob.
func (b *UploadManifestBuilder) AddBlob(d Digest, blob []byte) *UploadManifestBuilder {
	b.blobs[d] = blob
	return b
}

// AddBlobs adds every association from the given map.
func (b *UploadManifestBuilder) AddBlobs(blobs map[Digest][]byte) *UploadManifestBuilder {
	for d, blob := range blobs {
		b.blobs[d] = blob
	}
	return b
}

// Build snapshots the accumulated associations into an immutable
// manifest. The builder remains usable afterwards; later additions do
// not affect manifests already built.
func (b *UploadManifestBuilder) Build() *UploadManifest {
	m := &UploadManifest{
		files: make(map[Digest]string, len(b.files)),
		blobs: make(map[Digest][]byte, len(b.blobs)),
	}
	for d, p := range b.files {
		m.files[d] = p
	}
	for d, blob := range b.blobs {
		m.blobs[d] = blob
	}
	return m
}
