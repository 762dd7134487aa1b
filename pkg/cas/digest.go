// Package cas implements the content-addressed core of the artifact
// cache: canonical SHA-256 digests, directory merkle trees, upload
// manifests, and the executable-action types that key the remote cache.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/protobuf/proto"
)

// Digest identifies a byte sequence by its lowercase hex SHA-256 hash
// and its length. It is a comparable value type, so it can key maps
// directly; equal content always yields an equal Digest.
type Digest struct {
	Hash      string
	SizeBytes int64
}

// EmptyDigest is the digest of the zero-length byte sequence.
var EmptyDigest = FromBlob(nil)

func (d Digest) String() string {
	return fmt.Sprintf("%s/%d", d.Hash, d.SizeBytes)
}

// ToProto converts the digest to its remote-execution wire form.
func (d Digest) ToProto() *repb.Digest {
	return &repb.Digest{Hash: d.Hash, SizeBytes: d.SizeBytes}
}

// FromProto converts a remote-execution digest message. A nil message
// maps to the zero Digest.
func FromProto(d *repb.Digest) Digest {
	if d == nil {
		return Digest{}
	}
	return Digest{Hash: d.GetHash(), SizeBytes: d.GetSizeBytes()}
}

// FromBlob computes the digest of an in-memory byte buffer.
func FromBlob(data []byte) Digest {
	sum := sha256.Sum256(data)
	return Digest{Hash: hex.EncodeToString(sum[:]), SizeBytes: int64(len(data))}
}

// FromFile computes the digest of a file's content via streaming reads.
func FromFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("digest %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Digest{}, fmt.Errorf("digest %s: %w", path, err)
	}
	return Digest{Hash: hex.EncodeToString(h.Sum(nil)), SizeBytes: n}, nil
}

// FromMessage computes the digest of a protobuf message over its wire
// serialization. The remote-execution messages digested here (Directory,
// Command, Action) have no map fields, so their serialization is stable
// as long as repeated fields are assembled in a canonical order.
func FromMessage(msg proto.Message) (Digest, error) {
	data, err := proto.Marshal(msg)
	if err != nil {
		return Digest{}, fmt.Errorf("digest message: %w", err)
	}
	return FromBlob(data), nil
}
