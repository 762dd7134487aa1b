package cas

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"golang.org/x/sync/errgroup"
)

// Tree is the result of content-addressing a directory snapshot: the
// digest of the root node plus lookup maps from digest to leaf file path
// and from digest to directory node. Nodes are shared by digest, never by
// pointer identity, so structurally identical subtrees anywhere in the
// walk collapse to a single map entry.
type Tree struct {
	RootDigest  Digest
	Files       map[Digest]string
	Directories map[Digest]*repb.Directory
}

// BuildTree recursively walks rootPath and builds a merkle tree of its
// contents. The walk is post-order: a directory's digest is computed from
// its children's digests after all of them are known. Entries within a
// node are sorted by name before the node is serialized and hashed, so
// the output does not depend on filesystem enumeration order.
//
// Regular files become FileNode entries carrying their content digest and
// executable bit; other non-directory entries (sockets, device nodes) are
// skipped. An empty directory still produces a valid node whose digest is
// the digest of the empty Directory message.
func BuildTree(rootPath string) (*Tree, error) {
	b := &treeBuilder{
		files: make(map[Digest]string),
		dirs:  make(map[Digest]*repb.Directory),
	}
	root, err := b.buildDir(rootPath)
	if err != nil {
		return nil, err
	}
	return &Tree{RootDigest: root, Files: b.files, Directories: b.dirs}, nil
}

type treeBuilder struct {
	mu    sync.Mutex
	files map[Digest]string
	dirs  map[Digest]*repb.Directory
}

func (b *treeBuilder) buildDir(dir string) (Digest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Digest{}, fmt.Errorf("build tree: %w", err)
	}

	node := &repb.Directory{}
	type fileEntry struct {
		name string
		full string
	}
	var files []fileEntry

	for _, entry := range entries {
		name := entry.Name()
		full := filepath.Join(dir, name)

		switch {
		case entry.IsDir():
			sub, err := b.buildDir(full)
			if err != nil {
				return Digest{}, err
			}
			node.Directories = append(node.Directories, &repb.DirectoryNode{
				Name:   name,
				Digest: sub.ToProto(),
			})
		case entry.Type().IsRegular():
			files = append(files, fileEntry{name: name, full: full})
		default:
			// Symlinks and special files do not participate in the tree.
		}
	}

	// Every slot exists before any digest goroutine starts; each worker
	// writes its own fixed index and the slice header never changes.
	node.Files = make([]*repb.FileNode, len(files))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for idx, f := range files {
		idx, f := idx, f
		g.Go(func() error {
			fn, err := buildFileNode(f.full, f.name)
			if err != nil {
				return err
			}
			node.Files[idx] = fn
			b.mu.Lock()
			b.files[FromProto(fn.Digest)] = f.full
			b.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Digest{}, err
	}

	sort.Slice(node.Files, func(i, j int) bool { return node.Files[i].Name < node.Files[j].Name })
	sort.Slice(node.Directories, func(i, j int) bool { return node.Directories[i].Name < node.Directories[j].Name })

	d, err := FromMessage(node)
	if err != nil {
		return Digest{}, err
	}
	b.dirs[d] = node
	return d, nil
}

func buildFileNode(path, name string) (*repb.FileNode, error) {
	d, err := FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("build tree: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("build tree: stat %s: %w", path, err)
	}
	return &repb.FileNode{
		Name:         name,
		Digest:       d.ToProto(),
		IsExecutable: info.Mode()&0o111 != 0,
	}, nil
}
