package vfs

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
)

// LoadTar ingests a ustar/GNU tar byte stream into the filesystem,
// honoring long-name records (archive/tar does this transparently) and
// constructing missing parent directories on demand, per spec.md §4.2.
// A malformed tar is reported to the caller, who (per spec.md §7) must
// treat it as fatal at startup.
func (fs *FS) LoadTar(r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("malformed tar: %w", err)
		}

		p := "/" + path.Clean(hdr.Name)
		if err := fs.ingestEntry(hdr, tr, p); err != nil {
			return fmt.Errorf("ingest %s: %w", hdr.Name, err)
		}
	}
}

func (fs *FS) ingestEntry(hdr *tar.Header, r io.Reader, p string) error {
	parent := path.Dir(p)
	if parent != "/" && parent != "." {
		if err := fs.MkdirAll(parent, 0o755); err != nil && !IsExist(err) {
			return err
		}
	}

	mode := uint32(hdr.Mode) & 0o7777

	var node *Node
	switch hdr.Typeflag {
	case tar.TypeDir:
		node = NewDirectory(mode)
	case tar.TypeReg, tar.TypeRegA:
		node = NewRegular(mode)
		buf, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		node.WriteAt(buf, 0)
	case tar.TypeSymlink:
		node = NewSymlink(hdr.Linkname)
	case tar.TypeLink:
		// Hard link: point the new name at the already-ingested
		// target node so both names share storage.
		target, err := fs.Resolve("/"+path.Clean(hdr.Linkname), false)
		if err != nil {
			return err
		}
		node = target
	case tar.TypeFifo:
		node = NewFifo(mode)
	case tar.TypeChar:
		node = NewDevice(CharDev, mode, uint64(hdr.Devmajor)<<8|uint64(hdr.Devminor))
	case tar.TypeBlock:
		node = NewDevice(BlockDev, mode, uint64(hdr.Devmajor)<<8|uint64(hdr.Devminor))
	default:
		return fmt.Errorf("unsupported tar entry type %v", hdr.Typeflag)
	}

	if hdr.Typeflag != tar.TypeLink {
		node.SetOwner(uint32(hdr.Uid), uint32(hdr.Gid))
	}

	if p == "/" {
		return nil
	}
	return fs.Link(p, node)
}

// ExportTar walks the tree in a deterministic (lexicographic,
// depth-first) order and writes a ustar stream that round-trips a
// re-ingestion, per spec.md §4.2's tar-export contract and §8's
// round-trip invariant.
func (fs *FS) ExportTar(w io.Writer) error {
	tw := tar.NewWriter(w)
	if err := fs.exportNode(tw, fs.root, "/"); err != nil {
		return err
	}
	return tw.Close()
}

func (fs *FS) exportNode(tw *tar.Writer, node *Node, p string) error {
	if p != "/" {
		if err := fs.writeHeader(tw, node, p); err != nil {
			return err
		}
	}
	if node.Kind() != Directory {
		return nil
	}
	names := node.SortedNames()
	sort.Strings(names)
	for _, name := range names {
		child := node.Lookup(name)
		if child == nil {
			continue
		}
		childPath := path.Join(p, name)
		if err := fs.exportNode(tw, child, childPath); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FS) writeHeader(tw *tar.Writer, node *Node, p string) error {
	uid, gid := node.Owner()
	hdr := &tar.Header{
		Name:    p[1:],
		Mode:    int64(node.Mode()),
		Uid:     int(uid),
		Gid:     int(gid),
		ModTime: node.MTime(),
	}

	var content []byte
	switch node.Kind() {
	case Directory:
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
	case Regular:
		hdr.Typeflag = tar.TypeReg
		buf := make([]byte, node.Size())
		node.ReadAt(buf, 0)
		content = buf
		hdr.Size = int64(len(content))
	case Symlink:
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = node.LinkTarget()
	case Fifo:
		hdr.Typeflag = tar.TypeFifo
	case CharDev:
		hdr.Typeflag = tar.TypeChar
		hdr.Devmajor = int64(node.RDev() >> 8)
		hdr.Devminor = int64(node.RDev() & 0xff)
	case BlockDev:
		hdr.Typeflag = tar.TypeBlock
		hdr.Devmajor = int64(node.RDev() >> 8)
		hdr.Devminor = int64(node.RDev() & 0xff)
	case Socket:
		// ustar has no socket type; sockets are transient runtime
		// objects that are never meaningfully persisted, so they are
		// skipped on export.
		return nil
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if len(content) > 0 {
		if _, err := tw.Write(content); err != nil {
			return err
		}
	}
	return nil
}

// ExportTarBytes is a convenience wrapper used by tests and the CLI's
// --export-tar flag.
func (fs *FS) ExportTarBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := fs.ExportTar(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
