package layer

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// digester hashes a sequence of length-prefixed fields so that no two
// different field sequences share an encoding.
type digester struct {
	h hash.Hash
}

func newDigester() *digester {
	return &digester{h: sha256.New()}
}

func (d *digester) field(s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	d.h.Write(n[:])
	d.h.Write([]byte(s))
}

func (d *digester) list(items []string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(items)))
	d.h.Write(n[:])
	for _, it := range items {
		d.field(it)
	}
}

func (d *digester) sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// hashFile returns the hex sha256 of a file's contents.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Digest identifies a layer by its content: the build context, the placed
// secrets and the installed set. It does not depend on the build id, so
// rebuilding an unchanged context yields the same digest.
func Digest(contextDigest, secretsDigest string, inventory []string) string {
	d := newDigester()
	d.field("stagegate/layer/v1")
	d.field(contextDigest)
	d.field(secretsDigest)
	d.list(inventory)
	return d.sum()
}
