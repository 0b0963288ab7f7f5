// Package xpak implements XpakCodec: the binary metadata container
// appended to a compressed tarball to form a binary package, per
// the binary-package metadata trailer format.
//
// Ported from the reference xpak_mem/xsplit_mem/
// getindex_mem/searchindex), reworked into a total Encode and a
// validating Decode that checks both magic words and that length fields
// fit inside the blob (the Rust original trusted them).
package xpak

import (
	"encoding/binary"
	"sort"

	"github.com/gentoo-go/emerge/internal/errkind"
)

const (
	magicPack = "XPAKPACK"
	magicStop = "XPAKSTOP"
	headerLen = 8 + 4 + 4 // magicPack + index_len + data_len
)

// Encode renders a metadata map into the on-disk XPAK trailer layout:
//
//	"XPAKPACK" u32be(index_len) u32be(data_len) index data "XPAKSTOP"
//
// Index entries are emitted in sorted key order so Encode is deterministic
// (required by the SrcUri-style determinism property and useful for
// reproducible binary packages).
func Encode(m map[string][]byte) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var index, data []byte
	var pos uint32
	for _, k := range keys {
		v := m[k]
		index = appendU32(index, uint32(len(k)))
		index = append(index, k...)
		index = appendU32(index, pos)
		index = appendU32(index, uint32(len(v)))
		data = append(data, v...)
		pos += uint32(len(v))
	}

	out := make([]byte, 0, headerLen+len(index)+len(data)+len(magicStop))
	out = append(out, magicPack...)
	out = appendU32(out, uint32(len(index)))
	out = appendU32(out, uint32(len(data)))
	out = append(out, index...)
	out = append(out, data...)
	out = append(out, magicStop...)
	return out
}

// Decode parses an XPAK trailer back into its metadata map. It is the
// exact inverse of Encode: Decode(Encode(m)) == m for any map whose keys
// are printable ASCII and whose values are arbitrary byte strings (the
// XPAK round-trip property).
func Decode(blob []byte) (map[string][]byte, error) {
	if len(blob) < headerLen+len(magicStop) {
		return nil, &errkind.InvalidContainer{Reason: "too short to contain an XPAK trailer"}
	}
	if string(blob[:8]) != magicPack {
		return nil, &errkind.InvalidContainer{Reason: "missing XPAKPACK magic"}
	}
	if string(blob[len(blob)-8:]) != magicStop {
		return nil, &errkind.InvalidContainer{Reason: "missing XPAKSTOP magic"}
	}

	indexLen := binary.BigEndian.Uint32(blob[8:12])
	dataLen := binary.BigEndian.Uint32(blob[12:16])

	body := blob[16 : len(blob)-8]
	total := uint64(indexLen) + uint64(dataLen)
	if total != uint64(len(body)) {
		return nil, &errkind.InvalidContainer{Reason: "index/data length fields do not fit the blob"}
	}

	index := body[:indexLen]
	data := body[indexLen:]

	out := make(map[string][]byte)
	var off uint32
	for off+8 <= indexLen {
		if off+4 > indexLen {
			return nil, &errkind.InvalidContainer{Reason: "truncated index entry"}
		}
		keyLen := binary.BigEndian.Uint32(index[off : off+4])
		off += 4
		if uint64(off)+uint64(keyLen)+8 > uint64(indexLen) {
			return nil, &errkind.InvalidContainer{Reason: "index entry key overruns index"}
		}
		key := string(index[off : off+keyLen])
		off += keyLen
		dataOff := binary.BigEndian.Uint32(index[off : off+4])
		dataSz := binary.BigEndian.Uint32(index[off+4 : off+8])
		off += 8
		if uint64(dataOff)+uint64(dataSz) > uint64(dataLen) {
			return nil, &errkind.InvalidContainer{Reason: "index entry data range overruns data section for key " + key}
		}
		out[key] = append([]byte(nil), data[dataOff:dataOff+dataSz]...)
	}
	return out, nil
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
