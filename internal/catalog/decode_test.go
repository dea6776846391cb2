package catalog

import (
	"encoding/binary"
	"testing"

	"github.com/deploymenttheory/apfsck/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalogKey(cnid uint64, kind types.JObjTypes) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, cnid|uint64(kind)<<types.ObjTypeShift)
	return b
}

func TestHeaderDecodesCnidAndKind(t *testing.T) {
	k := catalogKey(123, types.ApfsTypeInode)
	cnid, kind, err := header(k)
	require.NoError(t, err)
	assert.EqualValues(t, 123, cnid)
	assert.Equal(t, types.ApfsTypeInode, kind)
}

func TestHeaderRejectsShortKey(t *testing.T) {
	_, _, err := header([]byte{1, 2, 3})
	assert.Error(t, err)
}

func buildInodeValue(privateId uint64, mode types.ModeT, nlink int32, xfields []byte) []byte {
	v := make([]byte, inodeValueFixedSize+len(xfields))
	binary.LittleEndian.PutUint64(v[0:8], 99) // parent id
	binary.LittleEndian.PutUint64(v[8:16], privateId)
	binary.LittleEndian.PutUint32(v[56:60], uint32(int32(nlink)))
	binary.LittleEndian.PutUint16(v[80:82], uint16(mode))
	copy(v[inodeValueFixedSize:], xfields)
	return v
}

func TestDecodeInodeValueRoundtrips(t *testing.T) {
	v := buildInodeValue(77, types.SIfreg, 1, nil)
	iv, err := decodeInodeValue(v)
	require.NoError(t, err)
	assert.EqualValues(t, 99, iv.ParentId)
	assert.EqualValues(t, 77, iv.PrivateId)
	assert.Equal(t, types.SIfreg, iv.Mode)
	assert.EqualValues(t, 1, iv.NchildrenOrNlink)
}

func TestDecodeInodeValueRejectsShortValue(t *testing.T) {
	_, err := decodeInodeValue(make([]byte, 10))
	assert.Error(t, err)
}

func buildXfieldBlob(entries []xfieldEntry) []byte {
	blob := make([]byte, 4)
	binary.LittleEndian.PutUint16(blob[0:2], uint16(len(entries)))
	for _, e := range entries {
		h := make([]byte, 4)
		h[0] = e.Type
		h[1] = e.Flags
		binary.LittleEndian.PutUint16(h[2:4], uint16(len(e.Data)))
		blob = append(blob, h...)
	}
	for _, e := range entries {
		blob = append(blob, e.Data...)
		for len(blob)%8 != 0 {
			blob = append(blob, 0)
		}
	}
	return blob
}

func TestIterateXfieldsRoundtrips(t *testing.T) {
	blob := buildXfieldBlob([]xfieldEntry{
		{Type: types.InoExtTypeDocumentId, Data: []byte{3, 0, 0, 0}},
		{Type: types.InoExtTypeName, Data: []byte("hello\x00")},
	})
	entries, err := iterateXfields(blob)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.InoExtTypeDocumentId, entries[0].Type)
	assert.Equal(t, "hello\x00", string(entries[1].Data))
}

func TestFindXfieldU64(t *testing.T) {
	entries := []xfieldEntry{{Type: 9, Data: make([]byte, 8)}}
	binary.LittleEndian.PutUint64(entries[0].Data, 42)
	v, err := findXfieldU64(entries, 9)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.EqualValues(t, 42, *v)

	v, err = findXfieldU64(entries, 10)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func buildDrecHashedKey(cnid uint64, name string, hash uint32) []byte {
	k := make([]byte, 12+len(name))
	binary.LittleEndian.PutUint64(k[0:8], cnid|uint64(types.ApfsTypeDirRec)<<types.ObjTypeShift)
	nameLen := uint32(len(name))
	lenAndHash := (nameLen & types.JDrecLenMask) | ((hash << types.JDrecHashShift) & types.JDrecHashMask)
	binary.LittleEndian.PutUint32(k[8:12], lenAndHash)
	copy(k[12:], name)
	return k
}

func TestDecodeDrecHashedKeyRoundtrips(t *testing.T) {
	k := buildDrecHashedKey(5, "a.txt\x00", 0x12345)
	hk, err := decodeDrecHashedKey(k)
	require.NoError(t, err)
	assert.Equal(t, "a.txt\x00", string(hk.Name))
}

func TestDecodePhysExtValue(t *testing.T) {
	v := make([]byte, 20)
	lenAndKind := uint64(7) | uint64(types.ApfsKindNew)<<types.PextKindShift
	binary.LittleEndian.PutUint64(v[0:8], lenAndKind)
	binary.LittleEndian.PutUint64(v[8:16], 0)
	binary.LittleEndian.PutUint32(v[16:20], 1)
	pv, err := decodePhysExtValue(v)
	require.NoError(t, err)
	assert.EqualValues(t, 7, pv.Length)
	assert.Equal(t, types.ApfsKindNew, pv.Kind)
	assert.EqualValues(t, 1, pv.Refcnt)
}
