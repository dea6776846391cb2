package catalog

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/apfsck/internal/report"
	"github.com/deploymenttheory/apfsck/internal/types"
)

// header decodes the 8-byte j_key_t prefix shared by every catalog key.
func header(key []byte) (cnid uint64, kind types.JObjTypes, err error) {
	if len(key) < 8 {
		return 0, 0, &report.Corruption{What: "catalog record key shorter than its header"}
	}
	raw := binary.LittleEndian.Uint64(key[0:8])
	cnid = raw & types.ObjIdMask
	kind = types.JObjTypes((raw & types.ObjTypeMask) >> types.ObjTypeShift)
	return cnid, kind, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func leUint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func leUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

// invalidObjId is the sentinel j_phys_ext_val_t owning-object id that
// marks an APFS_KIND_UPDATE physical-extent record as having no owner
// of its own.
const invalidObjId uint64 = types.OwningObjIdInvalid

// dstreamXfield is the fixed j_dstream_t payload of an INO_EXT_TYPE_DSTREAM
// extended field.
type dstreamXfield struct {
	Size        uint64
	AllocedSize uint64
}

func decodeDstreamXfield(v []byte) (dstreamXfield, error) {
	if len(v) < 16 {
		return dstreamXfield{}, &report.Corruption{What: "dstream extended field shorter than its fixed fields"}
	}
	return dstreamXfield{
		Size:        binary.LittleEndian.Uint64(v[0:8]),
		AllocedSize: binary.LittleEndian.Uint64(v[8:16]),
	}, nil
}

// inodeValue is the fixed 92-byte prefix of j_inode_val_t, matching
// the field-by-field layout the parser package decodes.
type inodeValue struct {
	ParentId               uint64
	PrivateId              uint64
	InternalFlags          uint64
	NchildrenOrNlink       int32
	DefaultProtectionClass types.CpKeyClassT
	Owner                  types.UidT
	Group                  types.GidT
	Mode                   types.ModeT
	UncompressedSize       uint64
	XFields                []byte
}

const inodeValueFixedSize = 8 + 8 + 8 + 8 + 8 + 8 + 8 + 4 + 4 + 4 + 4 + 4 + 4 + 2 + 2 + 8

func decodeInodeValue(v []byte) (inodeValue, error) {
	if len(v) < inodeValueFixedSize {
		return inodeValue{}, &report.Corruption{What: fmt.Sprintf("inode value has %d bytes, want at least %d", len(v), inodeValueFixedSize)}
	}
	var iv inodeValue
	iv.ParentId = binary.LittleEndian.Uint64(v[0:8])
	iv.PrivateId = binary.LittleEndian.Uint64(v[8:16])
	// CreateTime, ModTime, ChangeTime, AccessTime (v[16:48]) are not
	// validated by the reconciliation rules this checker implements.
	iv.InternalFlags = binary.LittleEndian.Uint64(v[48:56])
	iv.NchildrenOrNlink = int32(binary.LittleEndian.Uint32(v[56:60]))
	iv.DefaultProtectionClass = types.CpKeyClassT(binary.LittleEndian.Uint32(v[60:64]))
	// WriteGenerationCounter, BsdFlags (v[64:72]) unvalidated.
	iv.Owner = types.UidT(binary.LittleEndian.Uint32(v[72:76]))
	iv.Group = types.GidT(binary.LittleEndian.Uint32(v[76:80]))
	iv.Mode = types.ModeT(binary.LittleEndian.Uint16(v[80:82]))
	// Pad1 (v[82:84]) is padding.
	iv.UncompressedSize = binary.LittleEndian.Uint64(v[84:92])
	if len(v) > inodeValueFixedSize {
		iv.XFields = v[inodeValueFixedSize:]
	}
	return iv, nil
}

// drecHashedKey is the hashed dentry key: the name length and
// pre-computed hash packed into name_len_and_hash, followed by the
// name itself.
type drecHashedKey struct {
	NameLenAndHash uint32
	Name           []byte
}

func decodeDrecHashedKey(k []byte) (drecHashedKey, error) {
	if len(k) < 12 {
		return drecHashedKey{}, &report.Corruption{What: "hashed directory entry key shorter than its fixed fields"}
	}
	lenAndHash := binary.LittleEndian.Uint32(k[8:12])
	nameLen := lenAndHash & types.JDrecLenMask
	if 12+int(nameLen) > len(k) {
		return drecHashedKey{}, &report.Corruption{What: "hashed directory entry name length exceeds key size"}
	}
	return drecHashedKey{NameLenAndHash: lenAndHash, Name: k[12 : 12+nameLen]}, nil
}

type drecValue struct {
	FileId    uint64
	Flags     uint16
	SiblingId *uint64
}

func decodeDrecValue(v []byte) (drecValue, error) {
	if len(v) < 18 {
		return drecValue{}, &report.Corruption{What: "directory entry value shorter than its fixed fields"}
	}
	dv := drecValue{
		FileId: binary.LittleEndian.Uint64(v[0:8]),
		Flags:  binary.LittleEndian.Uint16(v[16:18]),
	}
	entries, err := iterateXfields(v[18:])
	if err != nil {
		return drecValue{}, err
	}
	id, err := findXfieldU64(entries, types.DrecExtTypeSiblingId)
	if err != nil {
		return drecValue{}, err
	}
	dv.SiblingId = id
	return dv, nil
}

// xfieldEntry is one decoded extended field: its type, flags, and
// payload bytes.
type xfieldEntry struct {
	Type  uint8
	Flags uint8
	Data  []byte
}

// iterateXfields walks an x_field_t blob (x_field_t headers packed
// first, then their 8-byte-aligned payloads), grounded on the
// extended-fields reader's header-then-payload-then-align loop.
func iterateXfields(blob []byte) ([]xfieldEntry, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) < 4 {
		return nil, &report.Corruption{What: "extended-field blob shorter than its header"}
	}
	numExts := binary.LittleEndian.Uint16(blob[0:2])
	offset := 4

	type hdr struct {
		xtype uint8
		flags uint8
		size  uint16
	}
	headers := make([]hdr, 0, numExts)
	for i := 0; i < int(numExts); i++ {
		if offset+4 > len(blob) {
			return nil, &report.Corruption{What: "extended-field header runs past blob end"}
		}
		headers = append(headers, hdr{
			xtype: blob[offset],
			flags: blob[offset+1],
			size:  binary.LittleEndian.Uint16(blob[offset+2 : offset+4]),
		})
		offset += 4
	}

	entries := make([]xfieldEntry, 0, len(headers))
	for _, h := range headers {
		if offset+int(h.size) > len(blob) {
			return nil, &report.Corruption{What: "extended-field payload runs past blob end"}
		}
		entries = append(entries, xfieldEntry{Type: h.xtype, Flags: h.flags, Data: blob[offset : offset+int(h.size)]})
		offset += int(h.size)
		offset = (offset + 7) &^ 7
	}
	return entries, nil
}

func findXfieldU64(entries []xfieldEntry, wantType uint8) (*uint64, error) {
	for _, e := range entries {
		if e.Type != wantType {
			continue
		}
		if len(e.Data) != 8 {
			return nil, &report.Corruption{What: "extended field has unexpected payload size"}
		}
		v := binary.LittleEndian.Uint64(e.Data)
		return &v, nil
	}
	return nil, nil
}

type physExtValue struct {
	Length      uint64
	Kind        types.JObjKinds
	OwningObjId uint64
	Refcnt      int32
}

func decodePhysExtValue(v []byte) (physExtValue, error) {
	if len(v) < 20 {
		return physExtValue{}, &report.Corruption{What: "physical extent value shorter than its fixed fields"}
	}
	lenAndKind := binary.LittleEndian.Uint64(v[0:8])
	return physExtValue{
		Length:      lenAndKind & types.PextLenMask,
		Kind:        types.JObjKinds((lenAndKind & types.PextKindMask) >> types.PextKindShift),
		OwningObjId: binary.LittleEndian.Uint64(v[8:16]),
		Refcnt:      int32(binary.LittleEndian.Uint32(v[16:20])),
	}, nil
}

type fileExtentKey struct {
	LogicalAddr uint64
}

func decodeFileExtentKey(k []byte) (fileExtentKey, error) {
	if len(k) < 16 {
		return fileExtentKey{}, &report.Corruption{What: "file extent key shorter than its fixed fields"}
	}
	return fileExtentKey{LogicalAddr: binary.LittleEndian.Uint64(k[8:16])}, nil
}

type fileExtentValue struct {
	Length       uint64
	PhysBlockNum uint64
}

func decodeFileExtentValue(v []byte) (fileExtentValue, error) {
	if len(v) < 24 {
		return fileExtentValue{}, &report.Corruption{What: "file extent value shorter than its fixed fields"}
	}
	lenAndFlags := binary.LittleEndian.Uint64(v[0:8])
	return fileExtentValue{
		Length:       lenAndFlags & types.JFileExtentLenMask,
		PhysBlockNum: binary.LittleEndian.Uint64(v[8:16]),
	}, nil
}

type dstreamIdValue struct {
	Refcnt uint32
}

func decodeDstreamIdValue(v []byte) (dstreamIdValue, error) {
	if len(v) < 4 {
		return dstreamIdValue{}, &report.Corruption{What: "dstream-id value shorter than its fixed fields"}
	}
	return dstreamIdValue{Refcnt: binary.LittleEndian.Uint32(v[0:4])}, nil
}

type siblingKey struct {
	SiblingId uint64
}

func decodeSiblingKey(k []byte) (siblingKey, error) {
	if len(k) < 16 {
		return siblingKey{}, &report.Corruption{What: "sibling-link key shorter than its fixed fields"}
	}
	return siblingKey{SiblingId: binary.LittleEndian.Uint64(k[8:16])}, nil
}

type siblingValue struct {
	ParentId uint64
	Name     string
}

func decodeSiblingValue(v []byte) (siblingValue, error) {
	if len(v) < 10 {
		return siblingValue{}, &report.Corruption{What: "sibling-link value shorter than its fixed fields"}
	}
	nameLen := binary.LittleEndian.Uint16(v[8:10])
	if 10+int(nameLen) > len(v) {
		return siblingValue{}, &report.Corruption{What: "sibling-link name length exceeds value size"}
	}
	return siblingValue{ParentId: binary.LittleEndian.Uint64(v[0:8]), Name: cString(v[10 : 10+nameLen])}, nil
}

type siblingMapValue struct {
	FileId uint64
}

func decodeSiblingMapValue(v []byte) (siblingMapValue, error) {
	if len(v) < 8 {
		return siblingMapValue{}, &report.Corruption{What: "sibling-map value shorter than its fixed fields"}
	}
	return siblingMapValue{FileId: binary.LittleEndian.Uint64(v[0:8])}, nil
}

type xattrKey struct {
	Name string
}

func decodeXattrKey(k []byte) (xattrKey, error) {
	if len(k) < 10 {
		return xattrKey{}, &report.Corruption{What: "xattr key shorter than its fixed fields"}
	}
	nameLen := binary.LittleEndian.Uint16(k[8:10])
	if 10+int(nameLen) > len(k) {
		return xattrKey{}, &report.Corruption{What: "xattr name length exceeds key size"}
	}
	return xattrKey{Name: cString(k[10 : 10+nameLen])}, nil
}

type xattrValue struct {
	Flags   types.JXattrFlags
	XdataLen uint16
	Xdata   []byte
}

func decodeXattrValue(v []byte) (xattrValue, error) {
	if len(v) < 4 {
		return xattrValue{}, &report.Corruption{What: "xattr value shorter than its fixed fields"}
	}
	xv := xattrValue{
		Flags:    types.JXattrFlags(binary.LittleEndian.Uint16(v[0:2])),
		XdataLen: binary.LittleEndian.Uint16(v[2:4]),
	}
	xv.Xdata = v[4:]
	return xv, nil
}

type snapMetadataValue struct {
	Inum uint64
}

func decodeSnapMetadataValue(v []byte) (snapMetadataValue, error) {
	// Field order: extentref_tree_oid(8), sblock_oid(8), create_time(8),
	// change_time(8), inum(8), extentref_tree_type(4), flags(4), ...
	if len(v) < 40 {
		return snapMetadataValue{}, &report.Corruption{What: "snapshot metadata value shorter than its fixed fields"}
	}
	return snapMetadataValue{Inum: binary.LittleEndian.Uint64(v[32:40])}, nil
}

type snapNameKey struct {
	Name string
}

func decodeSnapNameKey(k []byte) (snapNameKey, error) {
	if len(k) < 10 {
		return snapNameKey{}, &report.Corruption{What: "snapshot name key shorter than its fixed fields"}
	}
	nameLen := binary.LittleEndian.Uint16(k[8:10])
	if 10+int(nameLen) > len(k) {
		return snapNameKey{}, &report.Corruption{What: "snapshot name length exceeds key size"}
	}
	return snapNameKey{Name: cString(k[10 : 10+nameLen])}, nil
}
