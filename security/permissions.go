package security

// Permissions are the user access flags carried in /P.
type Permissions struct{ Print, Modify, Copy, ModifyAnnotations, FillForms, ExtractAccessible, Assemble, PrintHighQuality bool }

// PermissionsFromP decodes a /P value.
func PermissionsFromP(p int32) Permissions {
	return Permissions{
		Print:             p&0x4 != 0,
		Modify:            p&0x8 != 0,
		Copy:              p&0x10 != 0,
		ModifyAnnotations: p&0x20 != 0,
		FillForms:         p&0x100 != 0,
		ExtractAccessible: p&0x200 != 0,
		Assemble:          p&0x400 != 0,
		PrintHighQuality:  p&0x800 != 0,
	}
}

// Flags returns the permission bits without the reserved ones; pass the
// result to EncryptionHelper.Setup.
func (p Permissions) Flags() int64 {
	var v int64
	set := func(on bool, bit int64) {
		if on {
			v |= bit
		}
	}
	set(p.Print, 0x4)
	set(p.Modify, 0x8)
	set(p.Copy, 0x10)
	set(p.ModifyAnnotations, 0x20)
	set(p.FillForms, 0x100)
	set(p.ExtractAccessible, 0x200)
	set(p.Assemble, 0x400)
	set(p.PrintHighQuality, 0x800)
	return v
}

// PValue restricts flags to the bits the format defines: reserved high bits
// set, bits 1-2 clear.
func PValue(flags int64) int32 {
	return int32(uint32((flags | 0xFFFFF0C0) & 0xFFFFFFFC))
}
