package arch

// Reference is a small 32-bit guest used by tools and tests.
//
//	RB  16 x 4  @0
//	PC       4  @64
//	C N V Z  1  @68..71
//	FP   8 x 8  @72
func Reference() *RegisterFile {
	return NewRegisterFile(
		RegisterEntry{Name: "RB", Size: 4, Count: 16},
		RegisterEntry{Name: "PC", Tag: "PC", Size: 4},
		RegisterEntry{Name: "C", Tag: "C", Size: 1},
		RegisterEntry{Name: "N", Tag: "N", Size: 1},
		RegisterEntry{Name: "V", Tag: "V", Size: 1},
		RegisterEntry{Name: "Z", Tag: "Z", Size: 1},
		RegisterEntry{Name: "FP", Size: 8, Count: 8},
	)
}
