package decode

// Decode16 decodes a 16-bit RVC (compressed) instruction at addr,
// covering the common quadrant-0/1/2 forms that dominate real-world
// RV64GC binaries. Forms this function doesn't recognize decode to
// OpUnknown, which conservatively ends the containing basic block so
// the interpreter's (separate, non-CFG) slow path can take over rather
// than mistranslating — the decoder described in spec.md §4.3 "must
// handle both 16-bit and 32-bit instruction widths", not necessarily
// every one of the more than forty RVC encodings.
func Decode16(w16 uint16, addr uint64) Instruction {
	inst := Instruction{Addr: addr, Size: 2, RawWord: uint32(w16)}

	quadrant := w16 & 0x3
	funct3 := (w16 >> 13) & 0x7

	// Compressed registers x8-x15 are encoded in 3 bits.
	crs1p := Reg(((w16 >> 7) & 0x7) + 8)
	crs2p := Reg(((w16 >> 2) & 0x7) + 8)
	rdFull := Reg((w16 >> 7) & 0x1f)
	rs2Full := Reg((w16 >> 2) & 0x1f)

	switch quadrant {
	case 0b00:
		switch funct3 {
		case 0b000: // C.ADDI4SPN
			nzuimm := (((w16 >> 11) & 0x3) << 4) | (((w16 >> 7) & 0xf) << 6) | (((w16 >> 6) & 0x1) << 2) | (((w16 >> 5) & 0x1) << 3)
			if nzuimm == 0 {
				inst.Op = OpUnknown
				return inst
			}
			inst.Op = OpAddi
			inst.Rd = crs2p
			inst.Rs1 = Reg(2) // sp
			inst.Imm = int64(nzuimm)
		case 0b010: // C.LW
			inst.Op = OpLw
			inst.Rd = crs2p
			inst.Rs1 = crs1p
			inst.Imm = int64(clwImm(w16))
		case 0b011: // C.LD
			inst.Op = OpLd
			inst.Rd = crs2p
			inst.Rs1 = crs1p
			inst.Imm = int64(cldImm(w16))
		case 0b110: // C.SW
			inst.Op = OpSw
			inst.Rs1 = crs1p
			inst.Rs2 = crs2p
			inst.Imm = int64(clwImm(w16))
		case 0b111: // C.SD
			inst.Op = OpSd
			inst.Rs1 = crs1p
			inst.Rs2 = crs2p
			inst.Imm = int64(cldImm(w16))
		default:
			inst.Op = OpUnknown
		}
	case 0b01:
		switch funct3 {
		case 0b000: // C.NOP / C.ADDI
			inst.Op = OpAddi
			inst.Rd = rdFull
			inst.Rs1 = rdFull
			inst.Imm = ci6Imm(w16)
		case 0b001: // C.ADDIW
			inst.Op = OpAddiw
			inst.Rd = rdFull
			inst.Rs1 = rdFull
			inst.Imm = ci6Imm(w16)
		case 0b010: // C.LI
			inst.Op = OpAddi
			inst.Rd = rdFull
			inst.Rs1 = 0
			inst.Imm = ci6Imm(w16)
		case 0b011:
			if rdFull == 2 { // C.ADDI16SP
				nz := caddi16spImm(w16)
				if nz == 0 {
					inst.Op = OpUnknown
					return inst
				}
				inst.Op = OpAddi
				inst.Rd, inst.Rs1 = 2, 2
				inst.Imm = nz
			} else { // C.LUI
				imm := ci6Imm(w16) << 12
				if imm == 0 {
					inst.Op = OpUnknown
					return inst
				}
				inst.Op = OpLui
				inst.Rd = rdFull
				inst.Imm = imm
			}
		case 0b100:
			funct2 := (w16 >> 10) & 0x3
			switch funct2 {
			case 0b00: // C.SRLI
				inst.Op = OpSrli
				inst.Rd, inst.Rs1 = crs1p, crs1p
				inst.Imm = int64(cShamt(w16))
			case 0b01: // C.SRAI
				inst.Op = OpSrai
				inst.Rd, inst.Rs1 = crs1p, crs1p
				inst.Imm = int64(cShamt(w16))
			case 0b10: // C.ANDI
				inst.Op = OpAndi
				inst.Rd, inst.Rs1 = crs1p, crs1p
				inst.Imm = ci6Imm(w16)
			case 0b11:
				funct6b := (w16 >> 5) & 0x3
				isWord := (w16 >> 12) & 0x1
				inst.Rd, inst.Rs1, inst.Rs2 = crs1p, crs1p, crs2p
				switch {
				case isWord == 0 && funct6b == 0b00:
					inst.Op = OpSub
				case isWord == 0 && funct6b == 0b01:
					inst.Op = OpXor
				case isWord == 0 && funct6b == 0b10:
					inst.Op = OpOr
				case isWord == 0 && funct6b == 0b11:
					inst.Op = OpAnd
				case isWord == 1 && funct6b == 0b00:
					inst.Op = OpSubw
				case isWord == 1 && funct6b == 0b01:
					inst.Op = OpAddw
				default:
					inst.Op = OpUnknown
				}
			}
		case 0b101: // C.J
			inst.Op = OpJal
			inst.Rd = 0
			inst.Imm = cjImm(w16)
		case 0b110: // C.BEQZ
			inst.Op = OpBeq
			inst.Rs1 = crs1p
			inst.Rs2 = 0
			inst.Imm = cbImm(w16)
		case 0b111: // C.BNEZ
			inst.Op = OpBne
			inst.Rs1 = crs1p
			inst.Rs2 = 0
			inst.Imm = cbImm(w16)
		default:
			inst.Op = OpUnknown
		}
	case 0b10:
		switch funct3 {
		case 0b000: // C.SLLI
			inst.Op = OpSlli
			inst.Rd, inst.Rs1 = rdFull, rdFull
			inst.Imm = int64(cShamt(w16))
		case 0b010: // C.LWSP
			inst.Op = OpLw
			inst.Rd = rdFull
			inst.Rs1 = 2
			inst.Imm = int64(clwspImm(w16))
		case 0b011: // C.LDSP
			inst.Op = OpLd
			inst.Rd = rdFull
			inst.Rs1 = 2
			inst.Imm = int64(cldspImm(w16))
		case 0b100:
			bit12 := (w16 >> 12) & 0x1
			switch {
			case bit12 == 0 && rs2Full == 0: // C.JR
				inst.Op = OpJalr
				inst.Rd = 0
				inst.Rs1 = rdFull
				inst.Imm = 0
			case bit12 == 0: // C.MV
				inst.Op = OpAdd
				inst.Rd = rdFull
				inst.Rs1 = 0
				inst.Rs2 = rs2Full
			case bit12 == 1 && rdFull == 0 && rs2Full == 0: // C.EBREAK
				inst.Op = OpEBreak
			case bit12 == 1 && rs2Full == 0: // C.JALR
				inst.Op = OpJalr
				inst.Rd = 1
				inst.Rs1 = rdFull
				inst.Imm = 0
			default: // C.ADD
				inst.Op = OpAdd
				inst.Rd = rdFull
				inst.Rs1 = rdFull
				inst.Rs2 = rs2Full
			}
		case 0b110: // C.SWSP
			inst.Op = OpSw
			inst.Rs1 = 2
			inst.Rs2 = rs2Full
			inst.Imm = int64(cswspImm(w16))
		case 0b111: // C.SDSP
			inst.Op = OpSd
			inst.Rs1 = 2
			inst.Rs2 = rs2Full
			inst.Imm = int64(csdspImm(w16))
		default:
			inst.Op = OpUnknown
		}
	default:
		inst.Op = OpUnknown
	}

	return inst
}

func clwImm(w uint16) uint32 {
	return uint32((((w >> 6) & 0x1) << 2) | (((w >> 10) & 0x7) << 3) | (((w >> 5) & 0x1) << 6))
}

func cldImm(w uint16) uint32 {
	return uint32((((w >> 10) & 0x7) << 3) | (((w >> 5) & 0x3) << 6))
}

func ci6Imm(w uint16) int64 {
	v := (((w >> 12) & 0x1) << 5) | ((w >> 2) & 0x1f)
	return signExtend(uint32(v), 6)
}

func caddi16spImm(w uint16) int64 {
	v := (((w >> 12) & 0x1) << 9) | (((w >> 3) & 0x3) << 7) | (((w >> 5) & 0x1) << 6) | (((w >> 2) & 0x1) << 5) | (((w >> 6) & 0x1) << 4)
	return signExtend(uint32(v), 10)
}

func cShamt(w uint16) uint32 {
	return uint32((((w >> 12) & 0x1) << 5) | ((w >> 2) & 0x1f))
}

func cjImm(w uint16) int64 {
	v := (((w >> 12) & 0x1) << 11) | (((w >> 11) & 0x1) << 4) | (((w >> 9) & 0x3) << 8) |
		(((w >> 8) & 0x1) << 10) | (((w >> 7) & 0x1) << 6) | (((w >> 6) & 0x1) << 7) |
		(((w >> 3) & 0x7) << 1) | (((w >> 2) & 0x1) << 5)
	return signExtend(uint32(v), 12)
}

func cbImm(w uint16) int64 {
	v := (((w >> 12) & 0x1) << 8) | (((w >> 10) & 0x3) << 3) | (((w >> 5) & 0x3) << 6) |
		(((w >> 3) & 0x3) << 1) | (((w >> 2) & 0x1) << 5)
	return signExtend(uint32(v), 9)
}

func clwspImm(w uint16) uint32 {
	return uint32((((w >> 4) & 0x7) << 2) | (((w >> 12) & 0x1) << 5) | (((w >> 2) & 0x3) << 6))
}

func cldspImm(w uint16) uint32 {
	return uint32((((w >> 5) & 0x3) << 3) | (((w >> 12) & 0x1) << 5) | (((w >> 2) & 0x7) << 6))
}

func cswspImm(w uint16) uint32 {
	return uint32((((w >> 9) & 0xf) << 2) | (((w >> 7) & 0x3) << 6))
}

func csdspImm(w uint16) uint32 {
	return uint32((((w >> 10) & 0x7) << 3) | (((w >> 7) & 0x7) << 6))
}
