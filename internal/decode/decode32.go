package decode

// Opcode values from the RV32/64 base ISA, matching
// internal/hv/riscv/rv64/execute.go's opcode constants.
const (
	opLoad     = 0b0000011
	opMiscMem  = 0b0001111
	opOpImm    = 0b0010011
	opAuipc    = 0b0010111
	opOpImm32  = 0b0011011
	opStore    = 0b0100011
	opOp       = 0b0110011
	opLui      = 0b0110111
	opOp32     = 0b0111011
	opBranch   = 0b1100011
	opJalr     = 0b1100111
	opJal      = 0b1101111
	opSystem   = 0b1110011
)

func opcode(w uint32) uint32 { return w & 0x7f }
func rd(w uint32) Reg        { return Reg((w >> 7) & 0x1f) }
func funct3(w uint32) uint32 { return (w >> 12) & 0x7 }
func rs1(w uint32) Reg       { return Reg((w >> 15) & 0x1f) }
func rs2(w uint32) Reg       { return Reg((w >> 20) & 0x1f) }
func funct7(w uint32) uint32 { return (w >> 25) & 0x7f }

func immI(w uint32) int64 { return signExtend(w>>20, 12) }

func immS(w uint32) int64 {
	v := ((w >> 25) << 5) | ((w >> 7) & 0x1f)
	return signExtend(v, 12)
}

func immB(w uint32) int64 {
	v := (((w >> 31) & 1) << 12) | (((w >> 7) & 1) << 11) | (((w >> 25) & 0x3f) << 5) | (((w >> 8) & 0xf) << 1)
	return signExtend(v, 13)
}

func immU(w uint32) int64 {
	return int64(int32(w & 0xfffff000))
}

func immJ(w uint32) int64 {
	v := (((w >> 31) & 1) << 20) | (((w >> 12) & 0xff) << 12) | (((w >> 20) & 1) << 11) | (((w >> 21) & 0x3ff) << 1)
	return signExtend(v, 21)
}

func shamt(w uint32) int64 { return int64((w >> 20) & 0x3f) }

// Decode32 decodes one full-width (32-bit) RV64GC instruction word at
// addr.
func Decode32(w uint32, addr uint64) Instruction {
	inst := Instruction{Addr: addr, Size: 4, RawWord: w, Rd: rd(w), Rs1: rs1(w), Rs2: rs2(w)}

	switch opcode(w) {
	case opLui:
		inst.Op = OpLui
		inst.Imm = immU(w)
	case opAuipc:
		inst.Op = OpAuipc
		inst.Imm = immU(w)
	case opJal:
		inst.Op = OpJal
		inst.Imm = immJ(w)
	case opJalr:
		inst.Op = OpJalr
		inst.Imm = immI(w)
	case opBranch:
		inst.Imm = immB(w)
		switch funct3(w) {
		case 0b000:
			inst.Op = OpBeq
		case 0b001:
			inst.Op = OpBne
		case 0b100:
			inst.Op = OpBlt
		case 0b101:
			inst.Op = OpBge
		case 0b110:
			inst.Op = OpBltu
		case 0b111:
			inst.Op = OpBgeu
		default:
			inst.Op = OpUnknown
		}
	case opLoad:
		inst.Imm = immI(w)
		switch funct3(w) {
		case 0b000:
			inst.Op = OpLb
		case 0b001:
			inst.Op = OpLh
		case 0b010:
			inst.Op = OpLw
		case 0b011:
			inst.Op = OpLd
		case 0b100:
			inst.Op = OpLbu
		case 0b101:
			inst.Op = OpLhu
		case 0b110:
			inst.Op = OpLwu
		default:
			inst.Op = OpUnknown
		}
	case opStore:
		inst.Imm = immS(w)
		switch funct3(w) {
		case 0b000:
			inst.Op = OpSb
		case 0b001:
			inst.Op = OpSh
		case 0b010:
			inst.Op = OpSw
		case 0b011:
			inst.Op = OpSd
		default:
			inst.Op = OpUnknown
		}
	case opOpImm:
		inst.Imm = immI(w)
		switch funct3(w) {
		case 0b000:
			inst.Op = OpAddi
		case 0b010:
			inst.Op = OpSlti
		case 0b011:
			inst.Op = OpSltiu
		case 0b100:
			inst.Op = OpXori
		case 0b110:
			inst.Op = OpOri
		case 0b111:
			inst.Op = OpAndi
		case 0b001:
			inst.Op = OpSlli
			inst.Imm = shamt(w)
		case 0b101:
			inst.Imm = shamt(w)
			if funct7(w)&0b0100000 != 0 {
				inst.Op = OpSrai
			} else {
				inst.Op = OpSrli
			}
		default:
			inst.Op = OpUnknown
		}
	case opOpImm32:
		inst.Imm = immI(w)
		switch funct3(w) {
		case 0b000:
			inst.Op = OpAddiw
		case 0b001:
			inst.Op = OpSlliw
			inst.Imm = int64((w >> 20) & 0x1f)
		case 0b101:
			inst.Imm = int64((w >> 20) & 0x1f)
			if funct7(w)&0b0100000 != 0 {
				inst.Op = OpSraiw
			} else {
				inst.Op = OpSrliw
			}
		default:
			inst.Op = OpUnknown
		}
	case opOp:
		inst.Op = decodeOp(funct3(w), funct7(w))
	case opOp32:
		inst.Op = decodeOp32(funct3(w), funct7(w))
	case opMiscMem:
		inst.Op = OpFence
	case opSystem:
		switch w {
		case 0x00000073:
			inst.Op = OpECall
		case 0x00100073:
			inst.Op = OpEBreak
		default:
			inst.Op = OpUnknown
		}
	default:
		inst.Op = OpUnknown
	}

	return inst
}

func decodeOp(f3, f7 uint32) Op {
	switch {
	case f7 == 0b0000001:
		switch f3 {
		case 0b000:
			return OpMul
		case 0b001:
			return OpMulh
		case 0b010:
			return OpMulhsu
		case 0b011:
			return OpMulhu
		case 0b100:
			return OpDiv
		case 0b101:
			return OpDivu
		case 0b110:
			return OpRem
		case 0b111:
			return OpRemu
		}
	case f7 == 0b0100000:
		switch f3 {
		case 0b000:
			return OpSub
		case 0b101:
			return OpSra
		}
	default:
		switch f3 {
		case 0b000:
			return OpAdd
		case 0b001:
			return OpSll
		case 0b010:
			return OpSlt
		case 0b011:
			return OpSltu
		case 0b100:
			return OpXor
		case 0b101:
			return OpSrl
		case 0b110:
			return OpOr
		case 0b111:
			return OpAnd
		}
	}
	return OpUnknown
}

func decodeOp32(f3, f7 uint32) Op {
	switch {
	case f7 == 0b0000001:
		switch f3 {
		case 0b000:
			return OpMulw
		case 0b100:
			return OpDivw
		case 0b101:
			return OpDivuw
		case 0b110:
			return OpRemw
		case 0b111:
			return OpRemuw
		}
	case f7 == 0b0100000:
		switch f3 {
		case 0b000:
			return OpSubw
		case 0b101:
			return OpSraw
		}
	default:
		switch f3 {
		case 0b000:
			return OpAddw
		case 0b001:
			return OpSllw
		case 0b101:
			return OpSrlw
		}
	}
	return OpUnknown
}
