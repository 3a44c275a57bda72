package arcjtag

import "testing"

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestIRConstantsAreFourBitsAndDistinct(t *testing.T) {
	irs := map[string]uint64{
		"reset_test": irResetTest.Uint(),
		"status":     irStatus.Uint(),
		"txn_cmd":    irTxnCmd.Uint(),
		"address":    irAddress.Uint(),
		"data":       irData.Uint(),
		"idcode":     irIDCode.Uint(),
		"bypass":     irBypass.Uint(),
	}
	seen := map[uint64]string{}
	for name, v := range irs {
		assert(t, v <= 0xf, "%s IR value %x exceeds 4 bits", name, v)
		if other, ok := seen[v]; ok {
			t.Fatalf("%s and %s share IR value %x", name, other, v)
		}
		seen[v] = name
	}
	assert(t, irBypass.Uint() == 0xf, "bypass should be the all-ones IR per 1149.1 convention, got %x", irBypass.Uint())
}

func TestWriteCmdSelectsSpace(t *testing.T) {
	assert(t, writeCmd(SpaceMemory) == cmdWriteMemory, "memory write cmd mismatch")
	assert(t, writeCmd(SpaceCore) == cmdWriteCore, "core write cmd mismatch")
	assert(t, writeCmd(SpaceAux) == cmdWriteAux, "aux write cmd mismatch")
}

func TestReadCmdSelectsSpace(t *testing.T) {
	assert(t, readCmd(SpaceMemory) == cmdReadMemory, "memory read cmd mismatch")
	assert(t, readCmd(SpaceCore) == cmdReadCore, "core read cmd mismatch")
	assert(t, readCmd(SpaceAux) == cmdReadAux, "aux read cmd mismatch")
}

func TestReadWriteCmdsNeverCollide(t *testing.T) {
	reads := []uint64{cmdReadMemory, cmdReadCore, cmdReadAux}
	writes := []uint64{cmdWriteMemory, cmdWriteCore, cmdWriteAux}
	for _, r := range reads {
		for _, w := range writes {
			assert(t, r != w, "read cmd %x collides with write cmd %x", r, w)
		}
	}
}

func TestStatusSchemaDecodesReadyBit(t *testing.T) {
	st := statusSchema.New()
	_ = st.Set("rd", 1)
	_ = st.Set("fl", 1)
	raw := st.Uint()

	decoded := statusSchema.FromUint(raw)
	assert(t, decoded.Get("rd") == 1, "expected rd bit set")
	assert(t, decoded.Get("fl") == 1, "expected fl bit set")
	assert(t, decoded.Get("st") == 0, "st should be clear")
	assert(t, decoded.Get("pc_sel") == 0, "pc_sel should be clear")
}
