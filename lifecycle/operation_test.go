package lifecycle

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeOperationCode(t *testing.T) {
	for in, want := range map[string]string{
		"R13":    "R 13",
		"r 13":   "R 13",
		"R 1":    "R 1",
		" d 9 f": "D 9 F",
		"D9F":    "D 9 F",
	} {
		assert.Equal(t, want, NormalizeOperationCode(in), in)
	}
}

func TestOperationCodeClasses(t *testing.T) {
	assert.True(t, IsValidOperationCode("R 0"))
	assert.True(t, IsValidOperationCode("d15"))
	assert.False(t, IsValidOperationCode("D 6"))
	assert.False(t, IsValidOperationCode("D 7"))
	assert.False(t, IsValidOperationCode("R 14"))

	for _, code := range []string{"R 12", "R 13", "D 9", "D 13", "D 14", "D 15"} {
		assert.True(t, IsGroupementCode(code), code)
		assert.False(t, IsFinalOperationCode(code), code)
	}
	assert.True(t, IsFinalOperationCode("R 1"))
	assert.True(t, IsFinalOperationCode("D 10"))
	assert.False(t, IsFinalOperationCode("X 1"))

	assert.True(t, IsDangerousWasteCode("16 01 07*"))
	assert.False(t, IsDangerousWasteCode("16 01 03"))
}

func TestNewID(t *testing.T) {
	prefixes := map[BsdType]string{
		TypeBSDD:    "BSD",
		TypeBSDA:    "BSDA",
		TypeBSDASRI: "DASRI",
		TypeBSVHU:   "VHU",
		TypeBSFF:    "FF",
		TypeBSPAOH:  "PAOH",
	}
	for typ, prefix := range prefixes {
		id := NewID(typ, testNow)
		assert.Regexp(t, regexp.MustCompile(`^`+prefix+`-20240314-[0-9A-F]{9}$`), id)
	}
	assert.NotEqual(t, NewID(TypeBSDD, testNow), NewID(TypeBSDD, testNow))
}
