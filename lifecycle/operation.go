package lifecycle

import "strings"

// Treatment operation codes (Annexes I and II of directive 2008/98/CE).
var operationCodes = map[string]struct{ final, groupement bool }{
	"R 0":   {final: true},
	"R 1":   {final: true},
	"R 2":   {final: true},
	"R 3":   {final: true},
	"R 4":   {final: true},
	"R 5":   {final: true},
	"R 6":   {final: true},
	"R 7":   {final: true},
	"R 8":   {final: true},
	"R 9":   {final: true},
	"R 10":  {final: true},
	"R 11":  {final: true},
	"R 12":  {groupement: true},
	"R 13":  {groupement: true},
	"D 1":   {final: true},
	"D 2":   {final: true},
	"D 3":   {final: true},
	"D 4":   {final: true},
	"D 5":   {final: true},
	"D 8":   {final: true},
	"D 9":   {groupement: true},
	"D 9 F": {final: true},
	"D 10":  {final: true},
	"D 12":  {final: true},
	"D 13":  {groupement: true},
	"D 14":  {groupement: true},
	"D 15":  {groupement: true},
}

// NormalizeOperationCode accepts "R13", "r 13" or "R 13".
func NormalizeOperationCode(code string) string {
	c := strings.ToUpper(strings.Join(strings.Fields(code), ""))
	if len(c) < 2 {
		return c
	}
	c = c[:1] + " " + c[1:]
	if strings.HasSuffix(c, "F") && !strings.HasSuffix(c, " F") {
		c = c[:len(c)-1] + " F"
	}
	return c
}

func IsValidOperationCode(code string) bool {
	_, ok := operationCodes[NormalizeOperationCode(code)]
	return ok
}

// IsGroupementCode reports codes after which the waste awaits a further bordereau.
func IsGroupementCode(code string) bool {
	return operationCodes[NormalizeOperationCode(code)].groupement
}

func IsFinalOperationCode(code string) bool {
	return operationCodes[NormalizeOperationCode(code)].final
}

// IsDangerousWasteCode reports waste codes flagged with an asterisk.
func IsDangerousWasteCode(code string) bool {
	return strings.HasSuffix(strings.TrimSpace(code), "*")
}
