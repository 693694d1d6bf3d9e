package mgp

import "strconv"

// elementSymbols is indexed by atomic number; index 0 is unused.
var elementSymbols = [...]string{
	"X",
	"H", "He", "Li", "Be", "B", "C", "N", "O", "F", "Ne",
	"Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar", "K", "Ca",
	"Sc", "Ti", "V", "Cr", "Mn", "Fe", "Co", "Ni", "Cu", "Zn",
	"Ga", "Ge", "As", "Se", "Br", "Kr", "Rb", "Sr", "Y", "Zr",
	"Nb", "Mo", "Tc", "Ru", "Rh", "Pd", "Ag", "Cd", "In", "Sn",
	"Sb", "Te", "I", "Xe", "Cs", "Ba", "La", "Ce", "Pr", "Nd",
	"Pm", "Sm", "Eu", "Gd", "Tb", "Dy", "Ho", "Er", "Tm", "Yb",
	"Lu", "Hf", "Ta", "W", "Re", "Os", "Ir", "Pt", "Au", "Hg",
	"Tl", "Pb", "Bi", "Po", "At", "Rn", "Fr", "Ra", "Ac", "Th",
	"Pa", "U", "Np", "Pu", "Am", "Cm", "Bk", "Cf", "Es", "Fm",
	"Md", "No", "Lr", "Rf", "Db", "Sg", "Bh", "Hs", "Mt", "Ds",
	"Rg", "Cn", "Nh", "Fl", "Mc", "Lv", "Ts", "Og",
}

// ElementSymbol returns the chemical symbol of atomic number z, or z itself
// in decimal when it is not a known element.
func ElementSymbol(z int) string {
	if z <= 0 || z >= len(elementSymbols) {
		return strconv.Itoa(z)
	}

	return elementSymbols[z]
}

// AtomicNumber returns the atomic number of a chemical symbol.
func AtomicNumber(symbol string) (int, bool) {
	for z := 1; z < len(elementSymbols); z++ {
		if elementSymbols[z] == symbol {
			return z, true
		}
	}

	return 0, false
}
