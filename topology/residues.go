package topology

// Residue-name sets used to classify system composition, following the
// Amber reference manual (water models §3.6, ions §3.7, lipids table 3.9).

var waterResidues = set(
	"WAT", "HOH", "SOL",
	"TIP3", "TP3", "TIP3P",
	"TIP4", "T4P", "TIP4P", "T4E",
	"TIP5", "T5P", "TIP5P",
	"SPC", "SPCE", "SPC/E",
	"OPC", "OPC3", "OL3",
	"POL3", "QSP", "F3C",
)

var organicSolventResidues = set(
	"MEOH", "CHCL3", "NMA", "UREA", "ETH", "MOL",
)

var proteinResidues = set(
	"ALA", "ARG", "ASN", "ASP", "CYS", "GLN", "GLU", "GLY", "HIS", "ILE",
	"LEU", "LYS", "MET", "PHE", "PRO", "SER", "THR", "TRP", "TYR", "VAL",
	// protonation states, caps, chromophores
	"HIE", "HID", "HIP", "CYX", "CYM", "ASH", "GLH", "LYN", "ARN",
	"ACE", "NME", "NHE", "NH2", "CH3",
	"CRO", "CR2", "CRF", "CRQ", "CH6",
)

var dnaResidues = set(
	"DA", "DC", "DG", "DT",
	"DA5", "DC5", "DG5", "DT5",
	"DA3", "DC3", "DG3", "DT3",
)

var rnaResidues = set(
	"A", "C", "G", "U",
	"A5", "C5", "G5", "U5",
	"A3", "C3", "G3", "U3",
	"RA", "RC", "RG", "RU",
)

var lipidResidues = set(
	// tails
	"LAL", "MY", "PA", "SA", "OL", "ST", "AR", "DHA",
	// heads
	"PC", "PE", "PS", "PGR", "PGS", "PH", "SPM",
	// whole-lipid names
	"CHL", "CHOL", "POPC", "POPE", "DOPC", "DPPC",
)

var ionResidues = set(
	"Li+", "Na+", "K+", "Rb+", "Cs+",
	"F-", "Cl-", "Br-", "I-",
	"Mg+", "Mg2+", "Ca2+", "Zn2+",
	"Ba2+", "Sr2+", "Fe2+", "Mn2+",
	"Co2+", "Ni2+", "Cu2+", "Cd2+",
	"Fe3+", "Cr3+", "Al3+",
)

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// isProtein also accepts 4-character termini-capped variants (NALA, CALA).
func isProtein(res string) bool {
	if proteinResidues[res] {
		return true
	}
	return len(res) == 4 && proteinResidues[res[1:]]
}
