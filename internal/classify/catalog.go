package classify

import "sort"

// LabelInfo describes how to dispose of one class of waste
type LabelInfo struct {
	Label       string `json:"label"`
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
	Disposal    string `json:"disposal"`
	Tips        string `json:"tips"`
	Fact        string `json:"fact"`
	Color       string `json:"color"`
	Points      int    `json:"points"`
}

// DefaultPoints is awarded for labels missing from the catalog
const DefaultPoints = 5

var catalog = map[string]LabelInfo{
	"plastic": {
		Label:       "plastic",
		DisplayName: "Plastik",
		Category:    "Anorganik - Plastik",
		Disposal:    "Dapat didaur ulang",
		Tips:        "Bersihkan dari sisa makanan sebelum dibuang ke tempat sampah plastik",
		Fact:        "Botol plastik PET dapat didaur ulang menjadi benang poliester untuk pakaian",
		Color:       "#3B82F6",
		Points:      10,
	},
	"metal": {
		Label:       "metal",
		DisplayName: "Logam",
		Category:    "Anorganik - Logam",
		Disposal:    "Sangat mudah didaur ulang",
		Tips:        "Pisahkan tutup dan label, bersihkan dari sisa makanan",
		Fact:        "Aluminium dapat didaur ulang tanpa batas dan menghemat 95% energi dibanding produksi baru",
		Color:       "#6B7280",
		Points:      15,
	},
	"paper": {
		Label:       "paper",
		DisplayName: "Kertas",
		Category:    "Organik - Kertas",
		Disposal:    "Dapat didaur ulang",
		Tips:        "Pastikan kertas kering dan bersih dari makanan/minyak",
		Fact:        "Satu ton kertas daur ulang dapat menyelamatkan 17 pohon dewasa",
		Color:       "#10B981",
		Points:      8,
	},
	"cardboard": {
		Label:       "cardboard",
		DisplayName: "Kardus",
		Category:    "Organik - Kardus/Karton",
		Disposal:    "Mudah didaur ulang",
		Tips:        "Lipat dan ratakan kardus, lepaskan selotip dan stapler",
		Fact:        "Kardus dapat didaur ulang hingga 7 kali sebelum seratnya terlalu pendek",
		Color:       "#F59E0B",
		Points:      12,
	},
	"glass": {
		Label:       "glass",
		DisplayName: "Kaca",
		Category:    "Anorganik - Kaca",
		Disposal:    "Sangat mudah didaur ulang",
		Tips:        "Pisahkan berdasarkan warna, bersihkan dari tutup dan label",
		Fact:        "Kaca dapat didaur ulang tanpa batas tanpa kehilangan kualitas",
		Color:       "#06B6D4",
		Points:      15,
	},
	"trash": {
		Label:       "trash",
		DisplayName: "Sampah",
		Category:    "Sampah Residu",
		Disposal:    "Tidak dapat didaur ulang",
		Tips:        "Buang ke tempat sampah umum, kurangi penggunaan produk sekali pakai",
		Fact:        "Sampah residu akan dibuang ke TPA atau dibakar di insinerator",
		Color:       "#EF4444",
		Points:      5,
	},
}

// Lookup returns catalog details for label. Unknown labels get a generic
// entry that keeps the label as given.
func Lookup(label string) LabelInfo {
	if info, ok := catalog[label]; ok {
		return info
	}
	return LabelInfo{
		Label:       label,
		DisplayName: label,
		Category:    "Tidak diketahui",
		Disposal:    "Tidak dapat ditentukan",
		Tips:        "Konsultasikan dengan petugas kebersihan",
		Fact:        "Klasifikasi tidak dapat ditentukan",
		Color:       "#6B7280",
		Points:      DefaultPoints,
	}
}

// Known reports whether label is in the catalog
func Known(label string) bool {
	_, ok := catalog[label]
	return ok
}

// Labels returns the known labels in sorted order
func Labels() []string {
	labels := make([]string, 0, len(catalog))
	for l := range catalog {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}
