package agent

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
)

var (
	maleFirstNames = []string{
		"Adi", "Agus", "Ahmad", "Andi", "Arif", "Budi", "Dedi", "Eko", "Fajar", "Hadi",
		"Indra", "Joko", "Krisna", "Lukman", "Made", "Putra", "Reza", "Surya", "Taufik", "Yusuf",
	}
	femaleFirstNames = []string{
		"Ayu", "Bella", "Citra", "Dewi", "Eka", "Fitri", "Gita", "Hana", "Indah", "Kartika",
		"Lina", "Maya", "Novi", "Putri", "Rina", "Sari", "Tari", "Wulan", "Yuni", "Zahra",
	}
	familyNames = []string{
		"Wijaya", "Santoso", "Perdana", "Kusuma", "Pratama", "Nugraha", "Permana", "Sutanto",
		"Gunawan", "Setiawan", "Handoko", "Kurniawan", "Hakim", "Rahman", "Wibowo", "Lubis",
	}
)

type countryProfile struct {
	cities      []string
	occupations []string
	education   []string
}

var countries = map[string]countryProfile{
	"Indonesia": {
		cities:      []string{"Jakarta", "Surabaya", "Bandung", "Medan", "Semarang", "Makassar", "Denpasar", "Malang"},
		occupations: []string{"Software Engineer", "Teacher", "Accountant", "Doctor", "Business Analyst"},
		education:   []string{"Bachelor's Degree", "Master's Degree", "Diploma", "PhD"},
	},
	"Malaysia": {
		cities:      []string{"Kuala Lumpur", "Putrajaya", "Johor Bahru", "Penang", "Kota Kinabalu"},
		occupations: []string{"Software Engineer", "Teacher", "Accountant", "Doctor", "Business Analyst"},
		education:   []string{"Bachelor's Degree", "Master's Degree", "PhD", "High School", "Diploma"},
	},
	"Singapore": {
		cities:      []string{"Singapore City", "Jurong", "Tampines", "Woodlands", "Bedok"},
		occupations: []string{"Financial Analyst", "Software Engineer", "Marketing Manager", "Nurse", "Consultant"},
		education:   []string{"Bachelor's Degree", "Master's Degree", "Diploma", "PhD"},
	},
}

// countryNames is the sorted key set of countries, so a seeded generator
// is reproducible.
var countryNames = []string{"Indonesia", "Malaysia", "Singapore"}

var householdTypes = []struct {
	name  string
	sizes []int
}{
	{"Nuclear family", []int{3, 4, 5}},
	{"Single person", []int{1}},
	{"Couple", []int{2}},
	{"Extended family", []int{4, 5, 6, 7}},
	{"Shared housing", []int{2, 3, 4}},
}

func pick[T any](rng *rand.Rand, xs []T) T {
	return xs[rng.IntN(len(xs))]
}

// GeneratePersona draws a random but internally consistent profile:
// education bounds age and shapes occupation, and residence usually
// matches nationality.
func GeneratePersona(rng *rand.Rand) map[string]any {
	country := pick(rng, countryNames)
	info := countries[country]

	age := 22 + rng.IntN(44)
	gender := pick(rng, []string{"Male", "Female"})
	first := pick(rng, maleFirstNames)
	if gender == "Female" {
		first = pick(rng, femaleFirstNames)
	}
	name := first + " " + pick(rng, familyNames)

	education := pick(rng, info.education)
	if education == "Master's Degree" || education == "PhD" {
		age = max(age, 25)
	}

	nationality := country
	if rng.Float64() >= 0.8 {
		nationality = pick(rng, countryNames)
	}

	household := pick(rng, householdTypes)

	occupation := pick(rng, info.occupations)
	switch {
	case education == "High School" && occupation == "Doctor":
		occupation = pick(rng, []string{"Sales Assistant", "Customer Service", "Technician"})
	case education == "PhD" && occupation != "Doctor" && occupation != "Software Engineer":
		occupation = pick(rng, []string{"Research Scientist", "Professor", "Senior Consultant"})
	}

	return map[string]any{
		"name":                 name,
		"age":                  age,
		"gender":               gender,
		"nationality":          nationality,
		"city_of_residence":    pick(rng, info.cities),
		"country_of_residence": country,
		"education":            education,
		"income_level":         pick(rng, []string{"Low", "Medium", "High"}),
		"employment_status":    pick(rng, []string{"Employed", "Self-employed", "Student", "Retired", "Unemployed"}),
		"occupation":           occupation,
		"marital_status":       pick(rng, []string{"Single", "Married", "Divorced", "Widowed", "In a relationship"}),
		"household_size":       pick(rng, household.sizes),
		"household_type":       household.name,
	}
}

// LoadProfilesCSV reads one profile per row, keyed by the header. Empty
// cells are skipped and integer-looking cells become ints.
func LoadProfilesCSV(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profiles: %w", err)
	}
	defer f.Close()
	return ReadProfilesCSV(f)
}

// ReadProfilesCSV is LoadProfilesCSV over a reader.
func ReadProfilesCSV(r io.Reader) ([]map[string]any, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("profiles csv: missing header")
		}
		return nil, fmt.Errorf("profiles csv: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var out []map[string]any
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("profiles csv: %w", err)
		}
		profile := make(map[string]any, len(header))
		for i, cell := range row {
			if i >= len(header) || header[i] == "" || cell == "" {
				continue
			}
			if n, err := strconv.Atoi(cell); err == nil {
				profile[header[i]] = n
				continue
			}
			profile[header[i]] = cell
		}
		out = append(out, profile)
	}
	return out, nil
}
