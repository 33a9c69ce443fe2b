package phonemask

// Format is a mask family shared by several countries.
type Format string

const (
	FormatRussia       Format = "russia"
	FormatNorthAmerica Format = "north-america"
	FormatStandard     Format = "standard"
)

// Masks maps a format family to its pattern. '9' is a digit slot, every
// other rune is a literal.
var Masks = map[Format]string{
	FormatRussia:       "+9 (999) 999-99-99",
	FormatNorthAmerica: "+99 (999) 999-9999",
	FormatStandard:     "+999 99-999-9999",
}

// Country describes a dialing code and its mask family.
type Country struct {
	Code    string
	Country string
	Format  Format
	Name    string
}

// Countries is keyed by the numeric dialing code.
var Countries = map[int]Country{
	1:   {Code: "+1", Country: "us", Format: FormatNorthAmerica, Name: "USA, Canada"},
	7:   {Code: "+7", Country: "ru", Format: FormatRussia, Name: "Russia, Kazakhstan"},
	33:  {Code: "+33", Country: "fr", Format: FormatStandard, Name: "France"},
	34:  {Code: "+34", Country: "es", Format: FormatStandard, Name: "Spain"},
	39:  {Code: "+39", Country: "it", Format: FormatStandard, Name: "Italy"},
	44:  {Code: "+44", Country: "gb", Format: FormatNorthAmerica, Name: "United Kingdom"},
	49:  {Code: "+49", Country: "de", Format: FormatStandard, Name: "Germany"},
	81:  {Code: "+81", Country: "jp", Format: FormatStandard, Name: "Japan"},
	86:  {Code: "+86", Country: "cn", Format: FormatStandard, Name: "China"},
	90:  {Code: "+90", Country: "tr", Format: FormatStandard, Name: "Turkey"},
	91:  {Code: "+91", Country: "in", Format: FormatStandard, Name: "India"},
	374: {Code: "+374", Country: "am", Format: FormatStandard, Name: "Armenia"},
	375: {Code: "+375", Country: "by", Format: FormatRussia, Name: "Belarus"},
	380: {Code: "+380", Country: "ua", Format: FormatRussia, Name: "Ukraine"},
	992: {Code: "+992", Country: "tj", Format: FormatStandard, Name: "Tajikistan"},
	994: {Code: "+994", Country: "az", Format: FormatStandard, Name: "Azerbaijan"},
	995: {Code: "+995", Country: "ge", Format: FormatStandard, Name: "Georgia"},
	996: {Code: "+996", Country: "kg", Format: FormatStandard, Name: "Kyrgyzstan"},
	998: {Code: "+998", Country: "uz", Format: FormatStandard, Name: "Uzbekistan"},
}

// DefaultCountry is the active profile.
var DefaultCountry = Countries[7]
