package ledger

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/PaesslerAG/jsonpath"
	"github.com/etnz/ledger/date"
	"github.com/shopspring/decimal"
)

// Profile describes how one bank's export files map onto raw rows. Profiles
// are user-maintained TOML files, one per bank, so that supporting a new
// bank never requires a code change.
type Profile struct {
	Name     string `toml:"name"`
	Account  string `toml:"account"`
	Currency string `toml:"currency"`
	Format   string `toml:"format"` // "csv" or "json"

	CSV  CSVMapping  `toml:"csv"`
	JSON JSONMapping `toml:"json"`
}

// CSVMapping names the header columns carrying each field of a row.
type CSVMapping struct {
	Comma      string `toml:"comma"`       // field separator, defaults to ","
	DateLayout string `toml:"date_layout"` // Go reference layout, defaults to "2006-01-02"

	Date        string `toml:"date"`
	Amount      string `toml:"amount"`
	Debit       string `toml:"debit"`  // alternative to amount: separate unsigned columns
	Credit      string `toml:"credit"`
	Description string `toml:"description"`
	Reference   string `toml:"reference"`

	// DecimalComma handles exports writing "1.234,56" for 1234.56.
	DecimalComma bool `toml:"decimal_comma"`
}

// JSONMapping extracts rows from a JSON export with JSONPath expressions:
// Rows selects the array of row objects, the field paths evaluate inside
// each row.
type JSONMapping struct {
	Rows       string `toml:"rows"`
	DateLayout string `toml:"date_layout"`

	Date        string `toml:"date"`
	Amount      string `toml:"amount"`
	Description string `toml:"description"`
	Reference   string `toml:"reference"`
}

// LoadProfile reads a bank profile from a TOML file.
func LoadProfile(path string) (*Profile, error) {
	var p Profile
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, fmt.Errorf("cannot load profile %q: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) validate() error {
	if p.Account == "" {
		return invalidf("profile", "account", "is required")
	}
	if p.Currency == "" {
		return invalidf("profile", "currency", "is required")
	}
	switch p.Format {
	case "csv":
		if p.CSV.Date == "" {
			return invalidf("profile", "csv.date", "is required")
		}
		if p.CSV.Amount == "" && (p.CSV.Debit == "" || p.CSV.Credit == "") {
			return invalidf("profile", "csv.amount", "either amount or debit+credit columns are required")
		}
	case "json":
		if p.JSON.Rows == "" {
			return invalidf("profile", "json.rows", "is required")
		}
		if p.JSON.Date == "" || p.JSON.Amount == "" {
			return invalidf("profile", "json.date", "date and amount paths are required")
		}
	default:
		return invalidf("profile", "format", "must be %q or %q, got %q", "csv", "json", p.Format)
	}
	return nil
}

// Parse reads one export file and returns its normalized rows, stamped with
// the given source file name.
func (p *Profile) Parse(r io.Reader, sourceFile string) ([]RawRow, error) {
	switch p.Format {
	case "csv":
		return p.parseCSV(r, sourceFile)
	case "json":
		return p.parseJSON(r, sourceFile)
	default:
		return nil, invalidf("profile", "format", "must be %q or %q, got %q", "csv", "json", p.Format)
	}
}

func (p *Profile) parseCSV(r io.Reader, sourceFile string) ([]RawRow, error) {
	cr := csv.NewReader(r)
	if p.CSV.Comma != "" {
		cr.Comma = rune(p.CSV.Comma[0])
	}
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("cannot read header of %q: %w", sourceFile, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	field := func(record []string, name string) (string, error) {
		if name == "" {
			return "", nil
		}
		i, ok := col[name]
		if !ok {
			return "", invalidf("profile", "csv", "column %q not found in %q", name, sourceFile)
		}
		return strings.TrimSpace(record[i]), nil
	}

	var rows []RawRow
	for {
		record, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("cannot read %q: %w", sourceFile, err)
		}
		row := RawRow{Account: p.Account, Currency: p.Currency, SourceFile: sourceFile}

		day, err := field(record, p.CSV.Date)
		if err != nil {
			return nil, err
		}
		if row.Date, err = p.parseDate(day, p.CSV.DateLayout); err != nil {
			return nil, err
		}
		if row.Description, err = field(record, p.CSV.Description); err != nil {
			return nil, err
		}
		if row.Reference, err = field(record, p.CSV.Reference); err != nil {
			return nil, err
		}
		if row.Amount, err = p.csvAmount(record, field); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

// csvAmount reads the signed amount, either from a single column or from
// unsigned debit/credit columns.
func (p *Profile) csvAmount(record []string, field func([]string, string) (string, error)) (decimal.Decimal, error) {
	if p.CSV.Amount != "" {
		s, err := field(record, p.CSV.Amount)
		if err != nil {
			return decimal.Zero, err
		}
		return p.parseAmount(s)
	}
	debit, err := field(record, p.CSV.Debit)
	if err != nil {
		return decimal.Zero, err
	}
	credit, err := field(record, p.CSV.Credit)
	if err != nil {
		return decimal.Zero, err
	}
	if debit != "" {
		d, err := p.parseAmount(debit)
		if err != nil {
			return decimal.Zero, err
		}
		return d.Abs().Neg(), nil
	}
	c, err := p.parseAmount(credit)
	if err != nil {
		return decimal.Zero, err
	}
	return c.Abs(), nil
}

func (p *Profile) parseAmount(s string) (decimal.Decimal, error) {
	if p.CSV.DecimalComma {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	s = strings.ReplaceAll(s, " ", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, invalidf("profile", "amount", "cannot parse %q: %v", s, err)
	}
	return d, nil
}

func (p *Profile) parseDate(s, layout string) (date.Date, error) {
	if layout == "" || layout == date.DateFormat {
		return date.Parse(s)
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return date.Date{}, invalidf("profile", "date", "cannot parse %q with layout %q: %v", s, layout, err)
	}
	return date.New(t.Date()), nil
}

func (p *Profile) parseJSON(r io.Reader, sourceFile string) ([]RawRow, error) {
	var doc any
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("cannot decode %q: %w", sourceFile, err)
	}
	raw, err := jsonpath.Get(p.JSON.Rows, doc)
	if err != nil {
		return nil, invalidf("profile", "json.rows", "path %q failed on %q: %v", p.JSON.Rows, sourceFile, err)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, invalidf("profile", "json.rows", "path %q does not select an array in %q", p.JSON.Rows, sourceFile)
	}

	var rows []RawRow
	for _, item := range items {
		row := RawRow{Account: p.Account, Currency: p.Currency, SourceFile: sourceFile}

		day, err := jsonString(item, p.JSON.Date)
		if err != nil {
			return nil, err
		}
		if row.Date, err = p.parseDate(day, p.JSON.DateLayout); err != nil {
			return nil, err
		}
		amount, err := jsonString(item, p.JSON.Amount)
		if err != nil {
			return nil, err
		}
		if row.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, invalidf("profile", "json.amount", "cannot parse %q: %v", amount, err)
		}
		if p.JSON.Description != "" {
			if row.Description, err = jsonString(item, p.JSON.Description); err != nil {
				return nil, err
			}
		}
		if p.JSON.Reference != "" {
			if row.Reference, err = jsonString(item, p.JSON.Reference); err != nil {
				return nil, err
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// jsonString evaluates a path inside one row object and renders the result
// as a string, accepting the number/string ambiguity of bank exports.
func jsonString(item any, path string) (string, error) {
	v, err := jsonpath.Get(path, item)
	if err != nil {
		return "", invalidf("profile", "json", "path %q failed: %v", path, err)
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), nil
	case float64:
		return decimal.NewFromFloat(x).String(), nil
	case json.Number:
		return x.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}
