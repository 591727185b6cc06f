// Package renderer formats ledger query results as markdown reports.
package renderer

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"text/template"

	"github.com/etnz/ledger"
	"github.com/shopspring/decimal"
)

//go:embed templates/*.md
var templates embed.FS

// TransactionsReport is the data rendered by the transactions report.
// Totals carries one sum per currency: amounts in different currencies are
// never added together.
type TransactionsReport struct {
	Title  string
	Rows   []ledger.TransactionRow
	Totals []ledger.Money
}

// BudgetsReport is the data rendered by the budgets report.
type BudgetsReport struct {
	AsOf string
	Rows []ledger.BudgetRow
}

// LinksReport is the data rendered by the transfer links report.
type LinksReport struct {
	Links     []ledger.TransferLink
	Ambiguous []ledger.TransferMatchAmbiguity
}

// RenderTransactions renders a transaction listing to a markdown string.
func RenderTransactions(r *TransactionsReport) string {
	return renderTemplate("transactions", "templates/transactions.md", nil, r)
}

// TotalsByCurrency sums the rows into one total per currency, ordered by
// currency code.
func TotalsByCurrency(rows []ledger.TransactionRow) []ledger.Money {
	sums := make(map[string]decimal.Decimal)
	for _, r := range rows {
		sums[r.Currency] = sums[r.Currency].Add(r.Amount)
	}
	currencies := make([]string, 0, len(sums))
	for c := range sums {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	totals := make([]ledger.Money, 0, len(currencies))
	for _, c := range currencies {
		totals = append(totals, ledger.M(sums[c], c))
	}
	return totals
}

// RenderBudgets renders the budgets in force to a markdown string.
func RenderBudgets(r *BudgetsReport) string {
	return renderTemplate("budgets", "templates/budgets.md", nil, r)
}

// RenderLinks renders detected transfer links to a markdown string.
func RenderLinks(r *LinksReport) string {
	partials := map[string]string{
		"links_ambiguous": "templates/links_ambiguous.md",
	}
	return renderTemplate("links", "templates/links.md", partials, r)
}

// renderTemplate is a generic utility to render a main template that depends on several partials.
func renderTemplate(templateName, mainFile string, partials map[string]string, data any) string {
	mainContent, err := fs.ReadFile(templates, mainFile)
	if err != nil {
		return fmt.Sprintf("error reading main template %q: %v", mainFile, err)
	}

	tmpl, err := template.New(templateName).Funcs(funcs).Parse(string(mainContent))
	if err != nil {
		return fmt.Sprintf("error parsing main template %q: %v", mainFile, err)
	}

	for name, file := range partials {
		var content []byte
		// An empty file name is a valid case, resulting in an empty template.
		if file != "" {
			var readErr error
			content, readErr = fs.ReadFile(templates, file)
			if readErr != nil {
				return fmt.Sprintf("error reading partial template %q: %v", file, readErr)
			}
		}
		if _, err := tmpl.New(name).Parse(string(content)); err != nil {
			return fmt.Sprintf("error parsing partial template %q for %q: %v", file, name, err)
		}
	}

	var b strings.Builder
	if err := tmpl.ExecuteTemplate(&b, templateName, data); err != nil {
		return fmt.Sprintf("error executing template %q: %v", templateName, err)
	}
	return b.String()
}

var funcs = template.FuncMap{
	// short truncates long bank descriptions for table cells.
	"short": func(s string) string {
		if len(s) > 40 {
			return s[:37] + "..."
		}
		return s
	},
	"mark": func(dup bool) string {
		if dup {
			return "dup"
		}
		return ""
	},
}
