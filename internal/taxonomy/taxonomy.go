// Package taxonomy holds the static translation and categorization
// tables for economic event names.
//
// Translation is table-driven and not idempotent: translating an
// already-translated string is undefined. Callers translate the scraped
// original exactly once, at ingestion.
package taxonomy

import (
	"regexp"
	"sort"
	"strings"
)

// translations maps source terms to display terms. Matching is
// case-insensitive and word-boundary-safe; longer terms are substituted
// before their sub-terms so "Consumer Price Index" never loses to "Index".
var translations = map[string]string{
	// General indicators
	"GDP":                      "PIB",
	"Gross Domestic Product":   "Producto Interno Bruto",
	"CPI":                      "IPC",
	"Consumer Price Index":     "Índice de Precios al Consumidor",
	"PPI":                      "IPP",
	"Producer Price Index":     "Índice de Precios al Productor",
	"Unemployment Rate":        "Tasa de Desempleo",
	"Jobless Claims":           "Solicitudes de Desempleo",
	"Non-Farm Payrolls":        "Nóminas No Agrícolas",
	"Retail Sales":             "Ventas Minoristas",
	"Industrial Production":    "Producción Industrial",
	"Manufacturing":            "Manufactura",
	"PMI":                      "PMI",
	"Purchasing Managers Index": "Índice de Gerentes de Compras",
	"Trade Balance":            "Balanza Comercial",
	"Current Account":          "Cuenta Corriente",
	"Budget":                   "Presupuesto",
	"Deficit":                  "Déficit",
	"Surplus":                  "Superávit",

	// Central banks and rates
	"Interest Rate":         "Tasa de Interés",
	"Fed":                   "Fed",
	"Federal Reserve":       "Reserva Federal",
	"ECB":                   "BCE",
	"European Central Bank": "Banco Central Europeo",
	"Bank of Canada":        "Banco de Canada",
	"Bank of England":       "Banco de Inglaterra",
	"Bank of Japan":         "Banco de Japón",
	"FOMC":                  "FOMC",
	"Monetary Policy":       "Política Monetaria",
	"Rate Decision":         "Decisión de Tasas",
	"Meeting Minutes":       "Actas de Reunión",
	"Speech":                "Discurso",
	"Press Conference":      "Conferencia de Prensa",

	// Housing and construction
	"Building Permits":     "Permisos de Construcción",
	"Housing Starts":       "Inicio de Viviendas",
	"Existing Home Sales":  "Ventas de Viviendas Existentes",
	"New Home Sales":       "Ventas de Viviendas Nuevas",
	"Home Sales":           "Ventas de Viviendas",
	"Housing Price Index":  "Índice de Precios de Vivienda",
	"Mortgage":             "Hipoteca",
	"Mortgages":            "Hipotecas",

	// Confidence and sentiment
	"Consumer Confidence": "Confianza del Consumidor",
	"Business Confidence": "Confianza Empresarial",
	"Sentiment":           "Sentimiento",
	"Survey":              "Encuesta",

	// Qualifiers
	"Preliminary":          "Preliminar",
	"Final":                "Final",
	"Revised":              "Revisado",
	"Flash":                "Flash",
	"YoY":                  "Anual",
	"MoM":                  "Mensual",
	"QoQ":                  "Trimestral",
	"Annual":               "Anual",
	"Monthly":              "Mensual",
	"Quarterly":            "Trimestral",
	"Change":               "Cambio",
	"Growth":               "Crecimiento",
	"Index":                "Índice",
	"Report":               "Reporte",
	"Data":                 "Datos",
	"Forecast":             "Pronóstico",
	"Core":                 "Subyacente",
	"Inflation":            "Inflación",
	"Exports":              "Exportaciones",
	"Imports":              "Importaciones",
	"Sales":                "Ventas",
	"Orders":               "Pedidos",
	"Inventories":          "Inventarios",
	"Production":           "Producción",
	"Capacity Utilization": "Utilización de Capacidad",

	// Markets and finance
	"Bill":      "Bono",
	"Bills":     "Bonos",
	"Auction":   "Subasta",
	"Auctions":  "Subastas",
	"Treasury":  "Tesoro",
	"Bond":      "Bono",
	"Bonds":     "Bonos",
	"Note":      "Nota",
	"Notes":     "Notas",
	"Yield":     "Rendimiento",
	"Yields":    "Rendimientos",
	"Debt":      "Deuda",
	"Business":  "Empresarial",
	"Optimism":  "Optimismo",
	"Average":   "Promedio",
	"Earnings":  "Ganancias",
	"Income":    "Ingreso",
	"Spending":  "Gasto",
	"Investment": "Inversión",
	"Consumer":  "Consumidor",
	"Services":  "Servicios",
	"Construction": "Construcción",
	"Energy":    "Energía",
	"Credit":    "Crédito",
	"Loan":      "Préstamo",
	"Loans":     "Préstamos",
	"Balance":   "Saldo",
	"Reserve":   "Reserva",
	"Reserves":  "Reservas",
	"Currency":  "Moneda",
	"Foreign":   "Extranjero",
	"Domestic":  "Doméstico",
	"National":  "Nacional",
	"Price":     "Precio",
	"Prices":    "Precios",

	// Employment
	"Employment":     "Empleo",
	"Payrolls":       "Nóminas",
	"Payroll":        "Nómina",
	"Claimant Count": "Conteo de Solicitantes",
	"Claimant":       "Solicitante",
	"Jobs":           "Empleos",
	"Wages":          "Salarios",
	"Wage":           "Salario",
}

// substitution is a compiled translation rule.
type substitution struct {
	re   *regexp.Regexp
	repl string
}

// substitutions is ordered longest-source-first so multi-word terms win
// over their fragments.
var substitutions = compileSubstitutions()

func compileSubstitutions() []substitution {
	terms := make([]string, 0, len(translations))
	for term := range translations {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if len(terms[i]) != len(terms[j]) {
			return len(terms[i]) > len(terms[j])
		}
		return terms[i] < terms[j]
	})

	subs := make([]substitution, 0, len(terms))
	for _, term := range terms {
		subs = append(subs, substitution{
			re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`),
			repl: translations[term],
		})
	}
	return subs
}

// Translate applies the term substitutions to an event name. Word
// boundaries keep short codes from firing inside longer tokens (a "CPI"
// rule must not rewrite "ICPIX").
func Translate(name string) string {
	out := name
	for _, sub := range substitutions {
		out = sub.re.ReplaceAllString(out, sub.repl)
	}
	return strings.TrimSpace(out)
}

// categoryOrder fixes the iteration order so the stored primary category
// (the first match) is deterministic.
var categoryOrder = []string{
	"employment",
	"inflation",
	"monetary",
	"manufacturing",
	"services",
	"trade",
	"gdp",
	"energy",
	"confidence",
}

// categoryKeywords lists lowercase substrings per category, in both the
// source site's language and English so either feed shape categorizes.
var categoryKeywords = map[string][]string{
	"employment": {
		"employment", "unemployment", "jobless", "payroll", "jobs", "labor", "wage", "earnings", "nfp",
		"empleo", "desempleo", "nómina", "trabajo", "laboral", "salario", "ganancias", "sueldo",
		"claimant", "solicitante", "desempleados",
	},
	"inflation": {
		"cpi", "ppi", "inflation", "price index", "prices", "rpi", "core",
		"inflación", "precios", "ipc", "ipp", "índice de precios", "harmonised", "harmonizado",
		"consumer price", "producer price", "precio consumidor", "precio productor",
	},
	"monetary": {
		"interest rate", "fed", "fomc", "central bank", "monetary policy", "ecb", "boc", "boe", "boj", "rba", "rbnz",
		"tasa de interés", "política monetaria", "banco central", "bdi", "bdc", "bde",
		"speech", "discurso", "minutes", "actas", "decision", "decisión",
		"bond", "bill", "note", "auction", "bono", "letra", "subasta", "treasury", "tesoro",
		"yield", "rendimiento", "debt", "deuda",
	},
	"manufacturing": {
		"manufacturing", "pmi", "industrial production", "factory", "orders", "output",
		"manufactura", "producción industrial", "fábrica", "órdenes", "pedidos", "producción",
		"industrial", "factory orders", "pedidos industriales",
	},
	"services": {
		"services", "retail sales", "consumer spending", "consumption",
		"servicios", "ventas minoristas", "gasto del consumidor", "consumo", "ventas",
		"sales", "spending", "gastos", "construction", "construcción", "building", "permits",
		"permisos", "vivienda", "housing",
	},
	"trade": {
		"trade", "export", "import", "balance", "current account", "goods",
		"comercio", "exportación", "importación", "balanza", "cuenta corriente", "bienes",
		"trade balance", "balanza comercial", "customs", "aduana",
	},
	"gdp": {
		"gdp", "gross domestic", "economic growth", "growth rate",
		"pib", "producto interno", "producto bruto", "crecimiento económico", "crecimiento",
	},
	"energy": {
		"oil", "energy", "crude", "natural gas", "petroleum", "eia", "opec",
		"petróleo", "energía", "crudo", "gas", "inventories", "inventarios", "stocks",
	},
	"confidence": {
		"confidence", "sentiment", "survey", "outlook", "expectations", "index", "optimism",
		"confianza", "sentimiento", "encuesta", "perspectivas", "expectativas", "índice", "optimismo",
		"business", "consumer", "negocios", "consumidor", "empresarial", "zew", "ifo", "nfib",
	},
}

// Categories returns all category names in canonical order.
func Categories() []string {
	out := make([]string, len(categoryOrder))
	copy(out, categoryOrder)
	return out
}

// Categorize returns every category whose keyword list matches the event
// name, in canonical order. An event can match zero, one, or several
// categories; callers store the first as the primary.
func Categorize(name string) []string {
	lower := strings.ToLower(name)

	var matched []string
	for _, category := range categoryOrder {
		for _, keyword := range categoryKeywords[category] {
			if strings.Contains(lower, keyword) {
				matched = append(matched, category)
				break
			}
		}
	}
	return matched
}

// PrimaryCategory returns the first matching category or "" if none.
func PrimaryCategory(name string) string {
	if cats := Categorize(name); len(cats) > 0 {
		return cats[0]
	}
	return ""
}
