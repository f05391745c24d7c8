package replenishment

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var summaryPrinter = message.NewPrinter(language.English)

// Summary renders the client notification for a terminal settlement outcome.
func Summary(client Client, outcome Outcome) (subject, body string) {
	order := outcome.Order
	if order == nil {
		return "", ""
	}
	unit, err := currency.ParseISO(order.Currency)
	if err != nil {
		unit = currency.EUR
	}
	money := func(d decimal.Decimal) string {
		return summaryPrinter.Sprint(currency.Symbol(unit.Amount(d.InexactFloat64())))
	}

	var b strings.Builder
	name := client.Name
	if name == "" {
		name = "customer"
	}
	summaryPrinter.Fprintf(&b, "Hello %s,\n\n", name)
	switch outcome.Kind {
	case OutcomePaid:
		subject = summaryPrinter.Sprintf("Order %s confirmed", order.OrderNumber)
		b.WriteString("Your automatic replenishment order was placed and paid.\n\n")
	default:
		subject = summaryPrinter.Sprintf("Order %s could not be paid", order.OrderNumber)
		b.WriteString("Your automatic replenishment order was created but the payment did not go through.\n\n")
	}
	summaryPrinter.Fprintf(&b, "Order: %s\n", order.OrderNumber)
	for _, line := range order.Lines {
		summaryPrinter.Fprintf(&b, "  - %s x %v @ %s = %s\n", line.ProductName, line.Quantity, money(line.UnitPrice), money(line.LineTotal))
	}
	summaryPrinter.Fprintf(&b, "Total: %s\n", money(order.TotalAmount))
	if outcome.Kind == OutcomeFailed && outcome.Message != "" {
		summaryPrinter.Fprintf(&b, "\nReason: %s\n", outcome.Message)
		b.WriteString("Please update your payment method or contact support.\n")
	}
	return subject, b.String()
}
