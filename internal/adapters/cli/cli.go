// Package cli runs one-shot shop-floor commands against the application
// service, for the counter terminal and for ops scripts.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"smartmarket/internal/app"
	"smartmarket/internal/core"

	"github.com/shopspring/decimal"
)

// ErrUsage is returned for an unknown command or missing arguments.
var ErrUsage = errors.New("usage")

const usage = `commands:
  materials                          list materials and stock
  low-stock                          list materials at or below reorder level
  movements [material_id]            latest stock movements
  verify [material_id]               replay the ledger and report drift
  quote <id>                         show a quote with items
  approve <quote_id> [YYYY-MM-DD]    approve a draft quote
  order <id>                         show an order, work orders and invoice
  status <order_id> <status>         move an order to design|pending|ready|delivered|cancelled
  invoices [unpaid|partial|paid]     list invoices
  invoice <id>                       show an invoice with payments
  pay <invoice_id> <amount> <method> [reference]
  check <payment_id>                 poll the gateway for a pending payment
  refund <payment_id> <reason...>`

// Run executes args[0] with the remaining args. user is recorded as the
// acting user on writes.
func Run(ctx context.Context, svc app.ApplicationService, args []string, user string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w\n%s", ErrUsage, usage)
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "materials", "mat":
		res, err := svc.ListMaterials(ctx)
		if err != nil {
			return err
		}
		printMaterials(out, "MATERIALS", res.Materials)

	case "low-stock", "low":
		res, err := svc.ListLowStock(ctx)
		if err != nil {
			return err
		}
		printMaterials(out, "LOW STOCK", res.Materials)

	case "movements", "mv":
		req := app.ListMovementsRequest{PageSize: 20}
		if len(rest) > 0 {
			id, err := intArg(rest[0], "material_id")
			if err != nil {
				return err
			}
			req.MaterialID = &id
		}
		page, err := svc.ListMovements(ctx, req)
		if err != nil {
			return err
		}
		printMovements(out, page)

	case "verify":
		var id *int
		if len(rest) > 0 {
			n, err := intArg(rest[0], "material_id")
			if err != nil {
				return err
			}
			id = &n
		}
		res, err := svc.VerifyStock(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d material(s) checked, %d drifted\n", res.Checked, len(res.Drifted))
		for _, d := range res.Drifted {
			fmt.Fprintf(out, "  #%d %s: cached %s, ledger %s\n", d.MaterialID, d.Material, d.Cached, d.Replayed)
		}

	case "quote", "q":
		id, err := need(rest, 1, "quote <id>")
		if err != nil {
			return err
		}
		q, err := svc.GetQuote(ctx, id[0])
		if err != nil {
			return err
		}
		return printJSON(out, q)

	case "approve":
		id, err := need(rest, 1, "approve <quote_id> [YYYY-MM-DD]")
		if err != nil {
			return err
		}
		req := app.ApproveQuoteRequest{QuoteID: id[0], UserID: user}
		if len(rest) > 1 {
			due, err := time.Parse("2006-01-02", rest[1])
			if err != nil {
				return fmt.Errorf("%w: due date must be YYYY-MM-DD", ErrUsage)
			}
			req.DueDate = &due
		}
		res, err := svc.ApproveQuote(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Quote #%d approved: order #%d, work order #%d, %d stock issue(s)\n",
			res.Quote.ID, res.Order.ID, res.WorkOrder.ID, len(res.Movements))

	case "order", "o":
		id, err := need(rest, 1, "order <id>")
		if err != nil {
			return err
		}
		res, err := svc.GetOrder(ctx, id[0])
		if err != nil {
			return err
		}
		return printJSON(out, res)

	case "status":
		if len(rest) < 2 {
			return fmt.Errorf("%w: status <order_id> <status>", ErrUsage)
		}
		id, err := intArg(rest[0], "order_id")
		if err != nil {
			return err
		}
		res, err := svc.UpdateOrderStatus(ctx, app.UpdateOrderStatusRequest{OrderID: id, Status: rest[1], UserID: user})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Order #%d is now %s\n", res.Order.ID, res.Order.Status)
		if res.Invoice != nil {
			fmt.Fprintf(out, "Invoice #%d: %s (%s)\n", res.Invoice.ID, res.Invoice.Amount.StringFixed(2), res.Invoice.Status)
		}

	case "invoices", "inv":
		status := ""
		if len(rest) > 0 {
			status = rest[0]
		}
		res, err := svc.ListInvoices(ctx, status)
		if err != nil {
			return err
		}
		printInvoices(out, res.Invoices)

	case "invoice":
		id, err := need(rest, 1, "invoice <id>")
		if err != nil {
			return err
		}
		res, err := svc.GetInvoice(ctx, id[0])
		if err != nil {
			return err
		}
		return printJSON(out, res)

	case "pay":
		if len(rest) < 3 {
			return fmt.Errorf("%w: pay <invoice_id> <amount> <method> [reference]", ErrUsage)
		}
		id, err := intArg(rest[0], "invoice_id")
		if err != nil {
			return err
		}
		amount, err := decimal.NewFromString(rest[1])
		if err != nil {
			return fmt.Errorf("%w: amount %q is not a number", ErrUsage, rest[1])
		}
		req := app.RecordPaymentRequest{InvoiceID: id, Amount: amount, Method: rest[2], UserID: user}
		if len(rest) > 3 {
			req.Reference = rest[3]
		}
		res, err := svc.RecordPayment(ctx, req)
		if err != nil {
			return err
		}
		printPayment(out, res)

	case "check":
		id, err := need(rest, 1, "check <payment_id>")
		if err != nil {
			return err
		}
		res, err := svc.CheckPaymentStatus(ctx, id[0])
		if err != nil {
			return err
		}
		printPayment(out, res)

	case "refund":
		if len(rest) < 2 {
			return fmt.Errorf("%w: refund <payment_id> <reason...>", ErrUsage)
		}
		id, err := intArg(rest[0], "payment_id")
		if err != nil {
			return err
		}
		res, err := svc.RefundPayment(ctx, app.RefundPaymentRequest{PaymentID: id, Reason: strings.Join(rest[1:], " ")})
		if err != nil {
			return err
		}
		printPayment(out, res)

	default:
		return fmt.Errorf("%w: unknown command %q\n%s", ErrUsage, cmd, usage)
	}
	return nil
}

func intArg(s, name string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrUsage, name, s)
	}
	return n, nil
}

func need(args []string, n int, form string) ([]int, error) {
	if len(args) < n {
		return nil, fmt.Errorf("%w: %s", ErrUsage, form)
	}
	ids := make([]int, n)
	for i := 0; i < n; i++ {
		id, err := intArg(args[i], "id")
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printMaterials(out io.Writer, title string, materials []core.Material) {
	fmt.Fprintln(out, strings.Repeat("=", 72))
	fmt.Fprintf(out, "  %s\n", title)
	fmt.Fprintln(out, strings.Repeat("=", 72))
	fmt.Fprintf(out, "  %-5s %-30s %-8s %12s %12s\n", "ID", "NAME", "UNIT", "STOCK", "REORDER")
	fmt.Fprintln(out, strings.Repeat("-", 72))
	for _, m := range materials {
		flag := ""
		if m.LowStock() {
			flag = " !"
		}
		fmt.Fprintf(out, "  %-5d %-30s %-8s %12s %12s%s\n",
			m.ID, m.Name, m.Unit, m.CurrentStock.String(), m.ReorderLevel.String(), flag)
	}
	fmt.Fprintln(out, strings.Repeat("=", 72))
}

func printMovements(out io.Writer, page *core.MovementPage) {
	fmt.Fprintf(out, "  %-6s %-16s %-5s %-10s %10s %10s  %s\n", "ID", "WHEN", "MAT", "TYPE", "QTY", "AFTER", "REFERENCE")
	fmt.Fprintln(out, strings.Repeat("-", 80))
	for _, mv := range page.Movements {
		fmt.Fprintf(out, "  %-6d %-16s %-5d %-10s %10s %10s  %s\n",
			mv.ID, mv.CreatedAt.Format("2006-01-02 15:04"), mv.MaterialID, mv.Type,
			mv.Quantity.String(), mv.StockAfter.String(), mv.Reference)
	}
	fmt.Fprintf(out, "  %d of %d movement(s)\n", len(page.Movements), page.Total)
}

func printInvoices(out io.Writer, invoices []core.Invoice) {
	fmt.Fprintf(out, "  %-6s %-6s %14s %14s  %s\n", "ID", "ORDER", "AMOUNT", "PAID", "STATUS")
	fmt.Fprintln(out, strings.Repeat("-", 56))
	for _, inv := range invoices {
		fmt.Fprintf(out, "  %-6d %-6d %14s %14s  %s\n",
			inv.ID, inv.OrderID, inv.Amount.StringFixed(2), inv.Paid.StringFixed(2), inv.Status)
	}
}

func printPayment(out io.Writer, res *core.PaymentResult) {
	p := res.Payment
	fmt.Fprintf(out, "Payment #%d %s %s: %s\n", p.ID, p.Method, p.Amount.StringFixed(2), p.Status)
	if res.Invoice != nil {
		fmt.Fprintf(out, "Invoice #%d: paid %s of %s (%s)\n",
			res.Invoice.ID, res.Invoice.Paid.StringFixed(2), res.Invoice.Amount.StringFixed(2), res.Invoice.Status)
	}
}
