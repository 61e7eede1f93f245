package settlement

import (
	"bytes"
	"fmt"
	"time"

	model "auction-house/internal/models"

	"github.com/go-pdf/fpdf"
)

const documentContentType = "application/pdf"

// renderDocument lays out the settlement document of a sale.
// seller and winner carry the contact details known at generation time.
func renderDocument(req model.SettlementRequest, seller, winner model.User, issuedAt time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Settlement %s", req.Auction.AuctionID), true)
	pdf.SetCreator("auction-house", true)
	pdf.SetCreationDate(issuedAt)
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, "Settlement", "", 1, "R", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 12)
	line := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(40, 7, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 12)
		pdf.MultiCell(0, 7, tr(value), "", "L", false)
	}

	line("Auction ID", req.Auction.AuctionID)
	line("Item", req.Auction.ItemName)
	if req.Auction.Description != "" {
		line("Description", req.Auction.Description)
	}
	pdf.Ln(4)

	line("Seller", party(seller))
	line("Buyer", party(winner))
	pdf.Ln(4)

	line("Outcome", outcomeLabel(req.Outcome))
	line("Decided at", req.DecidedAt.UTC().Format(time.RFC1123))
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, fmt.Sprintf("Final price: %s", req.FinalPrice.StringFixed(model.MonetaryPrecision)), "T", 1, "L", false, 0, "")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "I", 9)
	pdf.SetTextColor(102, 102, 102)
	pdf.CellFormat(0, 6, fmt.Sprintf("Computer-generated document, issued %s.", issuedAt.UTC().Format(time.RFC3339)), "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("settlement: render document: %w", err)
	}
	return buf.Bytes(), nil
}

func party(u model.User) string {
	if u.Email == "" {
		return u.Handle
	}
	return fmt.Sprintf("%s <%s>", u.Handle, u.Email)
}

func outcomeLabel(kind model.DecisionKind) string {
	switch kind {
	case model.DecisionAccept:
		return "Highest bid accepted"
	case model.DecisionCounterAccepted:
		return "Counter offer accepted"
	default:
		return string(kind)
	}
}
