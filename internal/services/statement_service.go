package services

import (
	"bytes"
	"fmt"
	"time"

	"chatbase_go_backend/internal/models"
	"chatbase_go_backend/internal/utils/credits"

	"github.com/jung-kurt/gofpdf"
)

// StatementService renders a credit statement PDF for download.
type StatementService struct{}

func NewStatementService() *StatementService {
	return &StatementService{}
}

func (s *StatementService) RenderCreditStatement(user *models.User, transactions []models.CreditTransaction) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Credit Statement", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Credit Statement")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Account: %s", user.Email))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().Format("2006-01-02 15:04 MST")))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Available credits: %s", credits.Format(user.AvailableCredits)))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Lifetime credits used: %s", credits.Format(user.UsedCredits)))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(45, 7, "Date", "1", 0, "L", false, 0, "")
	pdf.CellFormat(95, 7, "Operation", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 7, "Amount", "1", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	for _, txn := range transactions {
		pdf.CellFormat(45, 7, txn.Timestamp.Format("2006-01-02 15:04"), "1", 0, "L", false, 0, "")
		pdf.CellFormat(95, 7, txn.Operation, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, credits.Format(txn.Amount), "1", 1, "R", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render statement: %w", err)
	}
	return buf.Bytes(), nil
}
