package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/noah-isme/backend-donasi/internal/donation"
)

// ReceiptRenderer builds the donor receipt email.
type ReceiptRenderer struct {
	OrgName string
}

var receiptTemplate = template.Must(template.New("receipt").Parse(`<p>Dear {{.Name}},</p>
<p>Thank you for your donation of <strong>{{.Currency}} {{.Amount}}</strong> to {{.OrgName}}.</p>
<p>{{.Impact}}.</p>
<table>
<tr><td>Purpose</td><td>{{.Purpose}}</td></tr>
<tr><td>Payment ID</td><td>{{.PaymentID}}</td></tr>
<tr><td>Date</td><td>{{.Date}}</td></tr>
</table>
<p>Please keep this email as your receipt.</p>`))

type receiptView struct {
	Name      string
	Currency  string
	Amount    string
	OrgName   string
	Impact    string
	Purpose   string
	PaymentID string
	Date      string
}

// Render returns the subject and HTML body for rec.
func (r ReceiptRenderer) Render(rec donation.Record) (subject, body string, err error) {
	org := strings.TrimSpace(r.OrgName)
	if org == "" {
		org = "our foundation"
	}
	name := strings.TrimSpace(rec.DonorName)
	if name == "" || rec.IsAnonymous {
		name = "Donor"
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var buf bytes.Buffer
	err = receiptTemplate.Execute(&buf, receiptView{
		Name:      name,
		Currency:  rec.Currency,
		Amount:    groupThousands(rec.Amount),
		OrgName:   org,
		Impact:    donation.ImpactMessage(rec.Amount),
		Purpose:   rec.Purpose,
		PaymentID: rec.TransactionID,
		Date:      created.Format("02 Jan 2006"),
	})
	if err != nil {
		return "", "", fmt.Errorf("render receipt: %w", err)
	}
	return fmt.Sprintf("Donation receipt from %s", org), buf.String(), nil
}

// groupThousands formats 125000 as "1,25,000", the grouping donors expect in INR.
func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	head, tail := s[:len(s)-3], s[len(s)-3:]
	var parts []string
	for len(head) > 2 {
		parts = append([]string{head[len(head)-2:]}, parts...)
		head = head[:len(head)-2]
	}
	if head != "" {
		parts = append([]string{head}, parts...)
	}
	out := strings.Join(parts, ",") + "," + tail
	if neg {
		return "-" + out
	}
	return out
}
