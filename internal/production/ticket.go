package production

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/stitchline/stitchline/internal/shared"
	"github.com/stitchline/stitchline/web"
)

// TicketData is the view model of a printed work ticket.
type TicketData struct {
	Batch     Batch
	Items     []Item
	Location  string
	Operator  string
	TotalQty  int
	ScanURL   string
	PrintedAt time.Time
}

// TicketRenderer turns batches into printable HTML tickets.
type TicketRenderer struct {
	tpl     *template.Template
	scanURL string
}

// NewTicketRenderer parses the ticket template. scanBaseURL prefixes the scan token on the ticket.
func NewTicketRenderer(scanBaseURL string) (*TicketRenderer, error) {
	funcMap := template.FuncMap{
		"formatDatePtr": func(t *time.Time) string {
			if t == nil || t.IsZero() {
				return "-"
			}
			return t.Format("02 Jan 2006")
		},
		"formatDateTime": func(t time.Time) string {
			return t.Format("02 Jan 2006 15:04")
		},
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"shortID": func(id string) string {
			if len(id) > 8 {
				return id[:8]
			}
			return id
		},
		"personalization": func(v any) string {
			out, err := StableStringify(v)
			if err != nil {
				return ""
			}
			return out
		},
	}
	tpl, err := template.New("ticket.html").Funcs(funcMap).ParseFS(web.Templates, "templates/production/ticket.html")
	if err != nil {
		return nil, fmt.Errorf("parse ticket template: %w", err)
	}
	return &TicketRenderer{tpl: tpl, scanURL: strings.TrimRight(scanBaseURL, "/")}, nil
}

// Render executes the ticket template.
func (r *TicketRenderer) Render(detail BatchDetail, token ScanToken, printedAt time.Time) ([]byte, error) {
	if r == nil || r.tpl == nil {
		return nil, fmt.Errorf("ticket renderer not initialised")
	}
	data := TicketData{
		Batch:     detail.Batch,
		Items:     detail.Items,
		Location:  defaultLocation,
		ScanURL:   r.scanURL + "/scan/" + token.Token,
		PrintedAt: printedAt,
	}
	if len(detail.Items) > 0 {
		data.Location = detail.Items[0].Location
	}
	if detail.Assignment != nil {
		data.Operator = detail.Assignment.OperatorID
	}
	for _, item := range detail.Items {
		data.TotalQty += item.Qty
	}
	buf := &bytes.Buffer{}
	if err := r.tpl.Execute(buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderTicket renders the batch's ticket and records a TICKET_PRINTED event.
func (s *Service) RenderTicket(ctx context.Context, storeID, batchID, actorID string) ([]byte, error) {
	if s.tickets == nil {
		return nil, fmt.Errorf("production: ticket renderer not configured")
	}
	detail, err := s.GetBatch(ctx, storeID, batchID)
	if err != nil {
		return nil, err
	}
	token, err := s.EnsureScanToken(ctx, storeID, batchID)
	if err != nil {
		return nil, err
	}
	html, err := s.tickets.Render(detail, token, s.cfg.Now())
	if err != nil {
		return nil, fmt.Errorf("production: render ticket: %w", err)
	}
	if err := s.repo.InsertEvent(ctx, Event{
		BatchID: batchID,
		Type:    EventTicketPrinted,
		ActorID: actorID,
		Meta:    map[string]any{"token": token.Token},
	}); err != nil {
		return nil, err
	}
	return html, nil
}

// RenderTicketPDF renders the ticket and converts it to PDF.
func (s *Service) RenderTicketPDF(ctx context.Context, storeID, batchID, actorID string) ([]byte, error) {
	if s.pdf == nil {
		return nil, fmt.Errorf("production: pdf tickets not configured: %w", shared.ErrValidation)
	}
	html, err := s.RenderTicket(ctx, storeID, batchID, actorID)
	if err != nil {
		return nil, err
	}
	pdf, err := s.pdf.RenderHTML(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("production: convert ticket: %w", err)
	}
	return pdf, nil
}
