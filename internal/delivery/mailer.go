// Package delivery sends the finished poster by email through the backend.
package delivery

import (
	"context"
	"fmt"
	"strings"

	"posterstudio/internal/apiclient"
	"posterstudio/internal/domain"
	"posterstudio/internal/infra"
)

// SendEmailPath is the backend's delivery endpoint.
const SendEmailPath = "/api/send-email"

// Mailer builds and posts the Stage-3 email request. Retries are whatever
// the API client's default gives; nothing extra on top.
type Mailer struct {
	api   *apiclient.Client
	bases []string
	log   *infra.Logger
}

// NewMailer constructs a mailer over the configured backend bases.
func NewMailer(api *apiclient.Client, bases []string, log *infra.Logger) *Mailer {
	if log == nil {
		log = infra.DiscardLogger()
	}
	return &Mailer{api: api, bases: bases, log: log}
}

type emailRequest struct {
	Recipient  string          `json:"recipient"`
	Subject    string          `json:"subject"`
	Body       string          `json:"body"`
	Attachment domain.ImageRef `json:"attachment"`
}

// Subject derives the fixed-format email subject from the authored state.
func Subject(snap *domain.Stage1Snapshot) string {
	return fmt.Sprintf("%s（%s） %s 市场推广海报", snap.BrandName, snap.AgentName, snap.ProductName)
}

// Send posts the poster email. The attachment references the generated
// image by key or URL; inline preview bytes are stripped so the size gate
// never trips on a delivery request.
func (m *Mailer) Send(ctx context.Context, recipient string, snap *domain.Stage1Snapshot, result *domain.Stage2Result) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return fmt.Errorf("delivery: 请填写收件人邮箱")
	}
	if result == nil {
		return fmt.Errorf("delivery: 请先生成海报")
	}
	attachment := result.PosterImage
	attachment.PreviewURL = ""

	body := result.EmailBody
	if body == "" {
		body = fmt.Sprintf("您好，附件是 %s 的 %s 推广海报，请查收。", snap.BrandName, snap.ProductName)
	}
	req := emailRequest{
		Recipient:  recipient,
		Subject:    Subject(snap),
		Body:       body,
		Attachment: attachment,
	}
	resp, err := m.api.PostJSONWithRetry(ctx, m.bases, SendEmailPath, req, apiclient.DefaultRetry, nil)
	if err != nil {
		return fmt.Errorf("delivery: send email: %w", err)
	}
	m.log.Info().Str("base", resp.Base).Str("recipient", recipient).Msg("delivery: email accepted")
	return nil
}
